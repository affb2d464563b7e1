// Пакет sqlite — встраиваемое хранилище Test Assistant на gorm + SQLite.
// Реализует те же интерфейсы, что и repository для PostgreSQL;
// используется при TA_STORE_DRIVER=sqlite (локальный запуск, тесты).
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/anhhtv56/test-assistant/internal/repository"
)

// Open открывает (или создаёт) файл SQLite и применяет автомиграции.
func Open(path string, log *slog.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)

	gormLogger := logger.New(
		slogWriter{logger: log.With(slog.String("component", "gorm"))},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite: %w", err)
	}

	// Одно соединение: SQLite не допускает параллельной записи
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("ошибка получения sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.AutoMigrate(&userRow{}, &projectRow{}, &generationRow{}); err != nil {
		return nil, fmt.Errorf("ошибка автомиграции SQLite: %w", err)
	}

	log.Info("SQLite хранилище открыто", slog.String("path", path))
	return db, nil
}

// Close закрывает соединение с базой.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogWriter передаёт сообщения gorm в slog.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	w.logger.Warn(fmt.Sprintf(format, args...))
}

// translate приводит ошибки gorm к ошибкам слоя репозиториев.
func translate(err error, op string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repository.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s", repository.ErrConflict, op)
	default:
		return fmt.Errorf("ошибка %s: %w", op, err)
	}
}

// ReadinessChecker — проверка готовности SQLite для health endpoint.
type ReadinessChecker struct {
	db *gorm.DB
}

// NewReadinessChecker создаёт проверку готовности SQLite.
func NewReadinessChecker(db *gorm.DB) *ReadinessChecker {
	return &ReadinessChecker{db: db}
}

// CheckReady выполняет ping базы.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sqlDB, err := c.db.DB()
	if err != nil {
		return "fail", fmt.Sprintf("SQLite недоступен: %v", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return "fail", fmt.Sprintf("SQLite недоступен: %v", err)
	}
	return "ok", "подключение активно"
}
