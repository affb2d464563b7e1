// Пакет database — PostgreSQL-хранилище Test Assistant: пул pgxpool с
// лимитами из TA_DB_*, встроенные миграции схемы users/projects/generations
// и проверка готовности для /health/ready.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anhhtv56/test-assistant/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// applicationName — имя клиента в pg_stat_activity
	applicationName = "test-assistant"
	// migrationsTable — таблица версий схемы golang-migrate
	migrationsTable = "ta_schema_migrations"

	pingTimeout       = 5 * time.Second
	healthCheckPeriod = 30 * time.Second
)

// PoolConfig собирает конфигурацию пула из параметров TA_DB_*.
func PoolConfig(cfg *config.Config) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DBMaxConns)
	}
	poolCfg.MinConns = int32(cfg.DBMinConns)
	if cfg.DBConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.DBConnMaxLifetime
	}
	poolCfg.HealthCheckPeriod = healthCheckPeriod
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	return poolCfg, nil
}

// Connect создаёт пул подключений и проверяет доступность базы.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL %s:%d: %w", cfg.DBHost, cfg.DBPort, err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
		slog.Int("min_conns", int(poolCfg.MinConns)),
	)
	return pool, nil
}

// MigrateURL возвращает URL для golang-migrate: схема pgx5:// и
// собственная таблица версий, не пересекающаяся с другими сервисами в той же базе.
func MigrateURL(cfg *config.Config) string {
	u := "pgx5://" + strings.TrimPrefix(cfg.DatabaseURL(), "postgres://")
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "x-migrations-table=" + url.QueryEscape(migrationsTable)
}

// Migrate применяет встроенные миграции и возвращает текущую версию схемы.
// Схема в состоянии dirty (прерванная миграция) — ошибка: требуется ручное вмешательство.
func Migrate(cfg *config.Config, logger *slog.Logger) (uint, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, MigrateURL(cfg))
	if err != nil {
		return 0, fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("ошибка чтения версии схемы: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("схема в состоянии dirty на версии %d", version)
	}

	logger.Info("Схема Test Assistant актуальна",
		slog.Uint64("version", uint64(version)),
		slog.String("table", migrationsTable),
	)
	return version, nil
}

// ReadinessChecker — готовность PostgreSQL для /health/ready.
// Реализует интерфейс handlers.ReadinessChecker.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady выполняет ping и оценивает загрузку пула.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	stat := c.pool.Stat()
	return poolStatus(stat.AcquiredConns(), stat.MaxConns())
}

// poolStatus: все соединения пула заняты — degraded (запросы ждут в очереди).
func poolStatus(acquired, maxConns int32) (string, string) {
	if maxConns > 0 && acquired >= maxConns {
		return "degraded", fmt.Sprintf("пул исчерпан: занято %d из %d соединений", acquired, maxConns)
	}
	return "ok", fmt.Sprintf("подключение активно, занято %d из %d соединений", acquired, maxConns)
}
