package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/anhhtv56/test-assistant/internal/api/handlers"
	"github.com/anhhtv56/test-assistant/internal/config"
	"github.com/anhhtv56/test-assistant/internal/database"
	"github.com/anhhtv56/test-assistant/internal/repository"
	"github.com/anhhtv56/test-assistant/internal/repository/sqlite"
)

// store — репозитории выбранного драйвера и связанные ресурсы.
type store struct {
	generations repository.GenerationRepository
	projects    repository.ProjectRepository
	users       repository.UserRepository
	checker     handlers.ReadinessChecker

	// sqlDB — *sql.DB поверх pgxpool для topologymetrics; nil для SQLite
	sqlDB *sql.DB
	close func()
}

// openStore применяет миграции и открывает хранилище по TA_STORE_DRIVER.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return &store{
			generations: sqlite.NewGenerationRepository(db),
			projects:    sqlite.NewProjectRepository(db),
			users:       sqlite.NewUserRepository(db),
			checker:     sqlite.NewReadinessChecker(db),
			close: func() {
				if err := sqlite.Close(db); err != nil {
					logger.Warn("Ошибка закрытия SQLite", slog.String("error", err.Error()))
				}
			},
		}, nil

	case config.StoreDriverPostgres:
		if _, err := database.Migrate(cfg, logger); err != nil {
			return nil, err
		}
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		sqlDB := stdlib.OpenDBFromPool(pool)
		return &store{
			generations: repository.NewGenerationRepository(pool),
			projects:    repository.NewProjectRepository(pool),
			users:       repository.NewUserRepository(pool),
			checker:     database.NewReadinessChecker(pool),
			sqlDB:       sqlDB,
			close: func() {
				_ = sqlDB.Close()
				pool.Close()
			},
		}, nil

	default:
		return nil, fmt.Errorf("неизвестный драйвер хранилища: %q", cfg.StoreDriver)
	}
}
