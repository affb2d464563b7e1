package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/anhhtv56/test-assistant/internal/config"
	"github.com/anhhtv56/test-assistant/internal/database"
	"github.com/anhhtv56/test-assistant/internal/repository/sqlite"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции хранилища и выйти",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := config.SetupLogger(cfg)

			if cfg.StoreDriver == config.StoreDriverSQLite {
				// Для SQLite схема создаётся автомиграцией при открытии
				db, err := sqlite.Open(cfg.SQLitePath, logger)
				if err != nil {
					return err
				}
				return sqlite.Close(db)
			}

			version, err := database.Migrate(cfg, logger)
			if err != nil {
				logger.Error("Ошибка миграции", slog.String("error", err.Error()))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "схема PostgreSQL: версия %d\n", version)
			return nil
		},
	}
}
