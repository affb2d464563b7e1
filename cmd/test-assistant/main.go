// Точка входа Test Assistant — генерация тест-кейсов по задачам Jira.
// Команды: serve (HTTP API), migrate (применить миграции и выйти), version.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anhhtv56/test-assistant/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "test-assistant",
		Short:         "Генерация тест-кейсов по задачам Jira с помощью LLM",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// Отсутствующий .env не является ошибкой
			return config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "путь к .env-файлу")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.Version)
		},
	}
}
