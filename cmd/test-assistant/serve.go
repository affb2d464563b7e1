package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/anhhtv56/test-assistant/internal/api/handlers"
	"github.com/anhhtv56/test-assistant/internal/api/middleware"
	"github.com/anhhtv56/test-assistant/internal/config"
	"github.com/anhhtv56/test-assistant/internal/generator"
	"github.com/anhhtv56/test-assistant/internal/server"
	"github.com/anhhtv56/test-assistant/internal/service"
	"github.com/anhhtv56/test-assistant/internal/tracker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP API",
		Run: func(cmd *cobra.Command, _ []string) {
			serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	// 1. Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Запуск Test Assistant",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store", cfg.StoreDriver),
		slog.String("llm_provider", cfg.LLMProvider),
	)

	// 3. Хранилище записей (миграции + подключение)
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.close()

	// 4. Клиент Jira (с кэшем задач при TA_JIRA_CACHE_TTL > 0)
	var issues tracker.Fetcher = tracker.New(cfg.JiraURL, cfg.JiraEmail, cfg.JiraAPIToken, cfg.JiraTimeout, logger)
	if cfg.JiraCacheTTL > 0 {
		issues = tracker.NewCachedFetcher(issues, cfg.JiraCacheSize, cfg.JiraCacheTTL)
		logger.Info("Кэш задач Jira включён",
			slog.Int("size", cfg.JiraCacheSize),
			slog.Duration("ttl", cfg.JiraCacheTTL),
		)
	}

	// 5. LLM-генератор
	chat, err := generator.NewChatModel(ctx, generator.ProviderConfig{
		Provider:    cfg.LLMProvider,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		BaseURL:     cfg.LLMBaseURL,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: float32(cfg.LLMTemperature),
	})
	if err != nil {
		logger.Error("Ошибка инициализации LLM-провайдера", slog.String("error", err.Error()))
		os.Exit(1)
	}
	gen, err := generator.New(chat, generator.Options{
		Provider:        cfg.LLMProvider,
		Model:           cfg.LLMModel,
		MaxAttempts:     cfg.LLMMaxAttempts,
		RetryDelay:      cfg.LLMRetryDelay,
		AttemptTimeout:  cfg.LLMTimeout,
		MaxOutputTokens: cfg.LLMMaxTokens,
	}, nil, logger)
	if err != nil {
		logger.Error("Ошибка загрузки таблицы тарифов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Сервисы
	projects := service.NewProjectRegistry(st.projects, logger)
	generations := service.NewGenerationService(st.generations, projects, issues, gen, logger)
	auth := service.NewAuthService(st.users, service.AuthConfig{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.JWTRefreshTTL,
	}, logger)

	// 7. topologymetrics — мониторинг PostgreSQL и Jira
	var deps handlers.DependencyHealth
	dh, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "test-assistant",
		Group:         cfg.DephealthGroup,
		DB:            st.sqlDB,
		PostgresURL:   cfg.DatabaseURL(),
		JiraURL:       cfg.JiraURL,
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
	}, logger)
	if err != nil {
		// Мониторинг зависимостей не критичен для работы API
		logger.Warn("Ошибка инициализации topologymetrics", slog.String("error", err.Error()))
	} else {
		if err := dh.Start(ctx); err != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		} else {
			defer dh.Stop()
			deps = dh
		}
	}

	// 8. HTTP-обработчики
	healthHandler := handlers.NewHealthHandler(st.checker, deps)
	apiHandler := handlers.NewAPIHandler(healthHandler, auth, generations, projects, logger)

	// 9. JWT middleware: JWKS внешнего IdP либо собственные HS256-токены
	var jwtAuth *middleware.JWTAuth
	if cfg.JWTJWKSURL != "" {
		jwtAuth, err = middleware.NewJWKSAuth(cfg.JWTJWKSURL, cfg.JWTIssuer, 10*time.Second, time.Hour, cfg.JWTLeeway, logger)
		if err != nil {
			logger.Error("Ошибка инициализации JWKS", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("JWT проверяются по JWKS", slog.String("jwks_url", cfg.JWTJWKSURL))
	} else {
		jwtAuth = middleware.NewJWTAuth([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTLeeway, logger)
	}

	// 10. Запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth.Middleware(),
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
	}

	// Дожидаемся фоновых пересчётов счётчиков проектов
	generations.Wait()
	logger.Info("Test Assistant остановлен")
}
