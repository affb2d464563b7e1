// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Test Assistant мониторит:
//   - PostgreSQL — SQL checker через существующий pgxpool (только для TA_STORE_DRIVER=postgres)
//   - Jira — HTTP checker к /status инстанса
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками.
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// jiraHealthPath — endpoint состояния Jira Cloud.
const jiraHealthPath = "/status"

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа текущего приложения
	ServiceID string
	// Group — имя группы в метриках (TA_DEPHEALTH_GROUP)
	Group string
	// DB — *sql.DB из pgxpool (stdlib.OpenDBFromPool); nil — PostgreSQL не мониторится
	DB *sql.DB
	// PostgresURL — URL PostgreSQL для лейблов метрик
	PostgresURL string
	// JiraURL — базовый URL Jira
	JiraURL string
	// CheckInterval — интервал проверок (TA_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// IsEntry — добавить лейбл isentry=yes ко всем зависимостям
	IsEntry bool
	// Registerer — Prometheus registerer (nil — глобальный)
	Registerer prometheus.Registerer
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	common := []dephealth.DependencyOption{
		dephealth.CheckInterval(cfg.CheckInterval),
		dephealth.Critical(true),
	}
	if cfg.IsEntry {
		common = append(common, dephealth.WithLabel("isentry", "yes"))
	}

	opts := []dephealth.Option{dephealth.WithLogger(logger)}

	if cfg.DB != nil {
		pgOpts := append([]dephealth.DependencyOption{dephealth.FromURL(cfg.PostgresURL)}, common...)
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)), pgOpts...))
	}

	jiraOpts := append([]dephealth.DependencyOption{
		dephealth.FromURL(cfg.JiraURL),
		dephealth.WithHTTPHealthPath(jiraHealthPath),
	}, common...)
	if parsed, err := url.Parse(cfg.JiraURL); err == nil && parsed.Scheme == "https" {
		jiraOpts = append(jiraOpts, dephealth.WithHTTPTLSSkipVerify(false))
	}
	opts = append(opts, dephealth.HTTP("jira", jiraOpts...))

	if cfg.Registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(cfg.Registerer))
	}

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
