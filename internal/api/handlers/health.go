// health.go — обработчики health endpoints Test Assistant.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (хранилище доступно)
// /serverStatus — статус сервиса для UI
// /metrics — Prometheus метрики
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anhhtv56/test-assistant/internal/config"
)

// serviceName — имя сервиса в ответах health endpoints.
const serviceName = "test-assistant"

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status, message string)
}

// DependencyHealth — состояние зависимостей из dephealth.
type DependencyHealth interface {
	Health() map[string]bool
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	storeChecker ReadinessChecker
	deps         DependencyHealth
	promHandler  http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// storeChecker — проверка хранилища (может быть nil — readiness вернёт "fail").
// deps — состояние внешних зависимостей (может быть nil).
func NewHealthHandler(storeChecker ReadinessChecker, deps DependencyHealth) *HealthHandler {
	return &HealthHandler{
		storeChecker: storeChecker,
		deps:         deps,
		promHandler:  promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe и /serverStatus.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Checks    struct {
		Store        healthCheckResult `json:"store"`
		Dependencies map[string]bool   `json:"dependencies,omitempty"`
	} `json:"checks"`
}

func liveResponse() healthLiveResponse {
	return healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeRaw(w, http.StatusOK, liveResponse())
}

// ServerStatus — статус сервиса: {status, timestamp, version, service}.
func (h *HealthHandler) ServerStatus(w http.ResponseWriter, _ *http.Request) {
	writeRaw(w, http.StatusOK, liveResponse())
}

// HealthReady — readiness probe. Проверяет хранилище.
// Возвращает 200 (ok/degraded) или 503 (fail).
// Состояние внешних зависимостей информативно и на итог не влияет.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}

	if h.storeChecker != nil {
		status, msg := h.storeChecker.CheckReady()
		resp.Checks.Store = healthCheckResult{Status: status, Message: msg}
	} else {
		resp.Checks.Store = healthCheckResult{Status: statusFail, Message: "не инициализировано"}
	}
	if h.deps != nil {
		resp.Checks.Dependencies = h.deps.Health()
	}

	resp.Status = overallStatus(resp.Checks.Store.Status)

	status := http.StatusOK
	if resp.Status == statusFail {
		status = http.StatusServiceUnavailable
	}
	writeRaw(w, status, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// Константы статусов health check.
const statusFail = "fail"

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail — итог fail.
// Если хотя бы одна degraded — итог degraded.
// Иначе — ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == "degraded" {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return "degraded"
	}
	return "ok"
}

// writeRaw записывает JSON без конверта (health endpoints).
func writeRaw(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
