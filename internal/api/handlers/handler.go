// handler.go — основной обработчик API Test Assistant.
// Объединяет health, auth, генерации и проекты, делегируя запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/anhhtv56/test-assistant/internal/api/errors"
	"github.com/anhhtv56/test-assistant/internal/api/middleware"
	"github.com/anhhtv56/test-assistant/internal/service"
)

// APIHandler — основной обработчик API.
type APIHandler struct {
	health      *HealthHandler
	auth        *service.AuthService
	generations *service.GenerationService
	projects    *service.ProjectRegistry
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	auth *service.AuthService,
	generations *service.GenerationService,
	projects *service.ProjectRegistry,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:      health,
		auth:        auth,
		generations: generations,
		projects:    projects,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// ServerStatus — GET /serverStatus (делегируется в HealthHandler).
func (h *APIHandler) ServerStatus(w http.ResponseWriter, r *http.Request) {
	h.health.ServerStatus(w, r)
}

// --- Вспомогательные функции ---

// requester возвращает email аутентифицированного пользователя.
// Пишет 401 и возвращает false, если claims отсутствуют.
func requester(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || claims.Email == "" {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return "", false
	}
	return claims.Email, true
}

// decodeJSON разбирает тело запроса. При ошибке пишет 400 (или 413) и возвращает false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, "Тело запроса превышает допустимый размер")
			return false
		}
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// pagination читает limit и offset из query. Отсутствующие параметры — 0.
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &limit}, {"offset", &offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			apierrors.ValidationError(w, "Параметр "+p.name+" должен быть целым числом")
			return 0, 0, false
		}
		*p.dst = v
	}
	return limit, offset, true
}

// writeServiceError сопоставляет ошибку сервисного слоя HTTP-ответу.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, msg)
	case errors.Is(err, service.ErrNotCompleted):
		apierrors.NotCompleted(w, msg)
	case errors.Is(err, service.ErrNotReady):
		apierrors.NotReady(w, msg)
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrUpstreamNotFound):
		apierrors.NotFound(w, msg)
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, msg)
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, msg)
	case errors.Is(err, service.ErrUnauthorized), errors.Is(err, service.ErrUpstreamAuth):
		apierrors.Unauthorized(w, msg)
	case errors.Is(err, service.ErrUpstream), errors.Is(err, service.ErrGenerationFailed):
		apierrors.UpstreamError(w, msg)
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", msg),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
