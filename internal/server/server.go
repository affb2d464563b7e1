// Пакет server — HTTP-сервер Test Assistant с graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/anhhtv56/test-assistant/internal/api/handlers"
	"github.com/anhhtv56/test-assistant/internal/config"
)

// MaxBodyBytes — максимальный размер тела запроса.
const MaxBodyBytes = 10 << 20

// Таймауты HTTP-сервера. WriteTimeout не задан: создание генерации
// держит запрос до ответа модели.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	idleTimeout       = 120 * time.Second
)

// Server — HTTP-сервер Test Assistant.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// auth — JWT middleware для защищённых маршрутов.
// middlewares — дополнительные middleware (metrics, logging), добавляются в порядке переданного среза.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	handler *handlers.APIHandler,
	auth func(http.Handler) http.Handler,
	middlewares ...func(http.Handler) http.Handler,
) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewRouter(cfg, handler, auth, middlewares...),
			ReadHeaderTimeout: readHeaderTimeout,
			ReadTimeout:       readTimeout,
			IdleTimeout:       idleTimeout,
		},
		logger: logger,
		cfg:    cfg,
	}
}

// NewRouter собирает маршруты API.
func NewRouter(
	cfg *config.Config,
	handler *handlers.APIHandler,
	auth func(http.Handler) http.Handler,
	middlewares ...func(http.Handler) http.Handler,
) http.Handler {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Use(chimw.RequestSize(MaxBodyBytes))
	for _, mw := range middlewares {
		router.Use(mw)
	}

	// Публичные маршруты
	router.Get("/serverStatus", handler.ServerStatus)
	router.Get("/health/live", handler.HealthLive)
	router.Get("/health/ready", handler.HealthReady)
	router.Get("/metrics", handler.GetMetrics)

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", handler.Register)
		r.Post("/login", handler.Login)
		r.Post("/refresh", handler.Refresh)
	})

	// Маршруты с JWT-аутентификацией
	router.Group(func(r chi.Router) {
		r.Use(auth)

		r.Route("/generations", func(r chi.Router) {
			r.Get("/", handler.ListMyGenerations)
			r.Get("/published", handler.ListPublishedGenerations)
			r.Post("/prelight", handler.Prelight)
			r.Post("/testcases", handler.CreateTestCases)
			r.Get("/{id}/view", handler.ViewGeneration)
			r.Put("/{id}/update", handler.UpdateGeneration)
			r.Put("/{id}/publish", handler.PublishGeneration)
			r.Get("/{id}/download", handler.DownloadGeneration)
		})
		r.Get("/projects", handler.ListProjects)
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
