// generations.go — жизненный цикл генерации тест-кейсов:
// создание (трекер → модель → сохранение), просмотр, правка с версиями,
// публикация и скачивание.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/anhhtv56/test-assistant/internal/domain/access"
	"github.com/anhhtv56/test-assistant/internal/domain/model"
	"github.com/anhhtv56/test-assistant/internal/generator"
	"github.com/anhhtv56/test-assistant/internal/repository"
	"github.com/anhhtv56/test-assistant/internal/tracker"
)

// Prometheus-метрики генераций.
var (
	generationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "test_assistant_generations_total",
		Help: "Количество генераций по режиму и итоговому статусу.",
	}, []string{"mode", "status"})
	generationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_assistant_generation_duration_seconds",
		Help:    "Длительность успешной генерации (трекер + модель).",
		Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
	})
	generationCostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "test_assistant_generation_cost_usd_total",
		Help: "Суммарная стоимость вызовов модели, USD.",
	})
)

// imageTokenEstimate — оценка токенов на одно изображение во вложениях.
const imageTokenEstimate = 200

// defaultFilename — имя файла, если у результата нет собственного.
const defaultFilename = "output.md"

// ContentGenerator — генератор тест-кейсов.
type ContentGenerator interface {
	Generate(ctx context.Context, issueContext, issueKey string, mode model.Mode) (*generator.Result, error)
	EstimateCost(promptTokens, completionTokens int) float64
	MaxOutputTokens() int
}

// CreateRequest — параметры создания генерации.
type CreateRequest struct {
	IssueKey string
	// Mode — manual (по умолчанию) или auto
	Mode string
}

// UpdateRequest — параметры правки содержимого.
type UpdateRequest struct {
	// Content — новое содержимое (nil — не передано)
	Content *string
	// ExpectedVersion — версия, которую видел клиент (nil — без проверки)
	ExpectedVersion *int
	// Notes — комментарий к снимку версии
	Notes *string
}

// UpdateResult — результат правки.
type UpdateResult struct {
	Content        string
	CurrentVersion int
}

// PublishResult — состояние публикации после изменения.
type PublishResult struct {
	Published   bool
	PublishedAt *time.Time
	PublishedBy *string
}

// DownloadResult — файл для скачивания.
type DownloadResult struct {
	Filename string
	Content  string
}

// ViewProjection — представление генерации для просмотра.
type ViewProjection struct {
	ID             string
	Email          string
	Content        string
	Filename       string
	Format         string
	IssueKey       string
	ProjectKey     string
	Mode           model.Mode
	Status         model.Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Published      bool
	PublishedAt    *time.Time
	PublishedBy    *string
	CurrentVersion int
	Versions       []model.Version
	LastUpdatedBy  string
	LastUpdatedAt  time.Time
}

// Estimate — предварительная оценка генерации по задаче.
type Estimate struct {
	IssueKey         string
	Title            string
	Description      string
	IssueType        string
	Attachments      int
	ImageAttachments int
	EstimatedTokens  float64
	EstimatedCost    float64
}

// GenerationList — страница списка генераций.
type GenerationList struct {
	Items  []*model.Generation
	Total  int
	Limit  int
	Offset int
}

// GenerationService — движок жизненного цикла генераций.
type GenerationService struct {
	generations repository.GenerationRepository
	projects    *ProjectRegistry
	tracker     tracker.Fetcher
	generator   ContentGenerator
	logger      *slog.Logger

	now   func() time.Time
	newID func() string

	// advisory — фоновые вспомогательные операции (пересчёт счётчиков проекта)
	advisory sync.WaitGroup
}

// NewGenerationService создаёт сервис генераций.
func NewGenerationService(
	generations repository.GenerationRepository,
	projects *ProjectRegistry,
	issues tracker.Fetcher,
	gen ContentGenerator,
	logger *slog.Logger,
) *GenerationService {
	return &GenerationService{
		generations: generations,
		projects:    projects,
		tracker:     issues,
		generator:   gen,
		logger:      logger.With(slog.String("component", "generation_service")),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// Wait ожидает завершения фоновых вспомогательных операций.
func (s *GenerationService) Wait() {
	s.advisory.Wait()
}

// advise запускает вспомогательную операцию в фоне.
// Ошибка операции только логируется.
func (s *GenerationService) advise(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	s.advisory.Add(1)
	go func() {
		defer s.advisory.Done()
		if err := fn(ctx); err != nil {
			s.logger.Warn("Вспомогательная операция не выполнена",
				slog.String("operation", name),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Create создаёт генерацию: сохраняет запись in_progress, получает задачу
// из трекера, вызывает модель и сохраняет итог (completed или failed).
func (s *GenerationService) Create(ctx context.Context, req CreateRequest, requester string) (*model.Generation, error) {
	issueKey := strings.TrimSpace(req.IssueKey)
	if issueKey == "" {
		return nil, fmt.Errorf("%w: issueKey обязателен", ErrValidation)
	}
	mode, err := model.ParseMode(req.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	// Привязка к проекту не обязательна: ошибка не прерывает генерацию
	var projectID *string
	if projectKey := model.ExtractProjectKey(issueKey); projectKey != "" {
		p, err := s.projects.FindOrCreate(ctx, projectKey, requester)
		if err != nil {
			s.logger.Warn("Не удалось получить или создать проект",
				slog.String("project_key", projectKey),
				slog.String("error", err.Error()),
			)
		} else {
			projectID = &p.ID
		}
	}

	g := model.NewGeneration(s.newID(), issueKey, requester, mode, projectID, s.now())
	if err := s.generations.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("сохранение генерации: %w", err)
	}
	s.logger.Info("Генерация создана",
		slog.String("id", g.ID),
		slog.String("issue_key", issueKey),
		slog.String("mode", string(mode)),
	)

	if projectID != nil {
		id := *projectID
		s.advise(ctx, "refresh_project_totals", func(ctx context.Context) error {
			return s.projects.RefreshTotals(ctx, id)
		})
	}

	issue, err := s.tracker.FetchIssue(ctx, issueKey)
	if err != nil {
		s.fail(ctx, g, err.Error())
		return nil, classifyTrackerError(err)
	}

	issueContext := fmt.Sprintf("Title: %s Description: %s", issue.Summary, issue.Description)
	res, err := s.generator.Generate(ctx, issueContext, issueKey, mode)
	if err != nil {
		s.fail(ctx, g, "generation failed: "+err.Error())
		return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, err.Error())
	}

	expected := g.CurrentVersion
	done := s.now()
	content := model.EnsureHeading(res.Content, issueKey, issue.Summary)
	g.JiraTickets = []model.JiraTicket{{IssueURL: issue.URL, IssueType: issue.IssueType, CreatedAt: done}}
	if err := g.Complete(content, res.TokenUsage, res.Cost, done); err != nil {
		return nil, fmt.Errorf("завершение генерации: %w", err)
	}
	if err := s.generations.Update(ctx, g, expected); err != nil {
		return nil, fmt.Errorf("сохранение результата генерации: %w", err)
	}

	generationsTotal.WithLabelValues(string(mode), string(model.StatusCompleted)).Inc()
	generationDuration.Observe(*g.GenerationTimeSeconds)
	generationCostTotal.Add(res.Cost)

	s.logger.Info("Генерация завершена",
		slog.String("id", g.ID),
		slog.String("issue_key", issueKey),
		slog.Float64("seconds", *g.GenerationTimeSeconds),
		slog.Int("total_tokens", res.TokenUsage.TotalTokens),
		slog.Float64("cost", res.Cost),
	)
	return g, nil
}

// fail переводит генерацию в failed и сохраняет причину.
// Сохранение выполняется даже при отменённом контексте запроса.
func (s *GenerationService) fail(ctx context.Context, g *model.Generation, reason string) {
	expected := g.CurrentVersion
	if err := g.Fail(reason, s.now()); err != nil {
		s.logger.Error("Недопустимый переход в failed",
			slog.String("id", g.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	generationsTotal.WithLabelValues(string(g.Mode), string(model.StatusFailed)).Inc()

	if err := s.generations.Update(context.WithoutCancel(ctx), g, expected); err != nil {
		s.logger.Error("Не удалось сохранить неудачную генерацию",
			slog.String("id", g.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Warn("Генерация завершилась ошибкой",
		slog.String("id", g.ID),
		slog.String("issue_key", g.IssueKey),
		slog.String("reason", reason),
	)
}

// classifyTrackerError сопоставляет ошибку трекера ошибке сервиса.
// Подстрока «not found» имеет приоритет над классом ошибки.
func classifyTrackerError(err error) error {
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "not found") {
		return fmt.Errorf("%w: %s", ErrUpstreamNotFound, msg)
	}
	switch tracker.ClassOf(err) {
	case tracker.ErrAuth:
		return fmt.Errorf("%w: %s", ErrUpstreamAuth, msg)
	case tracker.ErrNotFound:
		return fmt.Errorf("%w: %s", ErrUpstreamNotFound, msg)
	default:
		return fmt.Errorf("%w: %s", ErrUpstream, msg)
	}
}

// get загружает генерацию по ID. Некорректный UUID трактуется как отсутствие записи.
func (s *GenerationService) get(ctx context.Context, id string) (*model.Generation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: генерация %s", ErrNotFound, id)
	}
	g, err := s.generations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: генерация %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("получение генерации: %w", err)
	}
	return g, nil
}

// View возвращает генерацию для просмотра владельцем или, если она
// опубликована и завершена, любым пользователем.
func (s *GenerationService) View(ctx context.Context, id, requester string) (*ViewProjection, error) {
	g, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.CanView(g, requester) {
		return nil, fmt.Errorf("%w: генерация %s", ErrForbidden, id)
	}
	return newViewProjection(g), nil
}

func newViewProjection(g *model.Generation) *ViewProjection {
	v := &ViewProjection{
		ID:             g.ID,
		Email:          g.OwnerEmail,
		Content:        g.Content(),
		Filename:       defaultFilename,
		Format:         "markdown",
		IssueKey:       g.IssueKey,
		ProjectKey:     model.ExtractProjectKey(g.IssueKey),
		Mode:           g.Mode,
		Status:         g.Status,
		CreatedAt:      g.CreatedAt,
		UpdatedAt:      g.UpdatedAt,
		Published:      g.Published,
		PublishedAt:    g.PublishedAt,
		PublishedBy:    g.PublishedBy,
		CurrentVersion: g.CurrentVersion,
		Versions:       g.Versions,
		LastUpdatedBy:  g.OwnerEmail,
		LastUpdatedAt:  g.UpdatedAt,
	}
	if g.Result != nil && g.Result.Filename != "" {
		v.Filename = g.Result.Filename
	}
	if v.CurrentVersion < 1 {
		v.CurrentVersion = 1
	}
	if v.Versions == nil {
		v.Versions = []model.Version{}
	}
	if latest := g.LatestVersion(); latest != nil {
		v.LastUpdatedBy = latest.UpdatedBy
		v.LastUpdatedAt = latest.UpdatedAt
	}
	return v
}

// Update заменяет содержимое завершённой генерации владельца.
// Перед перезаписью прежнее содержимое сохраняется в истории версий.
func (s *GenerationService) Update(ctx context.Context, id, requester string, req UpdateRequest) (*UpdateResult, error) {
	if req.Content == nil {
		return nil, fmt.Errorf("%w: content должен быть строкой", ErrValidation)
	}
	g, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkMutable(g, requester); err != nil {
		return nil, err
	}

	expected := g.CurrentVersion
	if req.ExpectedVersion != nil && *req.ExpectedVersion != expected {
		return nil, fmt.Errorf("%w: текущая версия %d, ожидалась %d", ErrConflict, expected, *req.ExpectedVersion)
	}

	changed := g.ApplyEdit(*req.Content, requester, req.Notes, s.now())
	if err := s.save(ctx, g, expected); err != nil {
		return nil, err
	}

	if changed {
		s.logger.Info("Содержимое генерации обновлено",
			slog.String("id", g.ID),
			slog.Int("version", g.CurrentVersion),
			slog.String("editor", requester),
		)
	}
	return &UpdateResult{Content: g.Content(), CurrentVersion: g.CurrentVersion}, nil
}

// Publish публикует или снимает с публикации завершённую генерацию владельца.
func (s *GenerationService) Publish(ctx context.Context, id, requester string, published *bool) (*PublishResult, error) {
	if published == nil {
		return nil, fmt.Errorf("%w: published должен быть boolean", ErrValidation)
	}
	g, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkMutable(g, requester); err != nil {
		return nil, err
	}

	expected := g.CurrentVersion
	g.SetPublished(*published, requester, s.now())
	if err := s.save(ctx, g, expected); err != nil {
		return nil, err
	}

	s.logger.Info("Публикация генерации изменена",
		slog.String("id", g.ID),
		slog.Bool("published", g.Published),
		slog.String("by", requester),
	)
	return &PublishResult{Published: g.Published, PublishedAt: g.PublishedAt, PublishedBy: g.PublishedBy}, nil
}

// Download возвращает файл генерации. Недоступная запись неотличима от отсутствующей.
func (s *GenerationService) Download(ctx context.Context, id, requester string) (*DownloadResult, error) {
	g, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.CanView(g, requester) {
		return nil, fmt.Errorf("%w: генерация %s", ErrNotFound, id)
	}
	if g.Status != model.StatusCompleted {
		return nil, fmt.Errorf("%w: статус %s", ErrNotReady, g.Status)
	}

	filename := defaultFilename
	if g.Result != nil && g.Result.Filename != "" {
		filename = g.Result.Filename
	}
	return &DownloadResult{Filename: filename, Content: g.Content()}, nil
}

// Prelight оценивает объём и стоимость генерации без вызова модели.
func (s *GenerationService) Prelight(ctx context.Context, issueKey string) (*Estimate, error) {
	issueKey = strings.TrimSpace(issueKey)
	if issueKey == "" {
		return nil, fmt.Errorf("%w: issueKey обязателен", ErrValidation)
	}

	issue, err := s.tracker.FetchIssue(ctx, issueKey)
	if err != nil {
		return nil, classifyTrackerError(err)
	}

	text := issue.Summary + " " + issue.Description
	images := issue.ImageAttachments()
	tokens := float64(utf8.RuneCountInString(text))/4 + float64(images*imageTokenEstimate)
	cost := s.generator.EstimateCost(int(math.Ceil(tokens)), s.generator.MaxOutputTokens())

	title := issue.Summary
	if title == "" {
		title = "NA"
	}
	return &Estimate{
		IssueKey:         issueKey,
		Title:            title,
		Description:      issue.Description,
		IssueType:        issue.IssueType,
		Attachments:      len(issue.Attachments),
		ImageAttachments: images,
		EstimatedTokens:  tokens,
		EstimatedCost:    math.Round(cost*1e4) / 1e4,
	}, nil
}

// ListMine возвращает генерации запрашивающего (новые первыми).
func (s *GenerationService) ListMine(ctx context.Context, requester string, limit, offset int) (*GenerationList, error) {
	return s.list(ctx, repository.GenerationFilters{OwnerEmail: &requester}, limit, offset)
}

// ListPublished возвращает опубликованные завершённые генерации всех пользователей.
func (s *GenerationService) ListPublished(ctx context.Context, limit, offset int) (*GenerationList, error) {
	return s.list(ctx, repository.GenerationFilters{PublishedOnly: true}, limit, offset)
}

func (s *GenerationService) list(ctx context.Context, filters repository.GenerationFilters, limit, offset int) (*GenerationList, error) {
	limit, offset, err := normalizePage(limit, offset)
	if err != nil {
		return nil, err
	}
	items, err := s.generations.List(ctx, filters, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("список генераций: %w", err)
	}
	total, err := s.generations.Count(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("подсчёт генераций: %w", err)
	}
	if items == nil {
		items = []*model.Generation{}
	}
	return &GenerationList{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// save сохраняет генерацию с проверкой версии.
func (s *GenerationService) save(ctx context.Context, g *model.Generation, expected int) error {
	err := s.generations.Update(ctx, g, expected)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: генерация %s изменена параллельно", ErrConflict, g.ID)
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: генерация %s", ErrNotFound, g.ID)
	default:
		return fmt.Errorf("сохранение генерации: %w", err)
	}
}

// checkMutable переводит ошибки политики доступа в ошибки сервиса.
func checkMutable(g *model.Generation, requester string) error {
	switch err := access.CheckMutable(g, requester); {
	case err == nil:
		return nil
	case errors.Is(err, access.ErrDenied):
		return fmt.Errorf("%w: генерация %s", ErrForbidden, g.ID)
	case errors.Is(err, access.ErrNotCompleted):
		return fmt.Errorf("%w: статус %s", ErrNotCompleted, g.Status)
	default:
		return err
	}
}
