package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/anhhtv56/test-assistant/internal/config"
	"github.com/anhhtv56/test-assistant/internal/database"
	"github.com/anhhtv56/test-assistant/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер и применяет миграции.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("test_assistant"),
		postgres.WithUsername("ta"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	cfg := &config.Config{
		DBHost:     host,
		DBPort:     port.Int(),
		DBName:     "test_assistant",
		DBUser:     "ta",
		DBPassword: "test-password",
		DBSSLMode:  "disable",
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if _, err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка применения миграций: %v", err)
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения к БД: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

// completedGeneration создаёт завершённую генерацию для тестов.
func completedGeneration(t *testing.T, owner, issueKey string, projectID *string, now time.Time) *model.Generation {
	t.Helper()
	g := model.NewGeneration(uuid.NewString(), issueKey, owner, model.ModeManual, projectID, now)
	usage := model.TokenUsage{PromptTokens: 100, CompletionTokens: 400, TotalTokens: 500}
	if err := g.Complete("# Test Cases\n\n1. Open page", usage, 0.00026, now.Add(2*time.Second)); err != nil {
		t.Fatalf("Complete() вернул ошибку: %v", err)
	}
	return g
}

func TestGenerationRepository_Integration(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	projects := NewProjectRepository(pool)
	generations := NewGenerationRepository(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	p := &model.Project{
		ID: uuid.NewString(), ProjectKey: "SDETPRO", CreatedBy: "qa@example.com",
		FirstGeneratedAt: now, LastGeneratedAt: now,
	}
	if err := projects.Create(ctx, p); err != nil {
		t.Fatalf("Create(project) вернул ошибку: %v", err)
	}

	g := completedGeneration(t, "qa@example.com", "SDETPRO-123", &p.ID, now)
	g.JiraTickets = []model.JiraTicket{{IssueURL: "https://jira.example.com/browse/SDETPRO-123", IssueType: "Story", CreatedAt: now}}
	if err := generations.Create(ctx, g); err != nil {
		t.Fatalf("Create(generation) вернул ошибку: %v", err)
	}

	got, err := generations.GetByID(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetByID() вернул ошибку: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %s, ожидается completed", got.Status)
	}
	if got.Result == nil || got.Result.Filename != model.Filename("SDETPRO-123", g.ID) {
		t.Errorf("Result = %+v, ожидается filename %s", got.Result, model.Filename("SDETPRO-123", g.ID))
	}
	if got.TokenUsage == nil || got.TokenUsage.TotalTokens != 500 {
		t.Errorf("TokenUsage = %+v, ожидается total 500", got.TokenUsage)
	}
	if len(got.JiraTickets) != 1 {
		t.Errorf("JiraTickets = %d, ожидается 1", len(got.JiraTickets))
	}

	// Правка с CAS по current_version
	got.ApplyEdit("# Edited", "qa@example.com", nil, now)
	if err := generations.Update(ctx, got, 1); err != nil {
		t.Fatalf("Update() вернул ошибку: %v", err)
	}
	if err := generations.Update(ctx, got, 1); !errors.Is(err, ErrConflict) {
		t.Errorf("Update() по устаревшей версии: ошибка %v, ожидается ErrConflict", err)
	}

	updated, err := generations.GetByID(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetByID() вернул ошибку: %v", err)
	}
	if updated.CurrentVersion != 2 || len(updated.Versions) != 1 {
		t.Errorf("CurrentVersion = %d, versions = %d, ожидается 2 и 1", updated.CurrentVersion, len(updated.Versions))
	}

	n, err := generations.CountByProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("CountByProject() вернул ошибку: %v", err)
	}
	if n != 1 {
		t.Errorf("CountByProject() = %d, ожидается 1", n)
	}

	if _, err := generations.GetByID(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(несуществующий) = %v, ожидается ErrNotFound", err)
	}
}

func TestGenerationRepository_ListPublished_Integration(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	generations := NewGenerationRepository(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	shared := completedGeneration(t, "a@example.com", "QA-1", nil, now)
	shared.SetPublished(true, "a@example.com", now)
	private := completedGeneration(t, "a@example.com", "QA-2", nil, now.Add(time.Second))
	foreign := completedGeneration(t, "b@example.com", "QA-3", nil, now.Add(2*time.Second))

	for _, g := range []*model.Generation{shared, private, foreign} {
		if err := generations.Create(ctx, g); err != nil {
			t.Fatalf("Create() вернул ошибку: %v", err)
		}
	}

	published, err := generations.List(ctx, GenerationFilters{PublishedOnly: true}, 20, 0)
	if err != nil {
		t.Fatalf("List(published) вернул ошибку: %v", err)
	}
	if len(published) != 1 || published[0].ID != shared.ID {
		t.Fatalf("List(published) = %d записей, ожидается только %s", len(published), shared.ID)
	}
	if published[0].PublishedBy == nil || *published[0].PublishedBy != "a@example.com" {
		t.Errorf("PublishedBy = %v, ожидается a@example.com", published[0].PublishedBy)
	}

	owner := "a@example.com"
	total, err := generations.Count(ctx, GenerationFilters{OwnerEmail: &owner})
	if err != nil {
		t.Fatalf("Count() вернул ошибку: %v", err)
	}
	if total != 2 {
		t.Errorf("Count(owner) = %d, ожидается 2", total)
	}
}

func TestProjectAndUserRepository_Integration(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	projects := NewProjectRepository(pool)
	users := NewUserRepository(pool)
	now := time.Now().UTC()

	p := &model.Project{ID: uuid.NewString(), ProjectKey: "QA", CreatedBy: "a@example.com", FirstGeneratedAt: now, LastGeneratedAt: now}
	if err := projects.Create(ctx, p); err != nil {
		t.Fatalf("Create(project) вернул ошибку: %v", err)
	}
	dup := *p
	dup.ID = uuid.NewString()
	if err := projects.Create(ctx, &dup); !errors.Is(err, ErrConflict) {
		t.Errorf("Create(дубликат) = %v, ожидается ErrConflict", err)
	}

	generations := NewGenerationRepository(pool)
	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, 2*writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := model.NewGeneration(uuid.NewString(), fmt.Sprintf("QA-%d", i), "a@example.com", model.ModeManual, &p.ID, now)
			errs <- generations.Create(ctx, g)
			_, err := projects.RefreshTotal(ctx, p.ID, time.Now().UTC())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("параллельный пересчёт вернул ошибку: %v", err)
		}
	}

	if err := projects.TouchLastGenerated(ctx, p.ID, now.Add(time.Hour)); err != nil {
		t.Fatalf("TouchLastGenerated() вернул ошибку: %v", err)
	}
	got, err := projects.GetByKey(ctx, "QA")
	if err != nil {
		t.Fatalf("GetByKey() вернул ошибку: %v", err)
	}
	if got.TotalGenerations != writers {
		t.Errorf("TotalGenerations = %d, ожидается %d", got.TotalGenerations, writers)
	}
	if _, err := projects.RefreshTotal(ctx, uuid.NewString(), now); !errors.Is(err, ErrNotFound) {
		t.Errorf("RefreshTotal(missing) = %v, ожидается ErrNotFound", err)
	}

	u := &model.User{ID: uuid.NewString(), Email: "a@example.com", Name: "A", PasswordHash: "hash"}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("Create(user) вернул ошибку: %v", err)
	}
	if err := users.Create(ctx, &model.User{ID: uuid.NewString(), Email: "a@example.com", PasswordHash: "x"}); !errors.Is(err, ErrConflict) {
		t.Errorf("Create(user дубликат) = %v, ожидается ErrConflict", err)
	}
	if _, err := users.GetByEmail(ctx, "missing@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByEmail(missing) = %v, ожидается ErrNotFound", err)
	}
}

func TestBuildGenerationWhere(t *testing.T) {
	owner := "a@example.com"
	project := "p-1"

	tests := []struct {
		name     string
		filters  GenerationFilters
		wantSQL  string
		wantArgs int
		wantNext int
	}{
		{"пусто", GenerationFilters{}, "", 0, 1},
		{"владелец", GenerationFilters{OwnerEmail: &owner}, "WHERE owner_email = $1", 1, 2},
		{"проект", GenerationFilters{ProjectID: &project}, "WHERE project_id = $1", 1, 2},
		{"опубликованные", GenerationFilters{PublishedOnly: true}, "WHERE published AND status = 'completed'", 0, 1},
		{"все", GenerationFilters{OwnerEmail: &owner, ProjectID: &project, PublishedOnly: true},
			"WHERE owner_email = $1 AND project_id = $2 AND published AND status = 'completed'", 2, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args, next := buildGenerationWhere(tt.filters, 1)
			if where != tt.wantSQL {
				t.Errorf("where = %q, хотели %q", where, tt.wantSQL)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("len(args) = %d, хотели %d", len(args), tt.wantArgs)
			}
			if next != tt.wantNext {
				t.Errorf("следующий плейсхолдер = $%d, хотели $%d", next, tt.wantNext)
			}
		})
	}
}

func TestVersionsCodec(t *testing.T) {
	notes := "typo"
	in := []model.Version{{Version: 1, Content: "old", UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), UpdatedBy: "a@example.com", Notes: &notes}}
	data, err := EncodeVersions(in)
	if err != nil {
		t.Fatalf("EncodeVersions() вернул ошибку: %v", err)
	}
	out, err := DecodeVersions(data)
	if err != nil {
		t.Fatalf("DecodeVersions() вернул ошибку: %v", err)
	}
	if len(out) != 1 || out[0].Content != "old" || out[0].Notes == nil || *out[0].Notes != "typo" {
		t.Errorf("DecodeVersions() = %+v", out)
	}

	empty, err := DecodeVersions(nil)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("DecodeVersions(nil) = %v, %v; ожидается пустой срез", empty, err)
	}
}
