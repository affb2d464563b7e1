package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anhhtv56/test-assistant/internal/domain/model"
	"github.com/anhhtv56/test-assistant/internal/generator"
	"github.com/anhhtv56/test-assistant/internal/repository"
	"github.com/anhhtv56/test-assistant/internal/tracker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Хранилище генераций в памяти (CAS по current_version) ---

type memGenerations struct {
	mu   sync.Mutex
	rows map[string]*model.Generation
	// afterGet вызывается после чтения записи (имитация параллельной правки)
	afterGet func(id string)
	// failCount — ошибка CountByProject
	failCount error
}

func newMemGenerations() *memGenerations {
	return &memGenerations{rows: map[string]*model.Generation{}}
}

func cloneGeneration(g *model.Generation) *model.Generation {
	c := *g
	if g.Result != nil {
		r := *g.Result
		c.Result = &r
	}
	c.Versions = append([]model.Version{}, g.Versions...)
	c.JiraTickets = append([]model.JiraTicket{}, g.JiraTickets...)
	return &c
}

func (m *memGenerations) Create(_ context.Context, g *model.Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[g.ID]; ok {
		return repository.ErrConflict
	}
	m.rows[g.ID] = cloneGeneration(g)
	return nil
}

func (m *memGenerations) Update(_ context.Context, g *model.Generation, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[g.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.CurrentVersion != expectedVersion {
		return repository.ErrConflict
	}
	m.rows[g.ID] = cloneGeneration(g)
	return nil
}

func (m *memGenerations) GetByID(_ context.Context, id string) (*model.Generation, error) {
	m.mu.Lock()
	g, ok := m.rows[id]
	var c *model.Generation
	if ok {
		c = cloneGeneration(g)
	}
	hook := m.afterGet
	m.mu.Unlock()

	if !ok {
		return nil, repository.ErrNotFound
	}
	if hook != nil {
		hook(id)
	}
	return c, nil
}

// bump увеличивает версию записи в обход сервиса.
func (m *memGenerations) bump(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].CurrentVersion++
}

func (m *memGenerations) stored(id string) *model.Generation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.rows[id]; ok {
		return cloneGeneration(g)
	}
	return nil
}

func (m *memGenerations) CountByProject(_ context.Context, projectID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCount != nil {
		return 0, m.failCount
	}
	n := 0
	for _, g := range m.rows {
		if g.ProjectID != nil && *g.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

func (m *memGenerations) filter(filters repository.GenerationFilters) []*model.Generation {
	var out []*model.Generation
	for _, g := range m.rows {
		if filters.OwnerEmail != nil && g.OwnerEmail != *filters.OwnerEmail {
			continue
		}
		if filters.ProjectID != nil && (g.ProjectID == nil || *g.ProjectID != *filters.ProjectID) {
			continue
		}
		if filters.PublishedOnly && (!g.Published || g.Status != model.StatusCompleted) {
			continue
		}
		out = append(out, cloneGeneration(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memGenerations) List(_ context.Context, filters repository.GenerationFilters, limit, offset int) ([]*model.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.filter(filters)
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (m *memGenerations) Count(_ context.Context, filters repository.GenerationFilters) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.filter(filters)), nil
}

// --- Хранилище проектов в памяти ---

type memProjects struct {
	mu   sync.Mutex
	rows map[string]*model.Project
	// failGet — ошибка GetByKey
	failGet error
	// conflictOnce — Create возвращает ErrConflict, предварительно сохранив проект (имитация гонки)
	conflictOnce bool
	// count — источник количества генераций проекта для RefreshTotal
	count func(ctx context.Context, projectID string) (int, error)
	// latency — задержка перед записью (имитация сетевой задержки хранилища)
	latency func()
}

func newMemProjects() *memProjects {
	return &memProjects{rows: map[string]*model.Project{}}
}

func (m *memProjects) Create(_ context.Context, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflictOnce {
		m.conflictOnce = false
		winner := *p
		winner.ID = "winner-" + p.ProjectKey
		m.rows[winner.ID] = &winner
		return repository.ErrConflict
	}
	for _, existing := range m.rows {
		if existing.ProjectKey == p.ProjectKey {
			return repository.ErrConflict
		}
	}
	c := *p
	m.rows[p.ID] = &c
	return nil
}

func (m *memProjects) GetByKey(_ context.Context, key string) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	for _, p := range m.rows {
		if p.ProjectKey == key {
			c := *p
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memProjects) GetByID(_ context.Context, id string) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *memProjects) TouchLastGenerated(_ context.Context, id string, at time.Time) error {
	if m.latency != nil {
		m.latency()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.LastGeneratedAt = at
	return nil
}

// RefreshTotal считает и записывает под одной блокировкой, как UPDATE с подзапросом.
func (m *memProjects) RefreshTotal(ctx context.Context, id string, at time.Time) (int, error) {
	if m.latency != nil {
		m.latency()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	total := 0
	if m.count != nil {
		n, err := m.count(ctx, id)
		if err != nil {
			return 0, err
		}
		total = n
	}
	p.TotalGenerations = total
	p.LastGeneratedAt = at
	return total, nil
}

func (m *memProjects) List(_ context.Context, limit, offset int) ([]*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Project
	for _, p := range m.rows {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastGeneratedAt.After(out[j].LastGeneratedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	return out[offset:min(offset+limit, len(out))], nil
}

func (m *memProjects) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows), nil
}

// --- Пользователи в памяти ---

type memUsers struct {
	mu   sync.Mutex
	rows map[string]*model.User
}

func newMemUsers() *memUsers {
	return &memUsers{rows: map[string]*model.User{}}
}

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.Email == u.Email {
			return repository.ErrConflict
		}
	}
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	c := *u
	m.rows[u.ID] = &c
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.rows {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

// --- Трекер и генератор ---

type stubTracker struct {
	fetchFn func(ctx context.Context, key string) (*tracker.Issue, error)
}

func (s *stubTracker) FetchIssue(ctx context.Context, key string) (*tracker.Issue, error) {
	return s.fetchFn(ctx, key)
}

// issueTracker возвращает трекер, отдающий задачу с заданными полями.
func issueTracker(summary, description string) *stubTracker {
	return &stubTracker{fetchFn: func(_ context.Context, key string) (*tracker.Issue, error) {
		return &tracker.Issue{
			Key:         strings.ToUpper(key),
			Summary:     summary,
			Description: description,
			IssueType:   "Story",
			URL:         "https://example.atlassian.net/browse/" + strings.ToUpper(key),
		}, nil
	}}
}

type stubGenerator struct {
	mu         sync.Mutex
	calls      int
	lastPrompt string
	generateFn func(ctx context.Context, issueContext, issueKey string, mode model.Mode) (*generator.Result, error)
}

var stubRate = generator.Rate{Input: 0.15, Output: 0.60}

func (s *stubGenerator) Generate(ctx context.Context, issueContext, issueKey string, mode model.Mode) (*generator.Result, error) {
	s.mu.Lock()
	s.calls++
	s.lastPrompt = issueContext
	s.mu.Unlock()
	return s.generateFn(ctx, issueContext, issueKey, mode)
}

func (s *stubGenerator) EstimateCost(promptTokens, completionTokens int) float64 {
	return stubRate.Cost(promptTokens, completionTokens)
}

func (s *stubGenerator) MaxOutputTokens() int { return 8000 }

// contentGenerator возвращает генератор с фиксированным содержимым.
func contentGenerator(content string) *stubGenerator {
	return &stubGenerator{generateFn: func(context.Context, string, string, model.Mode) (*generator.Result, error) {
		return &generator.Result{
			Content:    content,
			TokenUsage: model.TokenUsage{PromptTokens: 1000, CompletionTokens: 2000, TotalTokens: 3000},
			Cost:       0.00135,
		}, nil
	}}
}

// testEnv — сервис генераций поверх хранилищ в памяти.
type testEnv struct {
	svc         *GenerationService
	generations *memGenerations
	projects    *memProjects
	registry    *ProjectRegistry
	tracker     *stubTracker
	generator   *stubGenerator
}

func newTestEnv(tr *stubTracker, gen *stubGenerator) *testEnv {
	generations := newMemGenerations()
	projects := newMemProjects()
	projects.count = generations.CountByProject
	registry := NewProjectRegistry(projects, testLogger())
	return &testEnv{
		svc:         NewGenerationService(generations, registry, tr, gen, testLogger()),
		generations: generations,
		projects:    projects,
		registry:    registry,
		tracker:     tr,
		generator:   gen,
	}
}
