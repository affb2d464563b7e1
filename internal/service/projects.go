// projects.go — реестр проектов: учёт генераций по ключу проекта трекера.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anhhtv56/test-assistant/internal/domain/model"
	"github.com/anhhtv56/test-assistant/internal/repository"
)

// ProjectList — страница списка проектов.
type ProjectList struct {
	Items  []*model.Project
	Total  int
	Limit  int
	Offset int
}

// ProjectRegistry — сервис агрегатов проектов.
type ProjectRegistry struct {
	projects repository.ProjectRepository
	now      func() time.Time
	logger   *slog.Logger
}

// NewProjectRegistry создаёт реестр проектов.
func NewProjectRegistry(projects repository.ProjectRepository, logger *slog.Logger) *ProjectRegistry {
	return &ProjectRegistry{
		projects: projects,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "project_registry")),
	}
}

// FindOrCreate возвращает проект по ключу, создавая его при первом обращении.
// Для существующего проекта обновляет только LastGeneratedAt: счётчик
// генераций пишет исключительно RefreshTotals.
// Гонка одновременного создания разрешается уникальным ключом: при конфликте проект перечитывается.
func (r *ProjectRegistry) FindOrCreate(ctx context.Context, projectKey, requester string) (*model.Project, error) {
	key := strings.ToUpper(strings.TrimSpace(projectKey))
	if key == "" {
		return nil, fmt.Errorf("%w: пустой ключ проекта", ErrValidation)
	}
	now := r.now()

	p, err := r.projects.GetByKey(ctx, key)
	switch {
	case err == nil:
		if err := r.projects.TouchLastGenerated(ctx, p.ID, now); err != nil {
			return nil, fmt.Errorf("обновление проекта %s: %w", key, err)
		}
		p.LastGeneratedAt = now
		return p, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("получение проекта %s: %w", key, err)
	}

	p = &model.Project{
		ID:               uuid.NewString(),
		ProjectKey:       key,
		CreatedBy:        requester,
		FirstGeneratedAt: now,
		LastGeneratedAt:  now,
	}
	if err := r.projects.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return r.projects.GetByKey(ctx, key)
		}
		return nil, fmt.Errorf("создание проекта %s: %w", key, err)
	}

	r.logger.Info("Проект создан",
		slog.String("project_key", key),
		slog.String("created_by", requester),
	)
	return p, nil
}

// RefreshTotals пересчитывает TotalGenerations по количеству генераций проекта.
// Пересчёт выполняется хранилищем атомарно, поэтому последний из параллельных
// пересчётов видит все записи, сохранённые до него.
func (r *ProjectRegistry) RefreshTotals(ctx context.Context, projectID string) error {
	total, err := r.projects.RefreshTotal(ctx, projectID, r.now())
	if err != nil {
		return fmt.Errorf("пересчёт генераций проекта %s: %w", projectID, err)
	}
	r.logger.Debug("Счётчик генераций проекта обновлён",
		slog.String("project_id", projectID),
		slog.Int("total_generations", total),
	)
	return nil
}

// List возвращает страницу проектов (последние активные первыми).
func (r *ProjectRegistry) List(ctx context.Context, limit, offset int) (*ProjectList, error) {
	limit, offset, err := normalizePage(limit, offset)
	if err != nil {
		return nil, err
	}
	items, err := r.projects.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("список проектов: %w", err)
	}
	total, err := r.projects.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("подсчёт проектов: %w", err)
	}
	return &ProjectList{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// Пагинация списков.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// normalizePage проверяет параметры пагинации. limit == 0 — значение по умолчанию.
func normalizePage(limit, offset int) (int, int, error) {
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if limit < 1 || limit > MaxPageLimit {
		return 0, 0, fmt.Errorf("%w: limit должен быть в диапазоне 1-%d", ErrValidation, MaxPageLimit)
	}
	if offset < 0 {
		return 0, 0, fmt.Errorf("%w: offset не может быть отрицательным", ErrValidation)
	}
	return limit, offset, nil
}
