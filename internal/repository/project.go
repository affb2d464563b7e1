package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/anhhtv56/test-assistant/internal/domain/model"
)

// ProjectRepository — хранилище агрегатов проектов.
type ProjectRepository interface {
	// Create сохраняет новый проект. ErrConflict при дубликате project_key.
	Create(ctx context.Context, p *model.Project) error
	// GetByKey возвращает проект по ключу (в верхнем регистре).
	GetByKey(ctx context.Context, projectKey string) (*model.Project, error)
	// GetByID возвращает проект по UUID.
	GetByID(ctx context.Context, id string) (*model.Project, error)
	// TouchLastGenerated обновляет только last_generated_at.
	TouchLastGenerated(ctx context.Context, id string, at time.Time) error
	// RefreshTotal пересчитывает total_generations по таблице генераций
	// одной операцией хранилища и возвращает новое значение.
	RefreshTotal(ctx context.Context, id string, at time.Time) (int, error)
	// List возвращает проекты (последние активные первыми).
	List(ctx context.Context, limit, offset int) ([]*model.Project, error)
	// Count возвращает количество проектов.
	Count(ctx context.Context) (int, error)
}

const projectColumns = `id, project_key, created_by, first_generated_at, last_generated_at,
	total_generations, created_at, updated_at`

// projectRepo — реализация ProjectRepository для PostgreSQL.
type projectRepo struct {
	db DBTX
}

// NewProjectRepository создаёт репозиторий проектов.
func NewProjectRepository(db DBTX) ProjectRepository {
	return &projectRepo{db: db}
}

func (r *projectRepo) Create(ctx context.Context, p *model.Project) error {
	query := `
		INSERT INTO projects (id, project_key, created_by, first_generated_at, last_generated_at, total_generations)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		p.ID, p.ProjectKey, p.CreatedBy, p.FirstGeneratedAt, p.LastGeneratedAt, p.TotalGenerations,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: проект %s уже существует", ErrConflict, p.ProjectKey)
		}
		return fmt.Errorf("ошибка создания проекта: %w", err)
	}
	return nil
}

func (r *projectRepo) GetByKey(ctx context.Context, projectKey string) (*model.Project, error) {
	return r.getOne(ctx, `SELECT `+projectColumns+` FROM projects WHERE project_key = $1`, projectKey)
}

func (r *projectRepo) GetByID(ctx context.Context, id string) (*model.Project, error) {
	return r.getOne(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
}

func (r *projectRepo) getOne(ctx context.Context, query string, arg any) (*model.Project, error) {
	p, err := scanProject(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения проекта: %w", err)
	}
	return p, nil
}

func (r *projectRepo) TouchLastGenerated(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE projects SET last_generated_at = $2, updated_at = now() WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления проекта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *projectRepo) RefreshTotal(ctx context.Context, id string, at time.Time) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Пересчёты одного проекта выполняются по очереди: снимок для COUNT
	// берётся уже после получения блокировки строки
	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM projects WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка блокировки проекта: %w", err)
	}

	query := `
		UPDATE projects
		SET total_generations = (SELECT COUNT(*) FROM generations WHERE project_id = $1),
		    last_generated_at = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING total_generations`

	var total int
	if err := tx.QueryRow(ctx, query, id, at).Scan(&total); err != nil {
		return 0, fmt.Errorf("ошибка пересчёта генераций проекта: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ошибка фиксации пересчёта: %w", err)
	}
	return total, nil
}

func (r *projectRepo) List(ctx context.Context, limit, offset int) ([]*model.Project, error) {
	query := `SELECT ` + projectColumns + `
		FROM projects
		ORDER BY last_generated_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка проектов: %w", err)
	}
	defer rows.Close()

	var result []*model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования проекта: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *projectRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM projects`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта проектов: %w", err)
	}
	return n, nil
}

func scanProject(row pgx.Row) (*model.Project, error) {
	p := &model.Project{}
	err := row.Scan(
		&p.ID, &p.ProjectKey, &p.CreatedBy, &p.FirstGeneratedAt, &p.LastGeneratedAt,
		&p.TotalGenerations, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
