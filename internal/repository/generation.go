package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/anhhtv56/test-assistant/internal/domain/model"
)

// GenerationRepository — хранилище генераций.
type GenerationRepository interface {
	// Create сохраняет новую генерацию.
	Create(ctx context.Context, g *model.Generation) error
	// Update перезаписывает генерацию, если в хранилище current_version == expectedVersion.
	// Возвращает ErrNotFound, если записи нет, и ErrConflict, если версия устарела.
	Update(ctx context.Context, g *model.Generation, expectedVersion int) error
	// GetByID возвращает генерацию по UUID.
	GetByID(ctx context.Context, id string) (*model.Generation, error)
	// CountByProject возвращает количество генераций, ссылающихся на проект.
	CountByProject(ctx context.Context, projectID string) (int, error)
	// List возвращает генерации с фильтрацией (новые первыми).
	List(ctx context.Context, filters GenerationFilters, limit, offset int) ([]*model.Generation, error)
	// Count возвращает количество генераций с фильтрацией.
	Count(ctx context.Context, filters GenerationFilters) (int, error)
}

// GenerationFilters — фильтры для списка генераций.
type GenerationFilters struct {
	// OwnerEmail — только генерации владельца
	OwnerEmail *string
	// PublishedOnly — только опубликованные и завершённые
	PublishedOnly bool
	// ProjectID — только генерации проекта
	ProjectID *string
}

// generationColumns — колонки таблицы generations в порядке сканирования.
const generationColumns = `id, issue_key, owner_email, project_id, mode, status,
	created_at, started_at, completed_at, updated_at,
	generation_time_seconds, cost, prompt_tokens, completion_tokens, total_tokens,
	result_content, result_filename, jira_tickets, error,
	published, published_at, published_by, versions, current_version`

// generationRepo — реализация GenerationRepository для PostgreSQL.
type generationRepo struct {
	db DBTX
}

// NewGenerationRepository создаёт репозиторий генераций.
func NewGenerationRepository(db DBTX) GenerationRepository {
	return &generationRepo{db: db}
}

// generationArgs — значения колонок (кроме id) для INSERT/UPDATE.
func generationArgs(g *model.Generation) ([]any, error) {
	versions, err := EncodeVersions(g.Versions)
	if err != nil {
		return nil, err
	}
	tickets, err := EncodeJiraTickets(g.JiraTickets)
	if err != nil {
		return nil, err
	}

	var promptTokens, completionTokens, totalTokens *int
	if g.TokenUsage != nil {
		promptTokens = &g.TokenUsage.PromptTokens
		completionTokens = &g.TokenUsage.CompletionTokens
		totalTokens = &g.TokenUsage.TotalTokens
	}
	var content, filename *string
	if g.Result != nil {
		content = &g.Result.Content
		filename = &g.Result.Filename
	}

	return []any{
		g.IssueKey, g.OwnerEmail, g.ProjectID, string(g.Mode), string(g.Status),
		g.CreatedAt, g.StartedAt, g.CompletedAt, g.UpdatedAt,
		g.GenerationTimeSeconds, g.Cost, promptTokens, completionTokens, totalTokens,
		content, filename, string(tickets), g.Error,
		g.Published, g.PublishedAt, g.PublishedBy, string(versions), g.CurrentVersion,
	}, nil
}

func (r *generationRepo) Create(ctx context.Context, g *model.Generation) error {
	args, err := generationArgs(g)
	if err != nil {
		return fmt.Errorf("ошибка подготовки генерации: %w", err)
	}

	query := `
		INSERT INTO generations (` + generationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24)`

	if _, err := r.db.Exec(ctx, query, append([]any{g.ID}, args...)...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: генерация с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания генерации: %w", err)
	}
	return nil
}

func (r *generationRepo) Update(ctx context.Context, g *model.Generation, expectedVersion int) error {
	args, err := generationArgs(g)
	if err != nil {
		return fmt.Errorf("ошибка подготовки генерации: %w", err)
	}

	// issue_key, owner_email и created_at не меняются после создания
	query := `
		UPDATE generations
		SET project_id = $2, mode = $3, status = $4,
			started_at = $5, completed_at = $6, updated_at = $7,
			generation_time_seconds = $8, cost = $9,
			prompt_tokens = $10, completion_tokens = $11, total_tokens = $12,
			result_content = $13, result_filename = $14, jira_tickets = $15, error = $16,
			published = $17, published_at = $18, published_by = $19,
			versions = $20, current_version = $21
		WHERE id = $1 AND current_version = $22`

	// args: [issue_key, owner_email, project_id, mode, status, created_at, started_at, ...]
	all := make([]any, 0, 22)
	all = append(all, g.ID)
	all = append(all, args[2:5]...)
	all = append(all, args[6:]...)
	all = append(all, expectedVersion)

	tag, err := r.db.Exec(ctx, query, all...)
	if err != nil {
		return fmt.Errorf("ошибка обновления генерации: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM generations WHERE id = $1)`, g.ID).Scan(&exists); err != nil {
			return fmt.Errorf("ошибка проверки генерации: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return fmt.Errorf("%w: версия %d устарела", ErrConflict, expectedVersion)
	}
	return nil
}

func (r *generationRepo) GetByID(ctx context.Context, id string) (*model.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = $1`

	g, err := scanGeneration(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения генерации: %w", err)
	}
	return g, nil
}

func (r *generationRepo) CountByProject(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM generations WHERE project_id = $1`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта генераций проекта: %w", err)
	}
	return n, nil
}

// buildGenerationWhere строит WHERE-условие и аргументы для фильтрации генераций.
// Возвращает также номер следующего свободного плейсхолдера.
func buildGenerationWhere(filters GenerationFilters, startArg int) (string, []any, int) {
	var conditions []string
	var args []any
	argNum := startArg

	if filters.OwnerEmail != nil {
		conditions = append(conditions, fmt.Sprintf("owner_email = $%d", argNum))
		args = append(args, *filters.OwnerEmail)
		argNum++
	}
	if filters.ProjectID != nil {
		conditions = append(conditions, fmt.Sprintf("project_id = $%d", argNum))
		args = append(args, *filters.ProjectID)
		argNum++
	}
	if filters.PublishedOnly {
		conditions = append(conditions, "published AND status = 'completed'")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args, argNum
}

func (r *generationRepo) List(ctx context.Context, filters GenerationFilters, limit, offset int) ([]*model.Generation, error) {
	where, args, argNum := buildGenerationWhere(filters, 1)

	query := fmt.Sprintf(`
		SELECT %s
		FROM generations
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, generationColumns, where, argNum, argNum+1)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка генераций: %w", err)
	}
	defer rows.Close()

	var result []*model.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования генерации: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

func (r *generationRepo) Count(ctx context.Context, filters GenerationFilters) (int, error) {
	where, args, _ := buildGenerationWhere(filters, 1)

	var n int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM generations "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта генераций: %w", err)
	}
	return n, nil
}

// scanGeneration сканирует строку generations в модель.
func scanGeneration(row pgx.Row) (*model.Generation, error) {
	var (
		g                                           model.Generation
		mode, status                                string
		promptTokens, completionTokens, totalTokens *int
		content, filename                           *string
		tickets, versions                           []byte
	)

	err := row.Scan(
		&g.ID, &g.IssueKey, &g.OwnerEmail, &g.ProjectID, &mode, &status,
		&g.CreatedAt, &g.StartedAt, &g.CompletedAt, &g.UpdatedAt,
		&g.GenerationTimeSeconds, &g.Cost, &promptTokens, &completionTokens, &totalTokens,
		&content, &filename, &tickets, &g.Error,
		&g.Published, &g.PublishedAt, &g.PublishedBy, &versions, &g.CurrentVersion,
	)
	if err != nil {
		return nil, err
	}

	g.Mode = model.Mode(mode)
	g.Status = model.Status(status)
	if totalTokens != nil {
		g.TokenUsage = &model.TokenUsage{
			PromptTokens:     derefInt(promptTokens),
			CompletionTokens: derefInt(completionTokens),
			TotalTokens:      *totalTokens,
		}
	}
	if content != nil {
		g.Result = &model.MarkdownResult{Content: *content}
		if filename != nil {
			g.Result.Filename = *filename
		}
	}
	if g.JiraTickets, err = DecodeJiraTickets(tickets); err != nil {
		return nil, err
	}
	if g.Versions, err = DecodeVersions(versions); err != nil {
		return nil, err
	}
	return &g, nil
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
