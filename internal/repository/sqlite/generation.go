package sqlite

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/anhhtv56/test-assistant/internal/domain/model"
	"github.com/anhhtv56/test-assistant/internal/repository"
)

// generationRow — строка таблицы generations.
type generationRow struct {
	ID                    string    `gorm:"primaryKey;size:36"`
	IssueKey              string    `gorm:"size:100;not null"`
	OwnerEmail            string    `gorm:"size:255;not null;index"`
	ProjectID             *string   `gorm:"size:36;index"`
	Mode                  string    `gorm:"size:20;not null"`
	Status                string    `gorm:"size:20;not null"`
	CreatedAt             time.Time `gorm:"autoCreateTime:false;index"`
	StartedAt             time.Time
	CompletedAt           *time.Time
	UpdatedAt             time.Time `gorm:"autoUpdateTime:false"`
	GenerationTimeSeconds *float64
	Cost                  *float64
	PromptTokens          *int
	CompletionTokens      *int
	TotalTokens           *int
	ResultContent         *string `gorm:"type:text"`
	ResultFilename        *string
	JiraTickets           string `gorm:"type:text"`
	Error                 string `gorm:"type:text"`
	Published             bool   `gorm:"index"`
	PublishedAt           *time.Time
	PublishedBy           *string
	Versions              string `gorm:"type:text"`
	CurrentVersion        int    `gorm:"not null;default:1"`
}

func (generationRow) TableName() string { return "generations" }

func toGenerationRow(g *model.Generation) (*generationRow, error) {
	versions, err := repository.EncodeVersions(g.Versions)
	if err != nil {
		return nil, err
	}
	tickets, err := repository.EncodeJiraTickets(g.JiraTickets)
	if err != nil {
		return nil, err
	}

	row := &generationRow{
		ID:                    g.ID,
		IssueKey:              g.IssueKey,
		OwnerEmail:            g.OwnerEmail,
		ProjectID:             g.ProjectID,
		Mode:                  string(g.Mode),
		Status:                string(g.Status),
		CreatedAt:             g.CreatedAt,
		StartedAt:             g.StartedAt,
		CompletedAt:           g.CompletedAt,
		UpdatedAt:             g.UpdatedAt,
		GenerationTimeSeconds: g.GenerationTimeSeconds,
		Cost:                  g.Cost,
		JiraTickets:           string(tickets),
		Error:                 g.Error,
		Published:             g.Published,
		PublishedAt:           g.PublishedAt,
		PublishedBy:           g.PublishedBy,
		Versions:              string(versions),
		CurrentVersion:        g.CurrentVersion,
	}
	if g.TokenUsage != nil {
		u := *g.TokenUsage
		row.PromptTokens = &u.PromptTokens
		row.CompletionTokens = &u.CompletionTokens
		row.TotalTokens = &u.TotalTokens
	}
	if g.Result != nil {
		content, filename := g.Result.Content, g.Result.Filename
		row.ResultContent = &content
		row.ResultFilename = &filename
	}
	return row, nil
}

func (r *generationRow) toModel() (*model.Generation, error) {
	g := &model.Generation{
		ID:                    r.ID,
		IssueKey:              r.IssueKey,
		OwnerEmail:            r.OwnerEmail,
		ProjectID:             r.ProjectID,
		Mode:                  model.Mode(r.Mode),
		Status:                model.Status(r.Status),
		CreatedAt:             r.CreatedAt,
		StartedAt:             r.StartedAt,
		CompletedAt:           r.CompletedAt,
		UpdatedAt:             r.UpdatedAt,
		GenerationTimeSeconds: r.GenerationTimeSeconds,
		Cost:                  r.Cost,
		Error:                 r.Error,
		Published:             r.Published,
		PublishedAt:           r.PublishedAt,
		PublishedBy:           r.PublishedBy,
		CurrentVersion:        r.CurrentVersion,
	}
	if r.TotalTokens != nil {
		g.TokenUsage = &model.TokenUsage{TotalTokens: *r.TotalTokens}
		if r.PromptTokens != nil {
			g.TokenUsage.PromptTokens = *r.PromptTokens
		}
		if r.CompletionTokens != nil {
			g.TokenUsage.CompletionTokens = *r.CompletionTokens
		}
	}
	if r.ResultContent != nil {
		g.Result = &model.MarkdownResult{Content: *r.ResultContent}
		if r.ResultFilename != nil {
			g.Result.Filename = *r.ResultFilename
		}
	}

	var err error
	if g.JiraTickets, err = repository.DecodeJiraTickets([]byte(r.JiraTickets)); err != nil {
		return nil, err
	}
	if g.Versions, err = repository.DecodeVersions([]byte(r.Versions)); err != nil {
		return nil, err
	}
	return g, nil
}

// generationRepo — реализация repository.GenerationRepository на gorm.
type generationRepo struct {
	db *gorm.DB
}

// NewGenerationRepository создаёт репозиторий генераций SQLite.
func NewGenerationRepository(db *gorm.DB) repository.GenerationRepository {
	return &generationRepo{db: db}
}

func (r *generationRepo) Create(ctx context.Context, g *model.Generation) error {
	row, err := toGenerationRow(g)
	if err != nil {
		return fmt.Errorf("ошибка подготовки генерации: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return translate(err, "создания генерации")
	}
	return nil
}

func (r *generationRepo) Update(ctx context.Context, g *model.Generation, expectedVersion int) error {
	row, err := toGenerationRow(g)
	if err != nil {
		return fmt.Errorf("ошибка подготовки генерации: %w", err)
	}

	// issue_key, owner_email и created_at не меняются после создания
	values := map[string]any{
		"project_id":              row.ProjectID,
		"mode":                    row.Mode,
		"status":                  row.Status,
		"started_at":              row.StartedAt,
		"completed_at":            row.CompletedAt,
		"updated_at":              row.UpdatedAt,
		"generation_time_seconds": row.GenerationTimeSeconds,
		"cost":                    row.Cost,
		"prompt_tokens":           row.PromptTokens,
		"completion_tokens":       row.CompletionTokens,
		"total_tokens":            row.TotalTokens,
		"result_content":          row.ResultContent,
		"result_filename":         row.ResultFilename,
		"jira_tickets":            row.JiraTickets,
		"error":                   row.Error,
		"published":               row.Published,
		"published_at":            row.PublishedAt,
		"published_by":            row.PublishedBy,
		"versions":                row.Versions,
		"current_version":         row.CurrentVersion,
	}

	res := r.db.WithContext(ctx).
		Model(&generationRow{}).
		Where("id = ? AND current_version = ?", g.ID, expectedVersion).
		Updates(values)
	if res.Error != nil {
		return translate(res.Error, "обновления генерации")
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := r.db.WithContext(ctx).Model(&generationRow{}).Where("id = ?", g.ID).Count(&n).Error; err != nil {
			return translate(err, "проверки генерации")
		}
		if n == 0 {
			return repository.ErrNotFound
		}
		return fmt.Errorf("%w: версия %d устарела", repository.ErrConflict, expectedVersion)
	}
	return nil
}

func (r *generationRepo) GetByID(ctx context.Context, id string) (*model.Generation, error) {
	var row generationRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, translate(err, "получения генерации")
	}
	return row.toModel()
}

func (r *generationRepo) CountByProject(ctx context.Context, projectID string) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&generationRow{}).Where("project_id = ?", projectID).Count(&n).Error
	if err != nil {
		return 0, translate(err, "подсчёта генераций проекта")
	}
	return int(n), nil
}

// filtered применяет фильтры списка к запросу.
func (r *generationRepo) filtered(ctx context.Context, filters repository.GenerationFilters) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&generationRow{})
	if filters.OwnerEmail != nil {
		q = q.Where("owner_email = ?", *filters.OwnerEmail)
	}
	if filters.ProjectID != nil {
		q = q.Where("project_id = ?", *filters.ProjectID)
	}
	if filters.PublishedOnly {
		q = q.Where("published = ? AND status = ?", true, string(model.StatusCompleted))
	}
	return q
}

func (r *generationRepo) List(ctx context.Context, filters repository.GenerationFilters, limit, offset int) ([]*model.Generation, error) {
	var rows []generationRow
	err := r.filtered(ctx, filters).Order("created_at desc").Limit(limit).Offset(offset).Find(&rows).Error
	if err != nil {
		return nil, translate(err, "получения списка генераций")
	}

	result := make([]*model.Generation, 0, len(rows))
	for i := range rows {
		g, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, nil
}

func (r *generationRepo) Count(ctx context.Context, filters repository.GenerationFilters) (int, error) {
	var n int64
	if err := r.filtered(ctx, filters).Count(&n).Error; err != nil {
		return 0, translate(err, "подсчёта генераций")
	}
	return int(n), nil
}
