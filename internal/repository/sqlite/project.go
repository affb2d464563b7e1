package sqlite

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/anhhtv56/test-assistant/internal/domain/model"
	"github.com/anhhtv56/test-assistant/internal/repository"
)

// projectRow — строка таблицы projects.
type projectRow struct {
	ID               string `gorm:"primaryKey;size:36"`
	ProjectKey       string `gorm:"size:100;not null;uniqueIndex"`
	CreatedBy        string `gorm:"size:255;not null"`
	FirstGeneratedAt time.Time
	LastGeneratedAt  time.Time `gorm:"index"`
	TotalGenerations int       `gorm:"not null;default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (projectRow) TableName() string { return "projects" }

func (r *projectRow) toModel() *model.Project {
	return &model.Project{
		ID:               r.ID,
		ProjectKey:       r.ProjectKey,
		CreatedBy:        r.CreatedBy,
		FirstGeneratedAt: r.FirstGeneratedAt,
		LastGeneratedAt:  r.LastGeneratedAt,
		TotalGenerations: r.TotalGenerations,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// projectRepo — реализация repository.ProjectRepository на gorm.
type projectRepo struct {
	db *gorm.DB
}

// NewProjectRepository создаёт репозиторий проектов SQLite.
func NewProjectRepository(db *gorm.DB) repository.ProjectRepository {
	return &projectRepo{db: db}
}

func (r *projectRepo) Create(ctx context.Context, p *model.Project) error {
	row := &projectRow{
		ID:               p.ID,
		ProjectKey:       p.ProjectKey,
		CreatedBy:        p.CreatedBy,
		FirstGeneratedAt: p.FirstGeneratedAt,
		LastGeneratedAt:  p.LastGeneratedAt,
		TotalGenerations: p.TotalGenerations,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return translate(err, "создания проекта "+p.ProjectKey)
	}
	p.CreatedAt = row.CreatedAt
	p.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *projectRepo) GetByKey(ctx context.Context, projectKey string) (*model.Project, error) {
	var row projectRow
	if err := r.db.WithContext(ctx).Where("project_key = ?", projectKey).Take(&row).Error; err != nil {
		return nil, translate(err, "получения проекта")
	}
	return row.toModel(), nil
}

func (r *projectRepo) GetByID(ctx context.Context, id string) (*model.Project, error) {
	var row projectRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, translate(err, "получения проекта")
	}
	return row.toModel(), nil
}

func (r *projectRepo) TouchLastGenerated(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&projectRow{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_generated_at": at,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return translate(res.Error, "обновления проекта")
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *projectRepo) RefreshTotal(ctx context.Context, id string, at time.Time) (int, error) {
	var total int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Подсчёт и запись — один UPDATE с подзапросом
		res := tx.Model(&projectRow{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"total_generations": gorm.Expr("(SELECT COUNT(*) FROM generations WHERE project_id = ?)", id),
				"last_generated_at": at,
				"updated_at":        time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		var row projectRow
		if err := tx.Select("total_generations").Where("id = ?", id).Take(&row).Error; err != nil {
			return err
		}
		total = row.TotalGenerations
		return nil
	})
	if err != nil {
		return 0, translate(err, "пересчёта генераций проекта")
	}
	return total, nil
}

func (r *projectRepo) List(ctx context.Context, limit, offset int) ([]*model.Project, error) {
	var rows []projectRow
	err := r.db.WithContext(ctx).Order("last_generated_at desc").Limit(limit).Offset(offset).Find(&rows).Error
	if err != nil {
		return nil, translate(err, "получения списка проектов")
	}
	result := make([]*model.Project, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toModel())
	}
	return result, nil
}

func (r *projectRepo) Count(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&projectRow{}).Count(&n).Error; err != nil {
		return 0, translate(err, "подсчёта проектов")
	}
	return int(n), nil
}
