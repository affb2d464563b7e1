package sqlite

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/anhhtv56/test-assistant/internal/domain/model"
	"github.com/anhhtv56/test-assistant/internal/repository"
)

// userRow — строка таблицы users.
type userRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	Email        string `gorm:"size:255;not null;uniqueIndex"`
	Name         string `gorm:"size:255"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

type userRepo struct {
	db *gorm.DB
}

// NewUserRepository создаёт репозиторий пользователей SQLite.
func NewUserRepository(db *gorm.DB) repository.UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	row := &userRow{ID: u.ID, Email: u.Email, Name: u.Name, PasswordHash: u.PasswordHash}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return translate(err, "создания пользователя "+u.Email)
	}
	u.CreatedAt = row.CreatedAt
	u.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, "email = ?", email)
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *userRepo) getOne(ctx context.Context, cond string, arg any) (*model.User, error) {
	var row userRow
	if err := r.db.WithContext(ctx).Where(cond, arg).Take(&row).Error; err != nil {
		return nil, translate(err, "получения пользователя")
	}
	return &model.User{
		ID:           row.ID,
		Email:        row.Email,
		Name:         row.Name,
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}
