package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/dagornc/DagBot/internal/models"
	"github.com/dagornc/DagBot/internal/utils"
)

type PromptRepo interface {
	Insert(ctx context.Context, p *models.Prompt) error
	GetByID(ctx context.Context, id string) (*models.Prompt, error)
	List(ctx context.Context) ([]models.Prompt, error)
	Update(ctx context.Context, id string, updates map[string]any) error
	Delete(ctx context.Context, id string) error
}

type promptRepo struct {
	db *gorm.DB
}

func NewPromptRepo(db *gorm.DB) PromptRepo {
	return &promptRepo{db: db}
}

func (r *promptRepo) Insert(ctx context.Context, p *models.Prompt) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *promptRepo) GetByID(ctx context.Context, id string) (*models.Prompt, error) {
	var row models.Prompt
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *promptRepo) List(ctx context.Context) ([]models.Prompt, error) {
	var rows []models.Prompt
	err := r.db.WithContext(ctx).Order("updated_at DESC").Find(&rows).Error
	return rows, err
}

func (r *promptRepo) Update(ctx context.Context, id string, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.Prompt{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *promptRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Prompt{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}
