package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dagornc/DagBot/internal/models"
)

type SettingsRepo interface {
	Get(ctx context.Context, provider string) (*models.ProviderSetting, error)
	Upsert(ctx context.Context, s *models.ProviderSetting) error
}

type settingsRepo struct {
	db *gorm.DB
}

func NewSettingsRepo(db *gorm.DB) SettingsRepo {
	return &settingsRepo{db: db}
}

// Get returns the stored policy, or the zero policy when none was saved.
func (r *settingsRepo) Get(ctx context.Context, provider string) (*models.ProviderSetting, error) {
	var row models.ProviderSetting
	err := r.db.WithContext(ctx).Where("provider = ?", provider).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.ProviderSetting{Provider: provider}, nil
	}
	return &row, err
}

func (r *settingsRepo) Upsert(ctx context.Context, s *models.ProviderSetting) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}},
		UpdateAll: true,
	}).Create(s).Error
}
