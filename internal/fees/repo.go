package fees

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
)

// Repository persists platform fee configuration versions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Latest(ctx context.Context) (*models.PlatformFeeConfig, error)
	FindByVersion(ctx context.Context, version int) (*models.PlatformFeeConfig, error)
	List(ctx context.Context, limit int) ([]models.PlatformFeeConfig, error)
	Create(ctx context.Context, cfg *models.PlatformFeeConfig) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the fee configuration table to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Latest returns the highest version, or nil when none has been stored.
func (r *repository) Latest(ctx context.Context) (*models.PlatformFeeConfig, error) {
	var row models.PlatformFeeConfig
	res := r.db.WithContext(ctx).Order("version DESC").Limit(1).Find(&row)
	if res.Error != nil || res.RowsAffected == 0 {
		return nil, res.Error
	}
	return &row, nil
}

func (r *repository) FindByVersion(ctx context.Context, version int) (*models.PlatformFeeConfig, error) {
	var row models.PlatformFeeConfig
	if err := r.db.WithContext(ctx).Where("version = ?", version).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) List(ctx context.Context, limit int) ([]models.PlatformFeeConfig, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.PlatformFeeConfig
	if err := r.db.WithContext(ctx).Order("version DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Create(ctx context.Context, cfg *models.PlatformFeeConfig) error {
	return r.db.WithContext(ctx).Create(cfg).Error
}
