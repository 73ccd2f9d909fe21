package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlatformFeeConfig is one immutable version of the platform fee percentage.
type PlatformFeeConfig struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Version     int             `gorm:"column:version;not null;uniqueIndex"`
	Percentage  decimal.Decimal `gorm:"column:percentage;type:numeric(5,2);not null"`
	EffectiveAt time.Time       `gorm:"column:effective_at;not null"`
	UpdatedBy   *uuid.UUID      `gorm:"column:updated_by;type:uuid"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}
