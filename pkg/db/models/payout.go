package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// PayoutRequest stores the figures a host asked to be paid out for an event.
type PayoutRequest struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	EventID     uuid.UUID       `gorm:"column:event_id;type:uuid;not null;uniqueIndex"`
	HostID      uuid.UUID       `gorm:"column:host_id;type:uuid;not null"`
	BaseFare    decimal.Decimal `gorm:"column:base_fare;type:numeric(12,2);not null"`
	FinalFare   decimal.Decimal `gorm:"column:final_fare;type:numeric(12,2);not null"`
	TicketsSold int             `gorm:"column:tickets_sold;not null"`
	PlatformFee decimal.Decimal `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	HostEarning decimal.Decimal `gorm:"column:host_earning;type:numeric(12,2);not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// PayoutSnapshot freezes an event's financial figures at completion.
type PayoutSnapshot struct {
	ID               uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	EventID          uuid.UUID                  `gorm:"column:event_id;type:uuid;not null;uniqueIndex"`
	Source           enums.PayoutSnapshotSource `gorm:"column:source;type:payout_snapshot_source;not null"`
	BaseFare         decimal.Decimal            `gorm:"column:base_fare;type:numeric(12,2);not null"`
	FinalFare        decimal.Decimal            `gorm:"column:final_fare;type:numeric(12,2);not null"`
	TicketsSold      int                        `gorm:"column:tickets_sold;not null"`
	PlatformFee      decimal.Decimal            `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	HostEarning      decimal.Decimal            `gorm:"column:host_earning;type:numeric(12,2);not null"`
	FeeConfigVersion *int                       `gorm:"column:fee_config_version"`
	CapturedAt       time.Time                  `gorm:"column:captured_at;not null"`
	RebuiltAt        *time.Time                 `gorm:"column:rebuilt_at"`
	RebuiltBy        *uuid.UUID                 `gorm:"column:rebuilt_by;type:uuid"`
	RebuildCount     int                        `gorm:"column:rebuild_count;not null;default:0"`
}
