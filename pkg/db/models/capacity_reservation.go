package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// CapacityReservation holds seats for a requester between host approval and payment.
type CapacityReservation struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	ReservationKey string                  `gorm:"column:reservation_key;not null;uniqueIndex"`
	EventID        uuid.UUID               `gorm:"column:event_id;type:uuid;not null"`
	RequesterID    uuid.UUID               `gorm:"column:requester_id;type:uuid;not null"`
	ApprovedBy     uuid.UUID               `gorm:"column:approved_by;type:uuid;not null"`
	Seats          int                     `gorm:"column:seats;not null"`
	Status         enums.ReservationStatus `gorm:"column:status;type:reservation_status;not null;default:'held'"`
	ExpiresAt      time.Time               `gorm:"column:expires_at;not null"`
	ConsumedAt     *time.Time              `gorm:"column:consumed_at"`
	ReleasedAt     *time.Time              `gorm:"column:released_at"`
	ReleaseReason  *string                 `gorm:"column:release_reason"`
	CreatedAt      time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
