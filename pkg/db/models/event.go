package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// Event is the read model of an event owned by the event service.
type Event struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	HostID      uuid.UUID         `gorm:"column:host_id;type:uuid;not null"`
	Title       string            `gorm:"column:title;not null"`
	BaseFare    decimal.Decimal   `gorm:"column:base_fare;type:numeric(12,2);not null"`
	Capacity    int               `gorm:"column:capacity;not null"`
	IsPaid      bool              `gorm:"column:is_paid;not null"`
	Status      enums.EventStatus `gorm:"column:status;type:event_status;not null"`
	StartsAt    time.Time         `gorm:"column:starts_at;not null"`
	CompletedAt *time.Time        `gorm:"column:completed_at"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// EventInventory tracks claimed seats against an event's capacity.
type EventInventory struct {
	EventID   uuid.UUID `gorm:"column:event_id;type:uuid;primaryKey"`
	Capacity  int       `gorm:"column:capacity;not null"`
	HeldSeats int       `gorm:"column:held_seats;not null;default:0"`
	SoldSeats int       `gorm:"column:sold_seats;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (EventInventory) TableName() string {
	return "event_inventories"
}

// Available returns the seats that can still be held.
func (i EventInventory) Available() int {
	return i.Capacity - i.HeldSeats - i.SoldSeats
}
