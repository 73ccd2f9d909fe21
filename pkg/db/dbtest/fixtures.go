package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// EventFixture overrides the defaults of SeedEvent. Zero values keep the
// defaults: a published paid event at 100.00 with 50 seats.
type EventFixture struct {
	HostID   uuid.UUID
	BaseFare string
	Capacity int
	Free     bool
	Status   enums.EventStatus
}

// SeedEvent inserts an event row.
func SeedEvent(t *testing.T, db *gorm.DB, f EventFixture) *models.Event {
	t.Helper()
	event := &models.Event{
		ID:       uuid.New(),
		HostID:   f.HostID,
		Title:    "Test event",
		BaseFare: decimal.RequireFromString("100.00"),
		Capacity: 50,
		IsPaid:   !f.Free,
		Status:   enums.EventStatusPublished,
		StartsAt: time.Now().UTC().Add(72 * time.Hour),
	}
	if event.HostID == uuid.Nil {
		event.HostID = uuid.New()
	}
	if f.BaseFare != "" {
		event.BaseFare = decimal.RequireFromString(f.BaseFare)
	}
	if f.Capacity > 0 {
		event.Capacity = f.Capacity
	}
	if f.Status != "" {
		event.Status = f.Status
	}
	if event.Status == enums.EventStatusCompleted {
		completed := time.Now().UTC()
		event.CompletedAt = &completed
	}
	if err := db.Create(event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return event
}

// OutboxTypes lists the event types written to the outbox, oldest first.
func OutboxTypes(t *testing.T, db *gorm.DB) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	if err := db.Order("created_at ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	types := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		types = append(types, row.EventType)
	}
	return types
}
