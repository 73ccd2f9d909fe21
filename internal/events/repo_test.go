package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/eventpass-backend/pkg/db/dbtest"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
)

func seedEvent(t *testing.T, repo *repository, status enums.EventStatus, paid bool, completedAt *time.Time) uuid.UUID {
	t.Helper()
	event := models.Event{
		ID:          uuid.New(),
		HostID:      uuid.New(),
		Title:       "Rooftop jazz",
		BaseFare:    decimal.NewFromInt(100),
		Capacity:    50,
		IsPaid:      paid,
		Status:      status,
		StartsAt:    time.Now().UTC().Add(-2 * time.Hour),
		CompletedAt: completedAt,
	}
	require.NoError(t, repo.db.Create(&event).Error)
	return event.ID
}

func TestGetReturnsNotFound(t *testing.T) {
	repo := NewRepository(dbtest.Open(t, "events_get")).(*repository)

	_, err := repo.Get(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	id := seedEvent(t, repo, enums.EventStatusPublished, true, nil)
	event, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, event.BaseFare.Equal(decimal.NewFromInt(100)))
}

func TestMarkCompletedIsIdempotent(t *testing.T) {
	repo := NewRepository(dbtest.Open(t, "events_complete")).(*repository)
	id := seedEvent(t, repo, enums.EventStatusPublished, true, nil)
	at := time.Date(2026, 10, 1, 22, 0, 0, 0, time.UTC)

	changed, err := repo.MarkCompleted(context.Background(), id, at)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkCompleted(context.Background(), id, at)
	require.NoError(t, err)
	assert.False(t, changed)

	event, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, enums.EventStatusCompleted, event.Status)
	require.NotNil(t, event.CompletedAt)
	assert.True(t, event.CompletedAt.Equal(at))
}

func TestListCompletedWithoutSnapshot(t *testing.T) {
	repo := NewRepository(dbtest.Open(t, "events_backfill")).(*repository)
	now := time.Now().UTC()
	earlier := now.Add(-time.Hour)

	withSnapshot := seedEvent(t, repo, enums.EventStatusCompleted, true, &earlier)
	pendingOld := seedEvent(t, repo, enums.EventStatusCompleted, true, &earlier)
	pendingNew := seedEvent(t, repo, enums.EventStatusCompleted, true, &now)
	seedEvent(t, repo, enums.EventStatusCompleted, false, &now)
	seedEvent(t, repo, enums.EventStatusPublished, true, nil)

	require.NoError(t, repo.db.Create(&models.PayoutSnapshot{
		ID:          uuid.New(),
		EventID:     withSnapshot,
		Source:      enums.PayoutSourceLiveAggregation,
		BaseFare:    decimal.NewFromInt(100),
		FinalFare:   decimal.NewFromInt(110),
		PlatformFee: decimal.Zero,
		HostEarning: decimal.Zero,
		CapturedAt:  now,
	}).Error)

	ids, err := repo.ListCompletedWithoutSnapshot(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{pendingOld, pendingNew}, ids)
}
