package reservations

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/internal/events"
	"github.com/angelmondragon/eventpass-backend/pkg/auth"
	"github.com/angelmondragon/eventpass-backend/pkg/db/dbtest"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
)

type fixture struct {
	db    *gorm.DB
	svc   *service
	repo  Repository
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t, "reservations")
	repo := NewRepository(conn)
	svc, err := NewService(ServiceParams{
		Repo:     repo,
		Events:   events.NewRepository(conn),
		Tx:       dbtest.TxRunner{DB: conn},
		Outbox:   outbox.NewService(outbox.NewRepository(conn), nil),
		HoldTTL:  30 * time.Minute,
		MaxSeats: 10,
	})
	require.NoError(t, err)
	f := &fixture{db: conn, svc: svc.(*service), repo: repo, clock: time.Now().UTC()}
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) hold(t *testing.T, event *models.Event, requester uuid.UUID, seats int) *models.CapacityReservation {
	t.Helper()
	reservation, err := f.svc.Hold(context.Background(), HoldInput{
		EventID:     event.ID,
		RequesterID: requester,
		Seats:       seats,
		Approver:    auth.Actor{UserID: event.HostID},
	})
	require.NoError(t, err)
	return reservation
}

func (f *fixture) inventory(t *testing.T, eventID uuid.UUID) *models.EventInventory {
	t.Helper()
	inv, err := f.repo.Inventory(context.Background(), eventID)
	require.NoError(t, err)
	return inv
}

func (f *fixture) seedOrder(t *testing.T, reservation *models.CapacityReservation, status enums.PaymentOrderStatus) {
	t.Helper()
	id := reservation.ID
	order := models.PaymentOrder{
		ID:                uuid.New(),
		ExternalID:        "EP-" + uuid.NewString(),
		Attempt:           1,
		EventID:           reservation.EventID,
		PayerID:           reservation.RequesterID,
		ReservationID:     &id,
		Seats:             reservation.Seats,
		BaseFare:          decimal.NewFromInt(100),
		FeePercentage:     decimal.NewFromInt(10),
		FeeConfigVersion:  1,
		PlatformFee:       decimal.NewFromInt(10),
		FinalPricePerSeat: decimal.NewFromInt(110),
		Amount:            decimal.NewFromInt(110),
		Currency:          enums.CurrencyINR,
		Status:            status,
		ExpiresAt:         f.clock.Add(15 * time.Minute),
	}
	require.NoError(t, f.db.Create(&order).Error)
}

func TestHoldClaimsSeatsAndIssuesKey(t *testing.T) {
	f := newFixture(t)
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Capacity: 10})

	reservation := f.hold(t, event, uuid.New(), 4)

	assert.Len(t, reservation.ReservationKey, 64)
	assert.Equal(t, enums.ReservationHeld, reservation.Status)
	assert.True(t, reservation.ExpiresAt.Equal(f.clock.Add(30*time.Minute)))

	inv := f.inventory(t, event.ID)
	assert.Equal(t, 4, inv.HeldSeats)
	assert.Equal(t, 6, inv.Available())
	assert.Equal(t, []enums.OutboxEventType{enums.EventReservationHeld}, dbtest.OutboxTypes(t, f.db))
}

func TestHoldRejectsWhenCapacityExhausted(t *testing.T) {
	f := newFixture(t)
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Capacity: 5})
	f.hold(t, event, uuid.New(), 4)

	_, err := f.svc.Hold(context.Background(), HoldInput{
		EventID: event.ID, RequesterID: uuid.New(), Seats: 2, Approver: auth.Actor{UserID: event.HostID},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInsufficientCapacity))
	assert.Equal(t, 4, f.inventory(t, event.ID).HeldSeats)
}

func TestHoldRejectsSecondHoldForSameRequester(t *testing.T) {
	f := newFixture(t)
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{})
	requester := uuid.New()
	f.hold(t, event, requester, 2)

	_, err := f.svc.Hold(context.Background(), HoldInput{
		EventID: event.ID, RequesterID: requester, Seats: 1, Approver: auth.Actor{UserID: event.HostID},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Equal(t, 2, f.inventory(t, event.ID).HeldSeats, "claim rolled back with the failed insert")
}

func TestHoldValidatesEventAndApprover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paid := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{})
	free := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Free: true})
	draft := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Status: enums.EventStatusDraft})

	tests := []struct {
		name  string
		input HoldInput
		code  pkgerrors.Code
	}{
		{"stranger approves", HoldInput{EventID: paid.ID, RequesterID: uuid.New(), Seats: 1, Approver: auth.Actor{UserID: uuid.New()}}, pkgerrors.CodeForbidden},
		{"free event", HoldInput{EventID: free.ID, RequesterID: uuid.New(), Seats: 1, Approver: auth.Actor{UserID: free.HostID}}, pkgerrors.CodeValidation},
		{"draft event", HoldInput{EventID: draft.ID, RequesterID: uuid.New(), Seats: 1, Approver: auth.Actor{UserID: draft.HostID}}, pkgerrors.CodeValidation},
		{"unknown event", HoldInput{EventID: uuid.New(), RequesterID: uuid.New(), Seats: 1, Approver: auth.Actor{UserID: uuid.New()}}, pkgerrors.CodeNotFound},
		{"zero seats", HoldInput{EventID: paid.ID, RequesterID: uuid.New(), Seats: 0, Approver: auth.Actor{UserID: paid.HostID}}, pkgerrors.CodeValidation},
		{"too many seats", HoldInput{EventID: paid.ID, RequesterID: uuid.New(), Seats: 11, Approver: auth.Actor{UserID: paid.HostID}}, pkgerrors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Hold(ctx, tt.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tt.code), "got %v", err)
		})
	}

	// staff may approve on the host's behalf
	_, err := f.svc.Hold(ctx, HoldInput{EventID: paid.ID, RequesterID: uuid.New(), Seats: 1, Approver: auth.Actor{UserID: uuid.New(), Staff: true}})
	require.NoError(t, err)
}

func TestValidateForOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{})
	other := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{})
	requester := uuid.New()
	reservation := f.hold(t, event, requester, 2)

	validate := func(key string, eventID, payer uuid.UUID) error {
		return f.db.Transaction(func(tx *gorm.DB) error {
			_, err := f.svc.ValidateForOrder(ctx, tx, key, eventID, payer)
			return err
		})
	}

	require.NoError(t, validate(reservation.ReservationKey, event.ID, requester))

	err := validate("missing", event.ID, requester)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	err = validate(reservation.ReservationKey, event.ID, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	err = validate(reservation.ReservationKey, other.ID, requester)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	f.clock = reservation.ExpiresAt
	err = validate(reservation.ReservationKey, event.ID, requester)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonNoActiveReservation))
}

func TestConsumeMovesHeldSeatsToSold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Capacity: 10})
	reservation := f.hold(t, event, uuid.New(), 3)

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		moved, err := f.svc.Consume(ctx, tx, reservation)
		require.True(t, moved)
		return err
	}))
	inv := f.inventory(t, event.ID)
	assert.Equal(t, 0, inv.HeldSeats)
	assert.Equal(t, 3, inv.SoldSeats)

	// replay is a no-op
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		moved, err := f.svc.Consume(ctx, tx, reservation)
		assert.False(t, moved)
		return err
	}))
	assert.Equal(t, 3, f.inventory(t, event.ID).SoldSeats)

	err := validateKey(f, reservation)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonNoActiveReservation))
}

func validateKey(f *fixture, reservation *models.CapacityReservation) error {
	return f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.ValidateForOrder(context.Background(), tx, reservation.ReservationKey, reservation.EventID, reservation.RequesterID)
		return err
	})
}

func TestReleaseReturnsSeatsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Capacity: 10})
	reservation := f.hold(t, event, uuid.New(), 5)

	for i, want := range []bool{true, false} {
		require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
			moved, err := f.svc.Release(ctx, tx, reservation, enums.ReservationReleased, ReasonPaymentFailed)
			assert.Equal(t, want, moved, "attempt %d", i)
			return err
		}))
	}
	assert.Equal(t, 0, f.inventory(t, event.ID).HeldSeats)
	assert.Contains(t, dbtest.OutboxTypes(t, f.db), enums.EventReservationReleased)

	stored, err := f.repo.FindByID(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationReleased, stored.Status)
	require.NotNil(t, stored.ReleaseReason)
	assert.Equal(t, ReasonPaymentFailed, *stored.ReleaseReason)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{})
	requester := uuid.New()

	busy := f.hold(t, event, requester, 1)
	f.seedOrder(t, busy, enums.PaymentOrderPending)

	_, err := f.svc.Cancel(ctx, busy.ReservationKey, auth.Actor{UserID: requester})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	_, err = f.svc.Cancel(ctx, busy.ReservationKey, auth.Actor{UserID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	free := f.hold(t, event, uuid.New(), 2)
	canceled, err := f.svc.Cancel(ctx, free.ReservationKey, auth.Actor{UserID: event.HostID})
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationReleased, canceled.Status)
	assert.Equal(t, 1, f.inventory(t, event.ID).HeldSeats)

	_, err = f.svc.Cancel(ctx, free.ReservationKey, auth.Actor{UserID: event.HostID})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonNoActiveReservation))
}

func TestExpireStaleHoldsSkipsHoldsWithActiveOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Capacity: 10})

	idle := f.hold(t, event, uuid.New(), 2)
	paying := f.hold(t, event, uuid.New(), 3)
	f.seedOrder(t, paying, enums.PaymentOrderCreated)
	fresh := f.hold(t, event, uuid.New(), 1)
	_ = fresh

	now := f.clock.Add(31 * time.Minute)
	require.NoError(t, f.db.Model(&models.CapacityReservation{}).
		Where("id = ?", fresh.ID).Update("expires_at", now.Add(time.Hour)).Error)

	expired, err := f.svc.ExpireStaleHolds(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	stored, err := f.repo.FindByID(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationExpired, stored.Status)
	assert.Equal(t, 4, f.inventory(t, event.ID).HeldSeats)

	again, err := f.svc.ExpireStaleHolds(ctx, now, 10)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestGetAuthorizesRequesterHostAndStaff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{})
	requester := uuid.New()
	reservation := f.hold(t, event, requester, 1)

	for _, actor := range []auth.Actor{{UserID: requester}, {UserID: event.HostID}, {UserID: uuid.New(), Staff: true}} {
		got, err := f.svc.Get(ctx, reservation.ReservationKey, actor)
		require.NoError(t, err)
		assert.Equal(t, reservation.ID, got.ID)
	}
	_, err := f.svc.Get(ctx, reservation.ReservationKey, auth.Actor{UserID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestReturnConsumedOnlyForConsumedReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Capacity: 10})
	sold := f.hold(t, event, uuid.New(), 3)
	held := f.hold(t, event, uuid.New(), 2)

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.Consume(ctx, tx, sold)
		return err
	}))

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		returned, err := f.svc.ReturnConsumed(ctx, tx, held.ID)
		assert.False(t, returned)
		return err
	}))
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		returned, err := f.svc.ReturnConsumed(ctx, tx, sold.ID)
		assert.True(t, returned)
		return err
	}))

	inv := f.inventory(t, event.ID)
	assert.Equal(t, 0, inv.SoldSeats)
	assert.Equal(t, 2, inv.HeldSeats)
}

// orderRacingRepo commits an order on a listed hold after the sweep has
// picked its candidates.
type orderRacingRepo struct {
	Repository
	onListed func([]models.CapacityReservation)
}

func (r orderRacingRepo) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.CapacityReservation, error) {
	rows, err := r.Repository.ListExpiredHolds(ctx, now, limit)
	if err == nil && r.onListed != nil {
		r.onListed(rows)
	}
	return rows, err
}

func TestExpireStaleHoldsKeepsHoldWhoseOrderLandedAfterListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Capacity: 10})
	reservation := f.hold(t, event, uuid.New(), 3)

	f.svc.repo = orderRacingRepo{Repository: f.repo, onListed: func(rows []models.CapacityReservation) {
		require.Len(t, rows, 1)
		f.seedOrder(t, reservation, enums.PaymentOrderPending)
	}}

	expired, err := f.svc.ExpireStaleHolds(ctx, f.clock.Add(31*time.Minute), 10)
	require.NoError(t, err)
	assert.Zero(t, expired)

	stored, err := f.repo.FindByID(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationHeld, stored.Status)
	assert.Equal(t, 3, f.inventory(t, event.ID).HeldSeats)
	assert.NotContains(t, dbtest.OutboxTypes(t, f.db), enums.EventReservationReleased)
}

func TestCancelRefusedOnceOrderCommitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Capacity: 10})
	requester := uuid.New()
	reservation := f.hold(t, event, requester, 2)
	f.seedOrder(t, reservation, enums.PaymentOrderCreated)

	_, err := f.svc.Cancel(ctx, reservation.ReservationKey, auth.Actor{UserID: requester})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
	assert.Equal(t, 2, f.inventory(t, event.ID).HeldSeats)
}

func TestTransitionIfNoActiveOrderLocksReservationRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Capacity: 10})
	reservation := f.hold(t, event, uuid.New(), 1)

	var lockedReads []string
	require.NoError(t, f.db.Callback().Query().Before("gorm:query").Register("test:record_locks", func(db *gorm.DB) {
		if _, ok := db.Statement.Clauses["FOR"]; ok {
			lockedReads = append(lockedReads, db.Statement.Table)
		}
	}))
	t.Cleanup(func() { _ = f.db.Callback().Query().Remove("test:record_locks") })

	moved, err := f.repo.TransitionIfNoActiveOrder(ctx, reservation.ID, enums.ReservationReleased, map[string]any{"released_at": f.clock})
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"capacity_reservations"}, lockedReads)

	moved, err = f.repo.TransitionIfNoActiveOrder(ctx, reservation.ID, enums.ReservationReleased, nil)
	require.NoError(t, err)
	assert.False(t, moved)
}
