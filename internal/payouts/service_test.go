package payouts

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
	"github.com/angelmondragon/eventpass-backend/internal/fees"
	"github.com/angelmondragon/eventpass-backend/internal/payments"
	"github.com/angelmondragon/eventpass-backend/pkg/auth"
	"github.com/angelmondragon/eventpass-backend/pkg/db/dbtest"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
)

type staticFees struct {
	cfg fees.Config
}

func (f staticFees) Current(context.Context) fees.Config { return f.cfg }

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

type fixture struct {
	db     *gorm.DB
	svc    Service
	orders payments.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t, "payouts")
	orders := payments.NewRepository(conn)
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(conn),
		Orders: orders,
		Events: events.NewRepository(conn),
		Fees:   staticFees{cfg: fees.Config{Version: 4, Percentage: d("12")}},
		Tx:     dbtest.TxRunner{DB: conn},
		Outbox: outbox.NewService(outbox.NewRepository(conn), nil),
	})
	require.NoError(t, err)
	return &fixture{db: conn, svc: svc, orders: orders}
}

func (f *fixture) paidOrder(t *testing.T, event *models.Event, seats int, baseFare, pct string, version int) {
	t.Helper()
	breakdown, err := fees.Compute(d(baseFare), seats, fees.Config{Version: version, Percentage: d(pct)})
	require.NoError(t, err)
	paidAt := time.Now().UTC()
	require.NoError(t, f.orders.Create(context.Background(), &models.PaymentOrder{
		ID:                uuid.New(),
		ExternalID:        "EP-" + uuid.NewString(),
		Attempt:           1,
		EventID:           event.ID,
		PayerID:           uuid.New(),
		Seats:             seats,
		BaseFare:          breakdown.BaseFare,
		FeePercentage:     breakdown.FeePercentage,
		FeeConfigVersion:  version,
		PlatformFee:       breakdown.PlatformFee,
		FinalPricePerSeat: breakdown.FinalPricePerSeat,
		Amount:            breakdown.TotalAmount,
		Currency:          enums.CurrencyINR,
		Status:            enums.PaymentOrderPaid,
		ExpiresAt:         paidAt,
		PaidAt:            &paidAt,
	}))
}

func TestAggregateAppliesCanonicalFormulaPerPriceGroup(t *testing.T) {
	event := &models.Event{BaseFare: d("100")}
	paid := []models.PaymentOrder{
		{Seats: 2, BaseFare: d("100"), FeePercentage: d("10"), FeeConfigVersion: 1},
		{Seats: 3, BaseFare: d("100"), FeePercentage: d("10"), FeeConfigVersion: 1},
		{Seats: 1, BaseFare: d("100"), FeePercentage: d("15"), FeeConfigVersion: 2},
	}

	figures, err := Aggregate(event, paid, fees.Config{Version: 2, Percentage: d("15")})
	require.NoError(t, err)
	assert.Equal(t, 6, figures.TicketsSold)
	assert.True(t, figures.PlatformFee.Equal(d("65")), figures.PlatformFee.String())
	assert.True(t, figures.HostEarning.Equal(d("600")))
	assert.True(t, figures.FinalFare.Equal(d("115")))
	assert.Nil(t, figures.FeeConfigVersion)
}

func TestAggregateMatchesOrderTotals(t *testing.T) {
	event := &models.Event{BaseFare: d("100")}
	figures, err := Aggregate(event, []models.PaymentOrder{
		{Seats: 5, BaseFare: d("100"), FeePercentage: d("10"), FeeConfigVersion: 1},
	}, fees.Config{Version: 1, Percentage: d("10")})
	require.NoError(t, err)
	assert.True(t, figures.PlatformFee.Equal(d("50")))
	assert.True(t, figures.HostEarning.Equal(d("500")))
	assert.True(t, figures.FinalFare.Equal(d("110")))
	require.NotNil(t, figures.FeeConfigVersion)
	assert.Equal(t, 1, *figures.FeeConfigVersion)
}

func TestAggregateWithoutSalesUsesCurrentPrice(t *testing.T) {
	figures, err := Aggregate(&models.Event{BaseFare: d("250")}, nil, fees.Config{Percentage: d("10")})
	require.NoError(t, err)
	assert.Zero(t, figures.TicketsSold)
	assert.True(t, figures.PlatformFee.IsZero())
	assert.True(t, figures.FinalFare.Equal(d("275")))
}

func TestBuildSnapshotFromPaidOrdersIsCapturedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Status: enums.EventStatusCompleted})
	f.paidOrder(t, event, 5, "100.00", "10", 1)

	snapshot, err := f.svc.BuildSnapshot(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutSourceLiveAggregation, snapshot.Source)
	assert.Equal(t, 5, snapshot.TicketsSold)
	assert.True(t, snapshot.PlatformFee.Equal(d("50")))
	assert.True(t, snapshot.HostEarning.Equal(d("500")))

	f.paidOrder(t, event, 1, "100.00", "10", 1)
	again, err := f.svc.BuildSnapshot(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, snapshot.ID, again.ID)
	assert.Equal(t, 5, again.TicketsSold)

	assert.Equal(t, []enums.OutboxEventType{enums.EventPayoutSnapshotCaptured}, dbtest.OutboxTypes(t, f.db))
}

func TestBuildSnapshotCopiesPayoutRequestVerbatim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Status: enums.EventStatusCompleted})
	f.paidOrder(t, event, 2, "100.00", "10", 1)

	request, err := f.svc.RequestPayout(ctx, event.ID, auth.Actor{UserID: event.HostID})
	require.NoError(t, err)
	assert.Equal(t, 2, request.TicketsSold)

	_, err = f.svc.RequestPayout(ctx, event.ID, auth.Actor{UserID: event.HostID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	snapshot, err := f.svc.BuildSnapshot(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutSourcePayoutRequest, snapshot.Source)
	assert.Equal(t, 2, snapshot.TicketsSold)
	assert.True(t, snapshot.HostEarning.Equal(request.HostEarning))
}

func TestBuildSnapshotRequiresCompletedEvent(t *testing.T) {
	f := newFixture(t)
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{})
	_, err := f.svc.BuildSnapshot(context.Background(), event.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = f.svc.BuildSnapshot(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRebuildSnapshotIsStaffOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Status: enums.EventStatusCompleted})
	f.paidOrder(t, event, 1, "100.00", "10", 1)
	first, err := f.svc.BuildSnapshot(ctx, event.ID)
	require.NoError(t, err)

	_, err = f.svc.RebuildSnapshot(ctx, event.ID, auth.Actor{UserID: event.HostID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	f.paidOrder(t, event, 2, "100.00", "10", 1)
	staff := auth.Actor{UserID: uuid.New(), Staff: true}
	rebuilt, err := f.svc.RebuildSnapshot(ctx, event.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, first.ID, rebuilt.ID)
	assert.Equal(t, 3, rebuilt.TicketsSold)
	assert.Equal(t, 1, rebuilt.RebuildCount)
	require.NotNil(t, rebuilt.RebuiltBy)
	assert.Equal(t, staff.UserID, *rebuilt.RebuiltBy)
}

func TestLiveSummaryPrefersSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{})
	f.paidOrder(t, event, 4, "100.00", "10", 1)
	host := auth.Actor{UserID: event.HostID}

	live, err := f.svc.LiveSummary(ctx, event.ID, host)
	require.NoError(t, err)
	assert.False(t, live.Captured)
	assert.Equal(t, 4, live.TicketsSold)
	assert.True(t, live.PlatformFee.Equal(d("40")))

	_, err = f.svc.LiveSummary(ctx, event.ID, auth.Actor{UserID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	require.NoError(t, f.db.Model(&models.Event{}).Where("id = ?", event.ID).
		Update("status", enums.EventStatusCompleted).Error)
	snapshot, err := f.svc.BuildSnapshot(ctx, event.ID)
	require.NoError(t, err)

	captured, err := f.svc.LiveSummary(ctx, event.ID, auth.Actor{UserID: uuid.New(), Staff: true})
	require.NoError(t, err)
	assert.True(t, captured.Captured)
	require.NotNil(t, captured.Source)
	assert.Equal(t, snapshot.Source, *captured.Source)
	assert.True(t, captured.HostEarning.Equal(live.HostEarning))
}

func TestRequestPayoutIsHostOnly(t *testing.T) {
	f := newFixture(t)
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Status: enums.EventStatusCompleted})
	_, err := f.svc.RequestPayout(context.Background(), event.ID, auth.Actor{UserID: uuid.New(), Staff: true})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	draft := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Status: enums.EventStatusDraft})
	_, err = f.svc.RequestPayout(context.Background(), draft.ID, auth.Actor{UserID: draft.HostID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestRequestPayoutRefusedWhileSalesAreOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := dbtest.SeedEvent(t, f.db, dbtest.EventFixture{Status: enums.EventStatusPublished})
	f.paidOrder(t, event, 2, "100.00", "10", 1)

	_, err := f.svc.RequestPayout(ctx, event.ID, auth.Actor{UserID: event.HostID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	// seats keep selling until completion; the request then covers all of them
	f.paidOrder(t, event, 3, "100.00", "10", 1)
	require.NoError(t, f.db.Model(&models.Event{}).Where("id = ?", event.ID).
		Update("status", enums.EventStatusCompleted).Error)

	request, err := f.svc.RequestPayout(ctx, event.ID, auth.Actor{UserID: event.HostID})
	require.NoError(t, err)
	assert.Equal(t, 5, request.TicketsSold)
	assert.True(t, request.HostEarning.Equal(d("500")))

	snapshot, err := f.svc.BuildSnapshot(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, snapshot.TicketsSold)
}
