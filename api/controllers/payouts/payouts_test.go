package payouts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/eventpass-backend/api/middleware"
	internalpayouts "github.com/angelmondragon/eventpass-backend/internal/payouts"
	"github.com/angelmondragon/eventpass-backend/pkg/auth"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
)

type stubPayouts struct {
	internalpayouts.Service
	eventID uuid.UUID
	actor   auth.Actor
	err     error
}

func (s *stubPayouts) RequestPayout(_ context.Context, eventID uuid.UUID, host auth.Actor) (*models.PayoutRequest, error) {
	s.eventID, s.actor = eventID, host
	if s.err != nil {
		return nil, s.err
	}
	return &models.PayoutRequest{
		ID:          uuid.New(),
		EventID:     eventID,
		HostID:      host.UserID,
		BaseFare:    decimal.NewFromInt(100),
		FinalFare:   decimal.NewFromInt(110),
		TicketsSold: 3,
		PlatformFee: decimal.NewFromInt(30),
		HostEarning: decimal.NewFromInt(300),
	}, nil
}

func (s *stubPayouts) RebuildSnapshot(_ context.Context, eventID uuid.UUID, actor auth.Actor) (*models.PayoutSnapshot, error) {
	s.eventID, s.actor = eventID, actor
	now := time.Now().UTC()
	return &models.PayoutSnapshot{
		ID:           uuid.New(),
		EventID:      eventID,
		Source:       enums.PayoutSourceLiveAggregation,
		TicketsSold:  2,
		CapturedAt:   now.Add(-time.Hour),
		RebuiltAt:    &now,
		RebuiltBy:    &actor.UserID,
		RebuildCount: 1,
	}, nil
}

func (s *stubPayouts) LiveSummary(_ context.Context, eventID uuid.UUID, _ auth.Actor) (*internalpayouts.Summary, error) {
	return &internalpayouts.Summary{EventID: eventID, Figures: internalpayouts.Figures{TicketsSold: 4}}, nil
}

func request(method string, eventID string) *http.Request {
	req := httptest.NewRequest(method, "/", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("eventId", eventID)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = middleware.WithActor(ctx, auth.Actor{UserID: uuid.New()})
	return req.WithContext(ctx)
}

func TestRequestPayoutReturnsFigures(t *testing.T) {
	svc := &stubPayouts{}
	eventID := uuid.New()
	resp := httptest.NewRecorder()

	RequestPayout(svc, nil).ServeHTTP(resp, request(http.MethodPost, eventID.String()))

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, eventID, svc.eventID)
	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "300", body.Data["hostEarning"])
	assert.EqualValues(t, 3, body.Data["ticketsSold"])
}

func TestRequestPayoutDuplicateIsConflict(t *testing.T) {
	svc := &stubPayouts{err: pkgerrors.New(pkgerrors.CodeConflict, "payout already requested")}
	resp := httptest.NewRecorder()

	RequestPayout(svc, nil).ServeHTTP(resp, request(http.MethodPost, uuid.NewString()))

	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestRebuildSnapshotView(t *testing.T) {
	svc := &stubPayouts{}
	resp := httptest.NewRecorder()

	RebuildSnapshot(svc, nil).ServeHTTP(resp, request(http.MethodPost, uuid.NewString()))

	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Data SnapshotView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, enums.PayoutSourceLiveAggregation, body.Data.Source)
	assert.Equal(t, 1, body.Data.RebuildCount)
	require.NotNil(t, body.Data.RebuiltBy)
	assert.Equal(t, svc.actor.UserID, *body.Data.RebuiltBy)
}

func TestSummaryRejectsBadEventID(t *testing.T) {
	resp := httptest.NewRecorder()

	Summary(&stubPayouts{}, nil).ServeHTTP(resp, request(http.MethodGet, "not-a-uuid"))

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
