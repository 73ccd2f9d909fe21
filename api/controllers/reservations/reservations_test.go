package reservations

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/eventpass-backend/api/middleware"
	internalreservations "github.com/angelmondragon/eventpass-backend/internal/reservations"
	"github.com/angelmondragon/eventpass-backend/pkg/auth"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

type stubReservations struct {
	internalreservations.Service
	hold      internalreservations.HoldInput
	cancelKey string
}

func (s *stubReservations) Hold(_ context.Context, input internalreservations.HoldInput) (*models.CapacityReservation, error) {
	s.hold = input
	return &models.CapacityReservation{
		ReservationKey: strings.Repeat("a", 64),
		EventID:        input.EventID,
		RequesterID:    input.RequesterID,
		Seats:          input.Seats,
		Status:         enums.ReservationHeld,
		ExpiresAt:      time.Now().Add(30 * time.Minute),
	}, nil
}

func (s *stubReservations) Cancel(_ context.Context, key string, _ auth.Actor) (*models.CapacityReservation, error) {
	s.cancelKey = key
	reason := "canceled"
	return &models.CapacityReservation{ReservationKey: key, Status: enums.ReservationReleased, ReleaseReason: &reason}, nil
}

func withRoute(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(middleware.WithActor(ctx, auth.Actor{UserID: uuid.New()}))
}

func TestHoldForwardsApproval(t *testing.T) {
	svc := &stubReservations{}
	eventID, requester := uuid.New(), uuid.New()
	body := `{"requesterId":"` + requester.String() + `","seats":2}`
	req := withRoute(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), "eventId", eventID.String())
	resp := httptest.NewRecorder()

	Hold(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, eventID, svc.hold.EventID)
	assert.Equal(t, requester, svc.hold.RequesterID)
	assert.Equal(t, 2, svc.hold.Seats)
	assert.Contains(t, resp.Body.String(), `"reservationKey":"`+strings.Repeat("a", 64)+`"`)
}

func TestHoldRejectsZeroSeats(t *testing.T) {
	body := `{"requesterId":"` + uuid.NewString() + `","seats":0}`
	req := withRoute(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), "eventId", uuid.NewString())
	resp := httptest.NewRecorder()

	Hold(&stubReservations{}, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCancelValidatesKey(t *testing.T) {
	svc := &stubReservations{}
	resp := httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(resp, withRoute(httptest.NewRequest(http.MethodPost, "/", nil), "reservationKey", "abc"))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "abc", svc.cancelKey)
	assert.Contains(t, resp.Body.String(), `"releaseReason":"canceled"`)

	resp = httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(resp, withRoute(httptest.NewRequest(http.MethodPost, "/", nil), "reservationKey", "a b"))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
