package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
)

type stubDeadLetters struct {
	filter   outbox.DeadLetterFilter
	replayed uuid.UUID
	err      error
}

func (s *stubDeadLetters) List(_ context.Context, filter outbox.DeadLetterFilter) (*outbox.DeadLetterPage, error) {
	s.filter = filter
	return &outbox.DeadLetterPage{Items: []models.OutboxDLQ{{ID: uuid.New(), ErrorReason: enums.OutboxDLQReasonMaxAttempts}}}, nil
}

func (s *stubDeadLetters) Replay(_ context.Context, id uuid.UUID) (*models.OutboxDLQ, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.replayed = id
	return &models.OutboxDLQ{ID: id}, nil
}

func replayRequest(id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("deadLetterId", id)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestDeadLettersFiltersByEventType(t *testing.T) {
	store := &stubDeadLetters{}
	resp := httptest.NewRecorder()
	DeadLetters(store, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/?eventType=payment_order_paid", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if store.filter.EventType != enums.EventPaymentOrderPaid || store.filter.Limit != defaultDeadLetterLimit {
		t.Fatalf("unexpected filter %+v", store.filter)
	}

	resp = httptest.NewRecorder()
	DeadLetters(store, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/?eventType=cart_created", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestReplayDeadLetter(t *testing.T) {
	store := &stubDeadLetters{}
	id := uuid.New()
	resp := httptest.NewRecorder()
	ReplayDeadLetter(store, nil).ServeHTTP(resp, replayRequest(id.String()))
	if resp.Code != http.StatusAccepted || store.replayed != id {
		t.Fatalf("expected 202 for %s, got %d", id, resp.Code)
	}

	store.err = pkgerrors.New(pkgerrors.CodeStateConflict, "already published")
	resp = httptest.NewRecorder()
	ReplayDeadLetter(store, nil).ServeHTTP(resp, replayRequest(id.String()))
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	ReplayDeadLetter(store, nil).ServeHTTP(resp, replayRequest("nope"))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
