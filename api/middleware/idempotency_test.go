package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/eventpass-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	pkgredis "github.com/angelmondragon/eventpass-backend/pkg/redis"
)

func newIdempotencyStore(t *testing.T) (*pkgredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := pkgredis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func postAs(user uuid.UUID, path, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	return req.WithContext(WithActor(req.Context(), auth.Actor{UserID: user}))
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload.Error.Code
}

func TestIdempotentRequiredPolicyRejectsMissingKey(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	var calls int32
	h := Idempotent(IdempotencyRequired, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, postAs(uuid.New(), "/api/v1/admin/fee-config", "", `{}`))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestIdempotentOptionalPolicyPassesThrough(t *testing.T) {
	store, mr := newIdempotencyStore(t)
	h := Idempotent(IdempotencyOptional, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, postAs(uuid.New(), "/api/v1/payments/orders", "", `{}`))
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Empty(t, mr.Keys())
}

func TestIdempotentReplaysStoredResponse(t *testing.T) {
	store, mr := newIdempotencyStore(t)
	user := uuid.New()
	var calls int32
	h := Idempotent(IdempotencyMoney, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, postAs(user, "/api/v1/events/e1/payout-requests", "abc", `{"note":"x"}`))
	require.Equal(t, http.StatusAccepted, first.Code)
	assert.Empty(t, first.Header().Get(IdempotentReplayHeader))

	replay := httptest.NewRecorder()
	h.ServeHTTP(replay, postAs(user, "/api/v1/events/e1/payout-requests", "abc", `{"note":"x"}`))
	assert.Equal(t, http.StatusAccepted, replay.Code)
	assert.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	assert.Equal(t, "true", replay.Header().Get(IdempotentReplayHeader))
	assert.Equal(t, `{"ok":true}`, replay.Body.String())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.InDelta(t, (7 * 24 * time.Hour).Seconds(), mr.TTL(keys[0]).Seconds(), 1)
}

func TestIdempotentKeysAreScopedPerCaller(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	var calls int32
	h := Idempotent(IdempotencyOptional, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusCreated)
	}))

	h.ServeHTTP(httptest.NewRecorder(), postAs(uuid.New(), "/api/v1/payments/orders", "same", `{}`))
	h.ServeHTTP(httptest.NewRecorder(), postAs(uuid.New(), "/api/v1/payments/orders", "same", `{}`))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestIdempotentDetectsBodyChange(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	user := uuid.New()
	h := Idempotent(IdempotencyOptional, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), postAs(user, "/api/v1/payments/orders", "xyz", `{"amount":"550.00"}`))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, postAs(user, "/api/v1/payments/orders", "xyz", `{"amount":"1.00"}`))

	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, resp))
}

func TestIdempotentForgetsServerErrors(t *testing.T) {
	store, mr := newIdempotencyStore(t)
	user := uuid.New()
	var calls int32
	h := Idempotent(IdempotencyOptional, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	h.ServeHTTP(httptest.NewRecorder(), postAs(user, "/api/v1/payments/orders", "retry-me", `{}`))
	assert.Empty(t, mr.Keys())

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, postAs(user, "/api/v1/payments/orders", "retry-me", `{}`))
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestIdempotentRejectsConcurrentDuplicate(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	user := uuid.New()
	entered := make(chan struct{})
	release := make(chan struct{})
	h := Idempotent(IdempotencyOptional, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusCreated)
	}))

	done := make(chan int, 1)
	go func() {
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, postAs(user, "/api/v1/payments/orders", "dup", `{}`))
		done <- resp.Code
	}()
	<-entered

	second := httptest.NewRecorder()
	h.ServeHTTP(second, postAs(user, "/api/v1/payments/orders", "dup", `{}`))
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, second))

	close(release)
	assert.Equal(t, http.StatusCreated, <-done)
}

func TestIdempotentSurfacesStoreOutage(t *testing.T) {
	store, mr := newIdempotencyStore(t)
	mr.Close()
	h := Idempotent(IdempotencyOptional, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run when the store is down")
	}))

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, postAs(uuid.New(), "/api/v1/payments/orders", "k", `{}`))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}
