package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/eventpass-backend/api/responses"
	"github.com/angelmondragon/eventpass-backend/api/validators"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/eventpass-backend/pkg/redis"
)

const (
	IdempotencyKeyHeader    = "Idempotency-Key"
	IdempotentReplayHeader  = "Idempotent-Replayed"
	maxIdempotencyKeyLen    = 255
	idempotencyInFlightTTL  = 2 * time.Minute
	idempotencyStateRunning = "running"
	idempotencyStateDone    = "done"
)

// IdempotencyPolicy configures one mutating route: how long its responses
// replay and whether callers must send a key at all.
type IdempotencyPolicy struct {
	TTL      time.Duration
	Required bool
}

var (
	// IdempotencyOptional suits payer routes already deduplicated by domain
	// keys such as the reservation.
	IdempotencyOptional = IdempotencyPolicy{TTL: 24 * time.Hour}
	// IdempotencyRequired suits staff mutations.
	IdempotencyRequired = IdempotencyPolicy{TTL: 24 * time.Hour, Required: true}
	// IdempotencyMoney keeps money-moving responses replayable for a week.
	IdempotencyMoney = IdempotencyPolicy{TTL: 7 * 24 * time.Hour}
	// IdempotencyMoneyRequired is IdempotencyMoney with a mandatory key.
	IdempotencyMoneyRequired = IdempotencyPolicy{TTL: 7 * 24 * time.Hour, Required: true}
)

type idempotencyRecord struct {
	State       string `json:"state"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotent replays the first response for a repeated Idempotency-Key.
// Keys are scoped to caller, method and path. A second request arriving
// while the first is still running gets a conflict instead of running
// twice. 5xx responses are forgotten so the caller can retry.
func Idempotent(policy IdempotencyPolicy, store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			rawKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			switch {
			case rawKey == "" && policy.Required:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case rawKey == "":
				next.ServeHTTP(w, r)
				return
			case len(rawKey) > maxIdempotencyKeyLen:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, validators.MaxBodyBytes+1))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := requestHash(r.Method, body)
			key := store.IdempotencyKey(UserIDFromContext(ctx)+"|"+r.Method+"|"+r.URL.Path, rawKey)

			claimed, existing, err := claimIdempotencyKey(ctx, store, key, hash)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency store"))
				return
			}
			if !claimed {
				replayOrReject(ctx, logg, w, existing, hash)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			finishIdempotency(ctx, store, logg, key, hash, rec, policy.TTL)
		})
	}
}

// claimIdempotencyKey marks key as running. When another request already
// holds it, the stored record is returned instead.
func claimIdempotencyKey(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string) (bool, *idempotencyRecord, error) {
	marker, err := json.Marshal(idempotencyRecord{State: idempotencyStateRunning, RequestHash: hash})
	if err != nil {
		return false, nil, err
	}
	won, err := store.SetNX(ctx, key, string(marker), idempotencyInFlightTTL)
	if err != nil || won {
		return won, nil, err
	}
	raw, err := store.Get(ctx, key)
	switch {
	case errors.Is(err, pkgredis.Nil) || (err == nil && raw == ""):
		// expired between SETNX and GET; treat as still running
		return false, &idempotencyRecord{State: idempotencyStateRunning, RequestHash: hash}, nil
	case err != nil:
		return false, nil, err
	}
	var rec idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return false, nil, err
	}
	return false, &rec, nil
}

func replayOrReject(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, rec *idempotencyRecord, hash string) {
	switch {
	case rec.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case rec.State != idempotencyStateDone:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "a request with this Idempotency-Key is still in progress"))
	default:
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set(IdempotentReplayHeader, "true")
		w.WriteHeader(rec.Status)
		_, _ = w.Write(rec.Body)
	}
}

func finishIdempotency(ctx context.Context, store pkgredis.IdempotencyStore, logg *logger.Logger, key, hash string, rec *responseCapture, ttl time.Duration) {
	status := rec.statusCode()
	if status >= http.StatusInternalServerError {
		if err := store.Del(ctx, key); err != nil && logg != nil {
			logg.Error(ctx, "idempotency.release_failed", err)
		}
		return
	}
	payload, err := json.Marshal(idempotencyRecord{
		State:       idempotencyStateDone,
		RequestHash: hash,
		Status:      status,
		ContentType: rec.Header().Get("Content-Type"),
		Body:        rec.body.Bytes(),
	})
	if err == nil {
		err = store.Set(ctx, key, string(payload), ttl)
	}
	if err != nil && logg != nil {
		logg.Error(ctx, "idempotency.persist_failed", err)
	}
}

func requestHash(method string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
