// Package idempotency dedupes at-least-once Pub/Sub deliveries per consumer.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is the slice of the Redis client the ledger needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Ledger records which events each consumer has taken ownership of. A claim
// expires after ttl; zero keeps it until released.
type Ledger struct {
	store Store
	ttl   time.Duration
}

func NewLedger(store Store, ttl time.Duration) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Ledger{store: store, ttl: ttl}, nil
}

// Claim reports whether the caller is the first to see eventID for consumer.
// A false result means another delivery already claimed it.
func (l *Ledger) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := l.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	return l.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), l.ttl)
}

// Release drops a claim so a redelivery can run the handler again.
func (l *Ledger) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := l.key(consumer, eventID)
	if err != nil {
		return err
	}
	return l.store.Del(ctx, key)
}

func (l *Ledger) key(consumer string, eventID uuid.UUID) (string, error) {
	consumer = strings.TrimSpace(consumer)
	switch {
	case consumer == "":
		return "", errors.New("consumer name is required")
	case strings.Contains(consumer, ":"):
		return "", errors.New("consumer name must not contain ':'")
	case eventID == uuid.Nil:
		return "", errors.New("event id is required")
	}
	return l.store.IdempotencyKey("consumed:"+consumer, eventID.String()), nil
}
