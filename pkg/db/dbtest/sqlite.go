// Package dbtest opens isolated in-memory SQLite databases carrying the
// payment schema, for repository and service tests.
package dbtest

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  host_id TEXT NOT NULL,
  title TEXT NOT NULL,
  base_fare TEXT NOT NULL,
  capacity INTEGER NOT NULL,
  is_paid INTEGER NOT NULL DEFAULT 1,
  status TEXT NOT NULL,
  starts_at DATETIME NOT NULL,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS event_inventories (
  event_id TEXT PRIMARY KEY,
  capacity INTEGER NOT NULL,
  held_seats INTEGER NOT NULL DEFAULT 0,
  sold_seats INTEGER NOT NULL DEFAULT 0,
  updated_at DATETIME,
  CHECK (held_seats >= 0 AND sold_seats >= 0 AND held_seats + sold_seats <= capacity)
);`,
	`CREATE TABLE IF NOT EXISTS platform_fee_configs (
  id TEXT PRIMARY KEY,
  version INTEGER NOT NULL UNIQUE,
  percentage TEXT NOT NULL,
  effective_at DATETIME NOT NULL,
  updated_by TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS capacity_reservations (
  id TEXT PRIMARY KEY,
  reservation_key TEXT NOT NULL UNIQUE,
  event_id TEXT NOT NULL,
  requester_id TEXT NOT NULL,
  approved_by TEXT NOT NULL,
  seats INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'held',
  expires_at DATETIME NOT NULL,
  consumed_at DATETIME,
  released_at DATETIME,
  release_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_capacity_reservations_held
  ON capacity_reservations (event_id, requester_id) WHERE status = 'held';`,
	`CREATE TABLE IF NOT EXISTS payment_orders (
  id TEXT PRIMARY KEY,
  external_id TEXT NOT NULL UNIQUE,
  attempt INTEGER NOT NULL,
  event_id TEXT NOT NULL,
  payer_id TEXT NOT NULL,
  reservation_id TEXT,
  seats INTEGER NOT NULL,
  base_fare TEXT NOT NULL,
  fee_percentage TEXT NOT NULL,
  fee_config_version INTEGER NOT NULL,
  platform_fee TEXT NOT NULL,
  final_price_per_seat TEXT NOT NULL,
  amount TEXT NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'created',
  provider_payment_id TEXT,
  provider_txn_id TEXT,
  failure_reason TEXT,
  expires_at DATETIME NOT NULL,
  redirect_issued_at DATETIME,
  paid_at DATETIME,
  failed_at DATETIME,
  expired_at DATETIME,
  refunded_at DATETIME,
  refunded_by TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_orders_active_reservation
  ON payment_orders (reservation_id) WHERE status IN ('created', 'pending');`,
	`CREATE TABLE IF NOT EXISTS payout_requests (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  host_id TEXT NOT NULL,
  base_fare TEXT NOT NULL,
  final_fare TEXT NOT NULL,
  tickets_sold INTEGER NOT NULL,
  platform_fee TEXT NOT NULL,
  host_earning TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS payout_snapshots (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  source TEXT NOT NULL,
  base_fare TEXT NOT NULL,
  final_fare TEXT NOT NULL,
  tickets_sold INTEGER NOT NULL,
  platform_fee TEXT NOT NULL,
  host_earning TEXT NOT NULL,
  fee_config_version INTEGER,
  captured_at DATETIME NOT NULL,
  rebuilt_at DATETIME,
  rebuilt_by TEXT,
  rebuild_count INTEGER NOT NULL DEFAULT 0
);`,
	`CREATE TABLE IF NOT EXISTS gateway_callbacks (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  source TEXT NOT NULL,
  external_order_id TEXT NOT NULL,
  order_id TEXT,
  outcome TEXT NOT NULL,
  result TEXT NOT NULL,
  flagged INTEGER NOT NULL DEFAULT 0,
  detail TEXT,
  provider_payment_id TEXT,
  payload TEXT,
  received_at DATETIME NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE IF NOT EXISTS outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns a fresh database with every payment table created.
func Open(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := "file:" + name + "_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// TxRunner adapts a *gorm.DB to the WithTx surface services depend on.
type TxRunner struct {
	DB *gorm.DB
}

func (r TxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.DB.WithContext(ctx).Transaction(fn)
}

// QueryErrors collects the errors raised by query statements, the same ones
// gorm's logger would print.
type QueryErrors struct {
	mu   sync.Mutex
	errs []error
}

func (q *QueryErrors) All() []error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]error(nil), q.errs...)
}

// RecordQueryErrors starts collecting query errors raised on db.
func RecordQueryErrors(t *testing.T, db *gorm.DB) *QueryErrors {
	t.Helper()
	recorder := &QueryErrors{}
	err := db.Callback().Query().After("gorm:query").Register("dbtest:record_errors", func(tx *gorm.DB) {
		if tx.Error == nil {
			return
		}
		recorder.mu.Lock()
		recorder.errs = append(recorder.errs, tx.Error)
		recorder.mu.Unlock()
	})
	if err != nil {
		t.Fatalf("register query callback: %v", err)
	}
	return recorder
}
