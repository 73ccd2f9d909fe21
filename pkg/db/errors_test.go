package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_payment_orders_active_reservation"}
	wrapped := fmt.Errorf("insert order: %w", pgErr)

	if !IsUniqueViolation(wrapped, "") {
		t.Fatalf("expected unique violation")
	}
	if !IsUniqueViolation(wrapped, "ux_payment_orders_active_reservation") {
		t.Fatalf("expected constraint match")
	}
	if IsUniqueViolation(wrapped, "ux_payment_orders_external_id") {
		t.Fatalf("unexpected constraint match")
	}
	if !IsUniqueViolation(errors.New("UNIQUE constraint failed: payment_orders.reservation_id"), "") {
		t.Fatalf("expected sqlite unique violation")
	}
	if IsUniqueViolation(nil, "") {
		t.Fatalf("nil is not a violation")
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(fmt.Errorf("query: %w", context.DeadlineExceeded)) {
		t.Fatalf("deadline exceeded should be a timeout")
	}
	if !IsTimeout(&pgconn.PgError{Code: "55P03"}) {
		t.Fatalf("lock_not_available should be a timeout")
	}
	if IsTimeout(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("unique violation is not a timeout")
	}
	if IsTimeout(errors.New("boom")) {
		t.Fatalf("plain error is not a timeout")
	}
}

func TestIsUniqueViolationSQLiteIgnoresConstraintName(t *testing.T) {
	err := errors.New("UNIQUE constraint failed: capacity_reservations.event_id, capacity_reservations.requester_id")
	if !IsUniqueViolation(err, "ux_capacity_reservations_held") {
		t.Fatalf("sqlite violations cannot be narrowed by index name")
	}
	if IsUniqueViolation(errors.New(`duplicate key value violates unique constraint "other"`), "ux_capacity_reservations_held") {
		t.Fatalf("postgres text naming another constraint should not match")
	}
}
