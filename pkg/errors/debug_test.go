package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"go.uber.org/multierr"
)

func TestDumpTypedPostgresError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_payout_requests_event_id", TableName: "payout_requests"}
	err := Wrap(CodeConflict, fmt.Errorf("insert payout request: %w", pgErr), "payout already requested").WithReason("PAYOUT_ALREADY_REQUESTED")

	d := Dump(err)

	if d.Code != CodeConflict || d.Reason != "PAYOUT_ALREADY_REQUESTED" {
		t.Fatalf("unexpected code/reason %s/%s", d.Code, d.Reason)
	}
	if d.Postgres == nil || d.Postgres.Constraint != "ux_payout_requests_event_id" {
		t.Fatalf("postgres detail missing: %+v", d.Postgres)
	}
	if len(d.Chain) < 3 {
		t.Fatalf("expected full chain, got %v", d.Chain)
	}
	fields := d.Fields()
	if fields["pg_code"] != "23505" || fields["error_reason"] != "PAYOUT_ALREADY_REQUESTED" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestDumpWalksJoinedErrors(t *testing.T) {
	joined := multierr.Combine(
		fmt.Errorf("event a: %w", &pq.Error{Code: "40001", Table: "payment_orders"}),
		fmt.Errorf("event b: timeout"),
	)

	d := Dump(joined)

	if d.Postgres == nil || d.Postgres.Code != "40001" {
		t.Fatalf("expected pq detail from joined error, got %+v", d.Postgres)
	}
	if len(d.Chain) != 4 {
		t.Fatalf("expected root, two branches and pq leaf, got %v", d.Chain)
	}
	if d.Code != "" {
		t.Fatalf("untyped error should have no code")
	}
}

func TestDumpNil(t *testing.T) {
	if d := Dump(nil); d.TopMessage != "" || d.Chain != nil {
		t.Fatalf("expected empty dump, got %+v", d)
	}
}
