// Package reporting streams captured payout snapshots into BigQuery.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/eventpass-backend/internal/consumer"
	bq "github.com/angelmondragon/eventpass-backend/pkg/bigquery"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox/registry"
)

// ConsumerName scopes the idempotency keys of this handler.
const ConsumerName = "payout-reporting"

type rowInserter interface {
	InsertRow(ctx context.Context, table, insertID string, row any) error
}

// SnapshotRow is the payout_snapshots table schema.
type SnapshotRow struct {
	SnapshotID       string              `bigquery:"snapshot_id"`
	EventID          string              `bigquery:"event_id"`
	Source           string              `bigquery:"source"`
	BaseFare         *big.Rat            `bigquery:"base_fare"`
	FinalFare        *big.Rat            `bigquery:"final_fare"`
	TicketsSold      int64               `bigquery:"tickets_sold"`
	PlatformFee      *big.Rat            `bigquery:"platform_fee"`
	HostEarning      *big.Rat            `bigquery:"host_earning"`
	FeeConfigVersion cbigquery.NullInt64 `bigquery:"fee_config_version"`
	RebuildCount     int64               `bigquery:"rebuild_count"`
	CapturedAt       time.Time           `bigquery:"captured_at"`
	IngestedAt       time.Time           `bigquery:"ingested_at"`
}

// Handler writes one row per payout_snapshot_captured message.
type Handler struct {
	client   rowInserter
	table    string
	decoders *registry.Decoders
	logg     *logger.Logger
	now      func() time.Time
}

func NewHandler(client rowInserter, table string, logg *logger.Logger) (*Handler, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("bigquery table name required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	decoders := registry.NewDecoders()
	if err := registry.RegisterJSON[payloads.PayoutSnapshotCapturedEvent](decoders, enums.EventPayoutSnapshotCaptured, 1); err != nil {
		return nil, err
	}
	return &Handler{
		client:   client,
		table:    strings.TrimSpace(table),
		decoders: decoders,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// Handle implements consumer.Handler.
func (h *Handler) Handle(ctx context.Context, envelope consumer.Envelope) error {
	if envelope.EventType != enums.EventPayoutSnapshotCaptured {
		return consumer.Permanent(fmt.Errorf("unexpected event type %s", envelope.EventType))
	}
	snapshot, err := registry.Decode[payloads.PayoutSnapshotCapturedEvent](h.decoders, envelope.EventType, envelope.Version, envelope.Payload)
	if err != nil {
		return consumer.Permanent(fmt.Errorf("decode payout snapshot: %w", err))
	}

	row := buildRow(snapshot, h.now().UTC())
	// rebuilds publish again under a new event id; keep every version
	if err := h.client.InsertRow(ctx, h.table, envelope.EventID.String(), row); err != nil {
		if errors.Is(err, bq.ErrRowRejected) {
			return consumer.Permanent(err)
		}
		return err
	}
	h.logg.Info(h.logg.WithEventID(ctx, snapshot.EventID.String()), "payout snapshot reported")
	return nil
}

func buildRow(snapshot *payloads.PayoutSnapshotCapturedEvent, ingestedAt time.Time) *SnapshotRow {
	row := &SnapshotRow{
		SnapshotID:   snapshot.SnapshotID.String(),
		EventID:      snapshot.EventID.String(),
		Source:       string(snapshot.Source),
		BaseFare:     snapshot.BaseFare.Rat(),
		FinalFare:    snapshot.FinalFare.Rat(),
		TicketsSold:  int64(snapshot.TicketsSold),
		PlatformFee:  snapshot.PlatformFee.Rat(),
		HostEarning:  snapshot.HostEarning.Rat(),
		RebuildCount: int64(snapshot.RebuildCount),
		CapturedAt:   snapshot.CapturedAt.UTC(),
		IngestedAt:   ingestedAt,
	}
	if snapshot.FeeConfigVersion != nil {
		row.FeeConfigVersion = cbigquery.NullInt64{Int64: int64(*snapshot.FeeConfigVersion), Valid: true}
	}
	return row
}
