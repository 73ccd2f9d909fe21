// Package bigquery streams reporting rows into the analytics dataset.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/multierr"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

const metadataTimeout = 10 * time.Second

// ErrRowRejected marks rows BigQuery refused on their content. Retrying the
// same row cannot succeed.
var ErrRowRejected = errors.New("bigquery rejected row")

type Client struct {
	client      *bigquery.Client
	dataset     *bigquery.Dataset
	tables      map[string]*bigquery.Table
	payoutTable string
}

// NewClient opens the configured dataset and checks that it and every
// reporting table exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	datasetID := strings.TrimSpace(cfg.Dataset)
	payoutTable := strings.TrimSpace(cfg.PayoutSnapshotsTable)
	switch {
	case projectID == "":
		return nil, errors.New("gcp project id is required")
	case datasetID == "":
		return nil, errors.New("bigquery dataset is required")
	case payoutTable == "":
		return nil, errors.New("bigquery payout table is required")
	}

	raw, err := bigquery.NewClient(ctx, projectID, gcp.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	dataset := raw.Dataset(datasetID)
	c := &Client{
		client:      raw,
		dataset:     dataset,
		tables:      map[string]*bigquery.Table{payoutTable: dataset.Table(payoutTable)},
		payoutTable: payoutTable,
	}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"dataset": datasetID, "payout_table": payoutTable}), "bigquery client initialized")
	}
	return c, nil
}

// Ping reads dataset and table metadata.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errors.New("bigquery client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		return describe("dataset", c.dataset.DatasetID, err)
	}
	var errs error
	for name, table := range c.tables {
		if _, err := table.Metadata(ctx); err != nil {
			errs = multierr.Append(errs, describe("table", name, err))
		}
	}
	return errs
}

// PayoutSnapshotsTable names the table payout snapshots stream into.
func (c *Client) PayoutSnapshotsTable() string {
	if c == nil {
		return ""
	}
	return c.payoutTable
}

// InsertRow streams one row into a configured table. insertID lets BigQuery
// drop a redelivered copy inside its best-effort dedupe window.
func (c *Client) InsertRow(ctx context.Context, table, insertID string, row any) error {
	if c == nil || c.client == nil {
		return errors.New("bigquery client not initialized")
	}
	if row == nil {
		return errors.New("row is required")
	}
	t, ok := c.tables[strings.TrimSpace(table)]
	if !ok {
		return fmt.Errorf("table %q is not configured for inserts", table)
	}
	err := t.Inserter().Put(ctx, &bigquery.StructSaver{Struct: row, InsertID: insertID})
	return classifyPut(table, err)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// classifyPut separates per-row rejections from transport failures.
func classifyPut(table string, err error) error {
	if err == nil {
		return nil
	}
	var rowErrs bigquery.PutMultiError
	if errors.As(err, &rowErrs) && len(rowErrs) > 0 {
		var msgs []string
		for _, re := range rowErrs {
			for _, e := range re.Errors {
				msgs = append(msgs, e.Error())
			}
		}
		return fmt.Errorf("%w in %s: %s", ErrRowRejected, table, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("insert into %s: %w", table, err)
}

func describe(kind, name string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}
