package ingest

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/demandcast/internal/domain"
)

// DefaultBatchSize is the number of history rows written per transaction.
const DefaultBatchSize = 1000

// Sink persists parsed history and the derived product master.
type Sink interface {
	InsertHistoryBatch(ctx context.Context, records []domain.TimeSeriesRecord) (int64, error)
	UpsertProducts(ctx context.Context, products []domain.Product) error
}

// Summary reports what one load wrote.
type Summary struct {
	Rows       int   `json:"rows"`
	Duplicates int   `json:"duplicates"`
	Inserted   int64 `json:"inserted"`
	Products   int   `json:"products"`
}

// Load parses r and writes it to sink in batches of batchSize.
func Load(ctx context.Context, r io.Reader, sink Sink, batchSize int) (*Summary, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	// 1. Parse the whole file so a bad row aborts before anything is written
	res, err := Parse(r)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Rows: res.Rows, Duplicates: res.Duplicates}

	// 2. History
	for i, batch := range Batches(res.Records, batchSize) {
		n, err := sink.InsertHistoryBatch(ctx, batch)
		if err != nil {
			return summary, fmt.Errorf("failed to insert batch %d: %w", i+1, err)
		}
		summary.Inserted += n
		log.Debug().Int("batch", i+1).Int("rows", len(batch)).Int64("inserted", n).Msg("History batch written")
	}

	// 3. Product master
	products := res.Products()
	if err := sink.UpsertProducts(ctx, products); err != nil {
		return summary, fmt.Errorf("failed to upsert products: %w", err)
	}
	summary.Products = len(products)

	log.Info().
		Int("rows", summary.Rows).
		Int("duplicates", summary.Duplicates).
		Int64("inserted", summary.Inserted).
		Int("products", summary.Products).
		Msg("History load complete")

	return summary, nil
}
