package drive

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/demandcast/internal/ingest"
)

// IngestService streams Drive CSV exports straight into the history tables.
type IngestService struct {
	client    Client
	sink      ingest.Sink
	batchSize int
}

func NewIngestService(client Client, sink ingest.Sink, batchSize int) *IngestService {
	return &IngestService{
		client:    client,
		sink:      sink,
		batchSize: batchSize,
	}
}

// IngestFile loads a single Drive file.
func (s *IngestService) IngestFile(ctx context.Context, fileID string) (*ingest.Summary, error) {
	// 1. Download file from Drive
	pr, pw := io.Pipe()
	go func() {
		err := s.client.DownloadFile(ctx, fileID, pw)
		pw.CloseWithError(err)
	}()

	// 2. Parse and write
	summary, err := ingest.Load(ctx, pr, s.sink, s.batchSize)
	// unblock the downloader if the parser stopped early
	pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return summary, fmt.Errorf("failed to ingest file %s: %w", fileID, err)
	}

	log.Info().Str("file_id", fileID).Int64("inserted", summary.Inserted).Msg("Ingested Drive file")
	return summary, nil
}

// IngestFolder loads every CSV in the folder in name order.
func (s *IngestService) IngestFolder(ctx context.Context, folderID string) (*ingest.Summary, error) {
	files, err := s.client.ListFiles(ctx, folderID)
	if err != nil {
		return nil, err
	}

	total := &ingest.Summary{}
	for _, f := range sortedByName(CSVFiles(files)) {
		summary, err := s.IngestFile(ctx, f.ID)
		if err != nil {
			return total, err
		}
		total.Rows += summary.Rows
		total.Duplicates += summary.Duplicates
		total.Inserted += summary.Inserted
		total.Products += summary.Products
	}

	return total, nil
}
