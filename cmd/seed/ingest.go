package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/demandcast/internal/drive"
	"github.com/andresuchdata/demandcast/internal/ingest"
	"github.com/andresuchdata/demandcast/internal/repository"
)

func runIngest(c *cli.Context) error {
	db, err := dbFrom(c)
	if err != nil {
		return err
	}
	ctx := c.Context
	sink := repository.NewIngestRepository(db)
	batchSize := c.Int("batch-size")

	paths := c.StringSlice("csv")
	folderID := c.String("drive-folder")
	prefix := c.String("object-prefix")
	if len(paths) == 0 && folderID == "" && prefix == "" {
		return fmt.Errorf("one of --csv, --drive-folder or --object-prefix is required")
	}

	total := &ingest.Summary{}

	// 1. Local files
	for _, path := range paths {
		summary, err := ingestFile(ctx, path, sink, batchSize)
		if err != nil {
			return err
		}
		add(total, summary)
	}

	// 2. Google Drive
	if folderID != "" {
		creds, err := os.ReadFile(c.String("credentials-file"))
		if err != nil {
			return fmt.Errorf("failed to read Drive credentials: %w", err)
		}
		driveService, err := drive.NewService(ctx, creds)
		if err != nil {
			return err
		}
		summary, err := drive.NewIngestService(driveService, sink, batchSize).IngestFolder(ctx, folderID)
		if err != nil {
			return err
		}
		add(total, summary)
	}

	// 3. Object storage
	if prefix != "" {
		objects, err := newObjectStorage(c)
		if err != nil {
			return err
		}
		localPaths, err := downloadObjects(ctx, objects, prefix, c.String("download-dir"))
		if err != nil {
			return err
		}
		for _, path := range localPaths {
			summary, err := ingestFile(ctx, path, sink, batchSize)
			if err != nil {
				return err
			}
			add(total, summary)
		}
	}

	log.Info().
		Int("rows", total.Rows).
		Int("duplicates", total.Duplicates).
		Int64("inserted", total.Inserted).
		Msg("Ingestion finished")

	return runDistribution(c)
}

func ingestFile(ctx context.Context, path string, sink ingest.Sink, batchSize int) (*ingest.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	log.Info().Str("file", path).Msg("Ingesting history file")
	summary, err := ingest.Load(ctx, f, sink, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to ingest %s: %w", path, err)
	}
	return summary, nil
}

func add(total, s *ingest.Summary) {
	total.Rows += s.Rows
	total.Duplicates += s.Duplicates
	total.Inserted += s.Inserted
	total.Products += s.Products
}
