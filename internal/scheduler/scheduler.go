// Package scheduler triggers periodic batch forecasts over stored history.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/demandcast/internal/domain"
	"github.com/andresuchdata/demandcast/internal/repository"
)

// Submitter is the part of the batch orchestrator the scheduler drives.
type Submitter interface {
	Submit(ctx context.Context, jobID string, items []domain.ItemRequest) (string, error)
}

// HistorySource produces the items of one scheduled run.
type HistorySource interface {
	Items(ctx context.Context, asOf time.Time) ([]domain.ItemRequest, error)
}

// JobID is the deterministic id for the run covering t's calendar day.
func JobID(t time.Time) string {
	return "scheduled-" + t.UTC().Format("20060102")
}

type Scheduler struct {
	submitter Submitter
	source    HistorySource
	interval  time.Duration
	now       func() time.Time
}

func New(submitter Submitter, source HistorySource, interval time.Duration) *Scheduler {
	return &Scheduler{
		submitter: submitter,
		source:    source,
		interval:  interval,
		now:       time.Now,
	}
}

// Run submits once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("Scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Scheduled run failed")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce submits today's job. A job already running under today's id is
// skipped and reported with an empty id and nil error.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	now := s.now()
	jobID := JobID(now)

	// 1. Collect items
	items, err := s.source.Items(ctx, now)
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}

	// 2. Submit
	id, err := s.submitter.Submit(ctx, jobID, items)
	if errors.Is(err, domain.ErrJobAlreadyRunning) {
		log.Warn().Str("job_id", jobID).Msg("Scheduled job still running, skipping")
		return "", nil
	}
	if err != nil {
		return "", err
	}

	log.Info().Str("job_id", id).Int("items", len(items)).Msg("Scheduled job submitted")
	return id, nil
}

// RepositorySource builds items from the product master and stored history.
type RepositorySource struct {
	repo        repository.HistoryRepository
	historyDays int
	concurrency int
}

func NewRepositorySource(repo repository.HistoryRepository, historyDays, concurrency int) *RepositorySource {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &RepositorySource{repo: repo, historyDays: historyDays, concurrency: concurrency}
}

// Items loads the last historyDays of history for every product. Products
// without history in the window are left out.
func (s *RepositorySource) Items(ctx context.Context, asOf time.Time) ([]domain.ItemRequest, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	since := asOf.UTC().AddDate(0, 0, -s.historyDays)
	loaded := make([]*domain.ItemRequest, len(products))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, p := range products {
		g.Go(func() error {
			key := domain.ItemKey{ProductID: p.ProductID, StoreID: p.StoreID}
			history, err := s.repo.LoadHistory(gctx, key, since)
			if err != nil {
				return fmt.Errorf("failed to load history for %s: %w", key, err)
			}
			if len(history) == 0 {
				return nil
			}
			loaded[i] = &domain.ItemRequest{
				ProductID:        p.ProductID,
				StoreID:          p.StoreID,
				CurrentInventory: p.CurrentInventory,
				History:          history,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]domain.ItemRequest, 0, len(products))
	for _, item := range loaded {
		if item != nil {
			items = append(items, *item)
		}
	}
	return items, nil
}
