package cache

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/demandcast/internal/domain"
	"github.com/andresuchdata/demandcast/internal/repository"
)

// CachedForecastRepository serves RiskSummary from cache and invalidates it on
// every saved forecast. Cache failures degrade to the underlying repository.
type CachedForecastRepository struct {
	repository.ForecastRepository
	cache RiskSummaryCache
}

func NewCachedForecastRepository(repo repository.ForecastRepository, cache RiskSummaryCache) *CachedForecastRepository {
	if cache == nil {
		cache = NewNoopRiskSummaryCache()
	}
	return &CachedForecastRepository{ForecastRepository: repo, cache: cache}
}

func (r *CachedForecastRepository) SaveForecast(ctx context.Context, rec *domain.ForecastRecord) error {
	if err := r.ForecastRepository.SaveForecast(ctx, rec); err != nil {
		return err
	}
	if err := r.cache.InvalidateAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate risk summary cache")
	}
	return nil
}

func (r *CachedForecastRepository) RiskSummary(ctx context.Context, filter repository.ForecastFilter) ([]domain.RiskSummary, error) {
	if summary, ok, err := r.cache.GetSummary(ctx, filter); err != nil {
		log.Warn().Err(err).Msg("Risk summary cache read failed")
	} else if ok {
		return summary, nil
	}

	summary, err := r.ForecastRepository.RiskSummary(ctx, filter)
	if err != nil {
		return nil, err
	}

	if err := r.cache.SetSummary(ctx, filter, summary); err != nil {
		log.Warn().Err(err).Msg("Risk summary cache write failed")
	}
	return summary, nil
}
