package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/demandcast/internal/domain"
	"github.com/andresuchdata/demandcast/internal/repository"
)

type noopForecastRepository struct{}

func (noopForecastRepository) SaveForecast(context.Context, *domain.ForecastRecord) error {
	return nil
}

func (noopForecastRepository) LatestForecast(context.Context, domain.ItemKey) (*domain.ForecastRecord, error) {
	return nil, nil
}

func (noopForecastRepository) RiskSummary(context.Context, repository.ForecastFilter) ([]domain.RiskSummary, error) {
	return nil, nil
}

// NewNoopForecastRepository discards writes; used when the database is disabled.
func NewNoopForecastRepository() repository.ForecastRepository {
	return noopForecastRepository{}
}

// ResultSink persists forecast results and emits risk alerts for the notification dispatcher.
type ResultSink struct {
	repo         repository.ForecastRepository
	modelVersion string
	saveTimeout  time.Duration
}

func NewResultSink(repo repository.ForecastRepository, modelVersion string) *ResultSink {
	if repo == nil {
		repo = NewNoopForecastRepository()
	}
	return &ResultSink{repo: repo, modelVersion: modelVersion, saveTimeout: 10 * time.Second}
}

// Save implements batch.ResultSink. Persistence failures are logged, never returned.
func (s *ResultSink) Save(ctx context.Context, result domain.ItemResult) {
	s.alert(result)

	rec := &domain.ForecastRecord{
		ProductID:    result.ProductID,
		StoreID:      result.StoreID,
		ModelVersion: s.modelVersion,
		Forecast:     result.Forecast,
		Optimization: result.Optimization,
	}
	if len(result.Forecast.Dates) > 0 {
		rec.ForecastStart = result.Forecast.Dates[0]
	}

	// outlive a cancelled job so finished items still land
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.saveTimeout)
	defer cancel()

	if err := s.repo.SaveForecast(saveCtx, rec); err != nil {
		log.Error().Err(err).
			Str("product_id", result.ProductID).
			Str("store_id", result.StoreID).
			Msg("Failed to persist forecast")
	}
}

func (s *ResultSink) alert(result domain.ItemResult) {
	opt := result.Optimization
	if !opt.RiskLabel.Alerting() {
		return
	}

	ev := log.Warn().
		Str("event", "inventory_alert").
		Str("product_id", result.ProductID).
		Str("store_id", result.StoreID).
		Str("risk_label", string(opt.RiskLabel)).
		Str("description", opt.RiskLabel.Description()).
		Float64("reorder_point", opt.ReorderPoint).
		Str("days_of_stock", opt.DaysOfStock.String())
	if d := opt.NextOrderDateString(); d != nil {
		ev = ev.Str("next_order_date", *d)
	}
	if opt.OrderRecommendation.ShouldOrder {
		ev = ev.Int64("order_quantity", opt.OrderRecommendation.Quantity).
			Str("order_cost", opt.OrderRecommendation.EstimatedCost.StringFixed(2))
	}
	ev.Msg("Inventory risk alert")
}
