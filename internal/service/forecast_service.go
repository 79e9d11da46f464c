package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/demandcast/internal/domain"
	"github.com/andresuchdata/demandcast/internal/forecast"
	"github.com/andresuchdata/demandcast/internal/optimizer"
)

// Defaults fill request fields the caller left out.
type Defaults struct {
	LeadTimeDays  int
	ServiceLevelZ float64
}

// ForecastService runs one SKU through the feature pipeline, the model and the
// optimizer. It backs both the real-time endpoint and batch items.
type ForecastService struct {
	adapter  *forecast.Adapter
	calc     *optimizer.Calculator
	defaults Defaults
}

func NewForecastService(adapter *forecast.Adapter, calc *optimizer.Calculator, defaults Defaults) *ForecastService {
	if calc == nil {
		calc = optimizer.NewCalculator(0)
	}
	return &ForecastService{adapter: adapter, calc: calc, defaults: defaults}
}

// ModelVersion reports the version of the loaded model artifact.
func (s *ForecastService) ModelVersion() string {
	if !s.adapter.Ready() {
		return ""
	}
	return s.adapter.Version()
}

// Ready reports whether a model is loaded.
func (s *ForecastService) Ready() bool {
	return s.adapter.Ready()
}

// Process implements batch.Processor.
func (s *ForecastService) Process(ctx context.Context, req domain.ItemRequest) (domain.ItemResult, error) {
	return s.Forecast(ctx, req)
}

// Forecast validates the request, predicts the horizon and derives inventory decisions.
func (s *ForecastService) Forecast(ctx context.Context, req domain.ItemRequest) (domain.ItemResult, error) {
	// 1. Validate the boundary input
	if err := req.Validate(); err != nil {
		return domain.ItemResult{}, err
	}
	key := req.Key()

	// 2. Records carry the SKU of the request
	history := make([]domain.TimeSeriesRecord, len(req.History))
	for i, rec := range req.History {
		if rec.ProductID != "" && domain.NormalizeID(rec.ProductID) != key.ProductID {
			return domain.ItemResult{}, fmt.Errorf("%w: history row for product %s in request for %s",
				domain.ErrValidation, rec.ProductID, key.ProductID)
		}
		rec.ProductID = key.ProductID
		if rec.StoreID == "" {
			rec.StoreID = key.StoreID
		}
		history[i] = rec
	}

	// 3. Predict the horizon
	fc, err := s.adapter.PredictHorizon(ctx, history, req.CurrentDate)
	if err != nil {
		return domain.ItemResult{}, err
	}

	// 4. Optimize against the caller's inventory position
	snap := domain.InventorySnapshot{
		CurrentInventory: req.CurrentInventory,
		LeadTimeDays:     req.LeadTimeDays,
		ServiceLevelZ:    req.ServiceLevelZ,
	}
	if snap.LeadTimeDays == 0 {
		snap.LeadTimeDays = s.defaults.LeadTimeDays
	}
	if snap.ServiceLevelZ == 0 {
		snap.ServiceLevelZ = s.defaults.ServiceLevelZ
	}
	opt := s.calc.Calculate(fc, snap, latestPrice(history))

	log.Debug().
		Str("item", key.String()).
		Str("risk_label", string(opt.RiskLabel)).
		Float64("reorder_point", opt.ReorderPoint).
		Msg("Forecast computed")

	return domain.ItemResult{
		ProductID:    key.ProductID,
		StoreID:      key.StoreID,
		Forecast:     fc,
		Optimization: opt,
	}, nil
}

// latestPrice returns the price observed on the most recent date that has one.
func latestPrice(history []domain.TimeSeriesRecord) float64 {
	var price float64
	var found bool
	var at int
	for i, rec := range history {
		if rec.Price == nil {
			continue
		}
		if !found || rec.Date.After(history[at].Date) {
			price, at, found = *rec.Price, i, true
		}
	}
	return price
}
