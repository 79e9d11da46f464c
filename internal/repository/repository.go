package repository

import (
	"context"
	"time"

	"github.com/andresuchdata/demandcast/internal/domain"
)

// ForecastRepository persists forecast runs and answers risk queries over them.
type ForecastRepository interface {
	SaveForecast(ctx context.Context, rec *domain.ForecastRecord) error
	LatestForecast(ctx context.Context, key domain.ItemKey) (*domain.ForecastRecord, error)
	RiskSummary(ctx context.Context, filter ForecastFilter) ([]domain.RiskSummary, error)
}

// HistoryRepository reads stored sales history and the product master.
type HistoryRepository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	LoadHistory(ctx context.Context, key domain.ItemKey, since time.Time) ([]domain.TimeSeriesRecord, error)
}

// ForecastFilter narrows risk queries. Empty slices match everything.
type ForecastFilter struct {
	StoreIDs   []string
	Categories []string
	Regions    []string
	RiskLabels []domain.RiskLabel
}
