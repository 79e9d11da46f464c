package domain

import "time"

// ForecastRecord is a persisted forecast run for one SKU.
type ForecastRecord struct {
	ID            int64              `json:"id" db:"id"`
	ProductID     string             `json:"product_id" db:"product_id"`
	StoreID       string             `json:"store_id" db:"store_id"`
	ModelVersion  string             `json:"model_version" db:"model_version"`
	ForecastStart time.Time          `json:"forecast_start" db:"forecast_start"`
	Forecast      ForecastResult     `json:"forecast"`
	Optimization  OptimizationResult `json:"optimization"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
}

// DistributionBucket is one row of a category or region breakdown.
type DistributionBucket struct {
	Name  string `json:"name" db:"name"`
	Count int    `json:"count" db:"count"`
}

// ProductDistribution summarizes the product master after an ingest.
type ProductDistribution struct {
	Categories []DistributionBucket `json:"categories"`
	Regions    []DistributionBucket `json:"regions"`
	Total      int                  `json:"total"`
}

// RiskSummary counts the latest forecast per SKU by risk label.
type RiskSummary struct {
	RiskLabel RiskLabel `json:"risk_label" db:"risk_label"`
	Count     int       `json:"count" db:"count"`
}
