// internal/domain/models.go
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DateLayout is the calendar date format used on the wire and in storage keys.
const DateLayout = "2006-01-02"

// TimeSeriesRecord is a single day of observed history for a product in a store.
// Numeric fields are pointers so that missing observations survive decoding and
// can be filled by the feature pipeline.
type TimeSeriesRecord struct {
	ProductID        string    `json:"product_id,omitempty" db:"product_id"`
	StoreID          string    `json:"store_id,omitempty" db:"store_id"`
	Date             time.Time `json:"date" db:"date"`
	UnitsSold        *float64  `json:"units_sold" db:"units_sold"`
	InventoryLevel   *float64  `json:"inventory_level" db:"inventory_level"`
	Price            *float64  `json:"price" db:"price"`
	Discount         *float64  `json:"discount" db:"discount"`
	WeatherCondition string    `json:"weather_condition" db:"weather_condition"`
	Seasonality      string    `json:"seasonality" db:"seasonality"`
	Category         string    `json:"category" db:"category"`
	Region           string    `json:"region" db:"region"`

	// DemandForecast is the dataset's own forecast column. Stored for comparison, never a model input.
	DemandForecast *float64 `json:"demand_forecast,omitempty" db:"demand_forecast"`
}

// Validate rejects records that cannot enter the feature pipeline.
func (r TimeSeriesRecord) Validate() error {
	if r.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrValidation)
	}

	checks := []struct {
		name string
		v    *float64
		min  float64
		max  float64
	}{
		{"units_sold", r.UnitsSold, 0, math.MaxFloat64},
		{"inventory_level", r.InventoryLevel, 0, math.MaxFloat64},
		{"price", r.Price, 0, math.MaxFloat64},
		{"discount", r.Discount, 0, 100},
	}
	for _, c := range checks {
		if c.v == nil {
			continue
		}
		v := *c.v
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s on %s is not a finite number", ErrValidation, c.name, r.Date.Format(DateLayout))
		}
		if v < c.min || v > c.max {
			return fmt.Errorf("%w: %s on %s out of range: %v", ErrValidation, c.name, r.Date.Format(DateLayout), v)
		}
	}

	return nil
}

// ItemKey identifies a SKU: a product within a store.
type ItemKey struct {
	ProductID string `json:"product_id" db:"product_id"`
	StoreID   string `json:"store_id" db:"store_id"`
}

// String returns the canonical "PRODUCT/STORE" form used as item id.
func (k ItemKey) String() string {
	return k.ProductID + "/" + k.StoreID
}

// NormalizeID upper-cases and trims product and store identifiers.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// InventorySnapshot is the caller-supplied inventory position for one optimization call.
type InventorySnapshot struct {
	CurrentInventory float64 `json:"current_inventory"`
	LeadTimeDays     int     `json:"lead_time_days"`
	ServiceLevelZ    float64 `json:"service_level_z"`
}

// ForecastResult is a horizon-length demand forecast with constant-width confidence bounds.
type ForecastResult struct {
	Series          []float64   `json:"series"`
	Dates           []time.Time `json:"dates"`
	ConfidenceUpper []float64   `json:"confidence_upper"`
	ConfidenceLower []float64   `json:"confidence_lower"`
}

// DateStrings renders forecast dates using DateLayout.
func (f ForecastResult) DateStrings() []string {
	out := make([]string, len(f.Dates))
	for i, d := range f.Dates {
		out[i] = d.Format(DateLayout)
	}
	return out
}

// ItemRequest is one unit of forecasting work: a SKU, its inventory position and history.
type ItemRequest struct {
	ProductID        string             `json:"product_id"`
	StoreID          string             `json:"store_id"`
	CurrentInventory float64            `json:"current_inventory"`
	CurrentDate      time.Time          `json:"current_date"`
	LeadTimeDays     int                `json:"lead_time_days,omitempty"`
	ServiceLevelZ    float64            `json:"service_level_z,omitempty"`
	History          []TimeSeriesRecord `json:"historical_data"`

	// Rejected is set when the item could not be decoded. Processing fails it
	// with this error instead of running the pipeline.
	Rejected error `json:"-"`
}

// Key returns the normalized SKU key of the request.
func (r ItemRequest) Key() ItemKey {
	return ItemKey{ProductID: NormalizeID(r.ProductID), StoreID: NormalizeID(r.StoreID)}
}

// Validate checks identifiers and every history record.
func (r ItemRequest) Validate() error {
	if strings.TrimSpace(r.ProductID) == "" || strings.TrimSpace(r.StoreID) == "" {
		return fmt.Errorf("%w: product_id and store_id are required", ErrValidation)
	}
	if r.CurrentInventory < 0 || math.IsNaN(r.CurrentInventory) || math.IsInf(r.CurrentInventory, 0) {
		return fmt.Errorf("%w: current_inventory must be a non-negative number", ErrValidation)
	}
	if r.LeadTimeDays < 0 {
		return fmt.Errorf("%w: lead_time_days must not be negative", ErrValidation)
	}
	if r.ServiceLevelZ < 0 {
		return fmt.Errorf("%w: service_level_z must not be negative", ErrValidation)
	}
	for _, rec := range r.History {
		if err := rec.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ItemResult is what a successful forecast produces for one SKU.
type ItemResult struct {
	ProductID    string             `json:"product_id"`
	StoreID      string             `json:"store_id"`
	Forecast     ForecastResult     `json:"forecast"`
	Optimization OptimizationResult `json:"optimization"`
}

// Product is the per-SKU master row derived from ingested history.
type Product struct {
	ProductID        string    `json:"product_id" db:"product_id"`
	StoreID          string    `json:"store_id" db:"store_id"`
	Category         string    `json:"category" db:"category"`
	Region           string    `json:"region" db:"region"`
	CurrentInventory float64   `json:"current_inventory" db:"current_inventory"`
	Price            float64   `json:"price" db:"price"`
	LastUpdated      time.Time `json:"last_updated" db:"last_updated"`
}

// Float returns a pointer to v; handy for building records in code.
func Float(v float64) *float64 {
	return &v
}
