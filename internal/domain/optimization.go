package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const unboundedLiteral = "unbounded"

// DaysOfStock is the number of days current inventory lasts at mean forecast demand.
// Unbounded is set when forecast demand is zero.
type DaysOfStock struct {
	Days      float64
	Unbounded bool
}

// UnboundedDays is the sentinel for zero expected demand.
func UnboundedDays() DaysOfStock {
	return DaysOfStock{Unbounded: true}
}

func (d DaysOfStock) String() string {
	if d.Unbounded {
		return unboundedLiteral
	}
	return fmt.Sprintf("%.2f", d.Days)
}

// MarshalJSON renders the sentinel as "unbounded" and finite values as numbers.
func (d DaysOfStock) MarshalJSON() ([]byte, error) {
	if d.Unbounded {
		return json.Marshal(unboundedLiteral)
	}
	return json.Marshal(d.Days)
}

// UnmarshalJSON accepts either a number or the "unbounded" literal.
func (d *DaysOfStock) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != unboundedLiteral {
			return fmt.Errorf("invalid days_of_stock %q", s)
		}
		*d = UnboundedDays()
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*d = DaysOfStock{Days: v}
	return nil
}

// OrderRecommendation is the suggested replenishment for a SKU at risk.
type OrderRecommendation struct {
	ShouldOrder   bool            `json:"should_order"`
	Quantity      int64           `json:"quantity"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
}

// OptimizationResult bundles the inventory decisions derived from a forecast.
type OptimizationResult struct {
	SafetyStock         float64             `json:"safety_stock"`
	ReorderPoint        float64             `json:"reorder_point"`
	RiskLabel           RiskLabel           `json:"risk_label"`
	DaysOfStock         DaysOfStock         `json:"days_of_stock"`
	NextOrderDate       *time.Time          `json:"next_order_date"`
	OrderRecommendation OrderRecommendation `json:"order_recommendation"`
}

// NextOrderDateString returns the date in DateLayout, or nil when no order is due.
func (o OptimizationResult) NextOrderDateString() *string {
	if o.NextOrderDate == nil {
		return nil
	}
	s := o.NextOrderDate.Format(DateLayout)
	return &s
}
