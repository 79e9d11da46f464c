package optimizer

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andresuchdata/demandcast/internal/domain"
)

const (
	// OverstockWindow is the number of leading forecast days compared against inventory for OVERSTOCK.
	OverstockWindow = 30
	// OverstockFactor is the multiple of mean demand above which inventory is OVERSTOCK.
	OverstockFactor = 1.5
	// DefaultTargetDaysCover is how many days of mean demand a recommended order covers.
	DefaultTargetDaysCover = 30
)

// SafetyStock = z · std(forecast[0:L]) · sqrt(L), using the population std.
func SafetyStock(forecast []float64, leadTimeDays int, z float64) float64 {
	l := clampWindow(leadTimeDays, len(forecast))
	if l == 0 || z <= 0 {
		return 0
	}
	ss := z * stddev(forecast[:l]) * math.Sqrt(float64(l))
	return math.Max(0, ss)
}

// ReorderPoint = mean(forecast[0:L]) · L + safetyStock.
func ReorderPoint(forecast []float64, leadTimeDays int, safetyStock float64) float64 {
	l := clampWindow(leadTimeDays, len(forecast))
	if l == 0 {
		return safetyStock
	}
	return mean(forecast[:l])*float64(l) + safetyStock
}

// RiskLabel classifies inventory against the forecast. CRITICAL wins over LOW, LOW over OVERSTOCK.
func RiskLabel(currentInventory float64, forecast []float64, reorderPoint float64) domain.RiskLabel {
	var tomorrow float64
	if len(forecast) > 0 {
		tomorrow = forecast[0]
	}

	switch {
	case currentInventory < tomorrow:
		return domain.RiskCritical
	case currentInventory < reorderPoint:
		return domain.RiskLow
	case currentInventory > OverstockFactor*mean(forecast[:clampWindow(OverstockWindow, len(forecast))]):
		return domain.RiskOverstock
	default:
		return domain.RiskOK
	}
}

// DaysOfStock = currentInventory / mean(forecast), unbounded when mean demand is zero.
func DaysOfStock(currentInventory float64, forecast []float64) domain.DaysOfStock {
	m := mean(forecast)
	if m <= 0 {
		return domain.UnboundedDays()
	}
	return domain.DaysOfStock{Days: math.Max(0, currentInventory/m)}
}

// NextOrderDate returns the first date where projected inventory drops below the
// reorder point. forecast[i] is the demand on startDate+i days. Nil when it never happens.
func NextOrderDate(currentInventory float64, forecast []float64, reorderPoint float64, startDate time.Time) *time.Time {
	projected := currentInventory
	for i, demand := range forecast {
		projected -= demand
		if projected < reorderPoint {
			d := startDate.AddDate(0, 0, i)
			return &d
		}
	}
	return nil
}

func clampWindow(n, length int) int {
	if n <= 0 {
		return 0
	}
	if n > length {
		return length
	}
	return n
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// Calculator bundles the optimizer functions into a single result per SKU.
type Calculator struct {
	targetDaysCover int
}

// NewCalculator creates a calculator. Non-positive targetDaysCover uses the default.
func NewCalculator(targetDaysCover int) *Calculator {
	if targetDaysCover <= 0 {
		targetDaysCover = DefaultTargetDaysCover
	}
	return &Calculator{targetDaysCover: targetDaysCover}
}

// Calculate derives every inventory decision for one forecast.
func (c *Calculator) Calculate(forecast domain.ForecastResult, snap domain.InventorySnapshot, unitPrice float64) domain.OptimizationResult {
	series := forecast.Series

	// 1. Safety stock over the lead time
	ss := SafetyStock(series, snap.LeadTimeDays, snap.ServiceLevelZ)

	// 2. Reorder point = lead time demand + safety stock
	rop := ReorderPoint(series, snap.LeadTimeDays, ss)

	// 3. Risk label
	label := RiskLabel(snap.CurrentInventory, series, rop)

	// 4. Days of stock and next order date
	var start time.Time
	if len(forecast.Dates) > 0 {
		start = forecast.Dates[0]
	}

	return domain.OptimizationResult{
		SafetyStock:         ss,
		ReorderPoint:        rop,
		RiskLabel:           label,
		DaysOfStock:         DaysOfStock(snap.CurrentInventory, series),
		NextOrderDate:       NextOrderDate(snap.CurrentInventory, series, rop, start),
		OrderRecommendation: c.Recommend(label, snap.CurrentInventory, series, ss, unitPrice),
	}
}

// Recommend sizes an order for CRITICAL and LOW SKUs: enough to cover the target
// days of mean demand plus safety stock, minus what is on hand.
func (c *Calculator) Recommend(label domain.RiskLabel, currentInventory float64, forecast []float64, safetyStock, unitPrice float64) domain.OrderRecommendation {
	if label != domain.RiskCritical && label != domain.RiskLow {
		return domain.OrderRecommendation{EstimatedCost: decimal.Zero}
	}

	dailyDemand := mean(forecast[:clampWindow(c.targetDaysCover, len(forecast))])
	qty := int64(math.Ceil(math.Max(0, dailyDemand*float64(c.targetDaysCover)+safetyStock-currentInventory)))
	if qty == 0 {
		return domain.OrderRecommendation{EstimatedCost: decimal.Zero}
	}

	cost := decimal.NewFromFloat(unitPrice).Mul(decimal.NewFromInt(qty)).Round(2)
	return domain.OrderRecommendation{
		ShouldOrder:   true,
		Quantity:      qty,
		EstimatedCost: cost,
	}
}
