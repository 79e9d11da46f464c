package handlers

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin/binding"

	"github.com/andresuchdata/demandcast/internal/domain"
)

// historyRow is one day of history on the wire. Dates are YYYY-MM-DD or RFC 3339.
type historyRow struct {
	Date             string   `json:"date"`
	UnitsSold        *float64 `json:"units_sold"`
	InventoryLevel   *float64 `json:"inventory_level"`
	Price            *float64 `json:"price"`
	Discount         *float64 `json:"discount"`
	WeatherCondition string   `json:"weather_condition"`
	Seasonality      string   `json:"seasonality"`
	Category         string   `json:"category"`
	Region           string   `json:"region"`
	StoreID          string   `json:"store_id,omitempty"`
}

type forecastRequest struct {
	ProductID        string       `json:"product_id" binding:"required"`
	StoreID          string       `json:"store_id" binding:"required"`
	CurrentInventory *float64     `json:"current_inventory" binding:"required"`
	CurrentDate      string       `json:"current_date"`
	LeadTimeDays     int          `json:"lead_time_days"`
	ServiceLevelZ    float64      `json:"service_level_z"`
	HistoricalData   []historyRow `json:"historical_data" binding:"required"`
}

// batchRequest binds only the envelope. Items are decoded one by one so a
// malformed item fails alone inside the job.
type batchRequest struct {
	JobID string            `json:"job_id"`
	Items []json.RawMessage `json:"items" binding:"required"`
}

// decodeBatchItem turns one raw item into a request. A payload that cannot be
// decoded or validated still yields a request, carrying the error in Rejected
// and whatever identifiers could be read.
func decodeBatchItem(raw json.RawMessage) domain.ItemRequest {
	var body forecastRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		var ids struct {
			ProductID string `json:"product_id"`
			StoreID   string `json:"store_id"`
		}
		_ = json.Unmarshal(raw, &ids)
		return domain.ItemRequest{
			ProductID: ids.ProductID,
			StoreID:   ids.StoreID,
			Rejected:  fmt.Errorf("%w: malformed item: %v", domain.ErrValidation, err),
		}
	}

	rejected := func(err error) domain.ItemRequest {
		return domain.ItemRequest{ProductID: body.ProductID, StoreID: body.StoreID, Rejected: err}
	}
	if err := binding.Validator.ValidateStruct(&body); err != nil {
		return rejected(fmt.Errorf("%w: %v", domain.ErrValidation, err))
	}
	req, err := body.toDomain()
	if err != nil {
		return rejected(err)
	}
	return req
}

func parseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(domain.DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %s %q is not a date", domain.ErrValidation, field, s)
}

func (r forecastRequest) toDomain() (domain.ItemRequest, error) {
	req := domain.ItemRequest{
		ProductID:     r.ProductID,
		StoreID:       r.StoreID,
		LeadTimeDays:  r.LeadTimeDays,
		ServiceLevelZ: r.ServiceLevelZ,
		History:       make([]domain.TimeSeriesRecord, len(r.HistoricalData)),
	}
	if r.CurrentInventory != nil {
		req.CurrentInventory = *r.CurrentInventory
	}
	if r.CurrentDate != "" {
		d, err := parseDate("current_date", r.CurrentDate)
		if err != nil {
			return domain.ItemRequest{}, err
		}
		req.CurrentDate = d
	}

	for i, h := range r.HistoricalData {
		d, err := parseDate(fmt.Sprintf("historical_data[%d].date", i), h.Date)
		if err != nil {
			return domain.ItemRequest{}, err
		}
		req.History[i] = domain.TimeSeriesRecord{
			StoreID:          h.StoreID,
			Date:             d,
			UnitsSold:        h.UnitsSold,
			InventoryLevel:   h.InventoryLevel,
			Price:            h.Price,
			Discount:         h.Discount,
			WeatherCondition: h.WeatherCondition,
			Seasonality:      h.Seasonality,
			Category:         h.Category,
			Region:           h.Region,
		}
	}
	return req, nil
}

type confidenceIntervals struct {
	Upper []float64 `json:"upper"`
	Lower []float64 `json:"lower"`
}

type riskMetrics struct {
	Status              domain.RiskLabel           `json:"status"`
	Description         string                     `json:"description"`
	DaysOfStock         domain.DaysOfStock         `json:"days_of_stock"`
	NextOrderDate       *string                    `json:"next_order_date"`
	OrderRecommendation domain.OrderRecommendation `json:"order_recommendation"`
}

type forecastResponse struct {
	ProductID           string              `json:"product_id"`
	StoreID             string              `json:"store_id"`
	Forecast            []float64           `json:"forecast"`
	Dates               []string            `json:"dates"`
	SafetyStock         float64             `json:"safety_stock"`
	ReorderPoint        float64             `json:"reorder_point"`
	ConfidenceIntervals confidenceIntervals `json:"confidence_intervals"`
	RiskMetrics         riskMetrics         `json:"risk_metrics"`
	ModelVersion        string              `json:"model_version,omitempty"`
}

func newForecastResponse(res domain.ItemResult, modelVersion string) forecastResponse {
	opt := res.Optimization
	return forecastResponse{
		ProductID:    res.ProductID,
		StoreID:      res.StoreID,
		Forecast:     res.Forecast.Series,
		Dates:        res.Forecast.DateStrings(),
		SafetyStock:  opt.SafetyStock,
		ReorderPoint: opt.ReorderPoint,
		ConfidenceIntervals: confidenceIntervals{
			Upper: res.Forecast.ConfidenceUpper,
			Lower: res.Forecast.ConfidenceLower,
		},
		RiskMetrics: riskMetrics{
			Status:              opt.RiskLabel,
			Description:         opt.RiskLabel.Description(),
			DaysOfStock:         opt.DaysOfStock,
			NextOrderDate:       opt.NextOrderDateString(),
			OrderRecommendation: opt.OrderRecommendation,
		},
		ModelVersion: modelVersion,
	}
}

type itemStatusResponse struct {
	ItemID    string            `json:"item_id"`
	ProductID string            `json:"product_id"`
	StoreID   string            `json:"store_id"`
	Status    domain.ItemState  `json:"status"`
	Reason    string            `json:"reason,omitempty"`
	Result    *forecastResponse `json:"result,omitempty"`
}

type jobStatusResponse struct {
	JobID          string               `json:"job_id"`
	Status         domain.JobState      `json:"status"`
	Progress       float64              `json:"progress"`
	Total          int                  `json:"total_products"`
	SucceededCount int                  `json:"succeeded_count"`
	FailedCount    int                  `json:"failed_count"`
	CancelledCount int                  `json:"cancelled_count"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	Results        []itemStatusResponse `json:"results,omitempty"`
}

func newJobStatusResponse(job *domain.BatchJob, modelVersion string) jobStatusResponse {
	out := jobStatusResponse{
		JobID:          job.JobID,
		Status:         job.State,
		Progress:       job.Progress(),
		Total:          job.Total,
		SucceededCount: job.SucceededCount,
		FailedCount:    job.FailedCount,
		CancelledCount: job.CancelledCount,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
	if !job.State.Terminal() {
		return out
	}

	out.Results = make([]itemStatusResponse, len(job.Items))
	for i, it := range job.Items {
		item := itemStatusResponse{
			ItemID:    it.ItemID,
			ProductID: it.ProductID,
			StoreID:   it.StoreID,
			Status:    it.State,
			Reason:    it.Reason,
		}
		if it.Result != nil {
			r := newForecastResponse(*it.Result, modelVersion)
			item.Result = &r
		}
		out.Results[i] = item
	}
	return out
}
