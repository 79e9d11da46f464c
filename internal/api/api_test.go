package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/demandcast/internal/batch"
	"github.com/andresuchdata/demandcast/internal/domain"
	"github.com/andresuchdata/demandcast/internal/jobstore"
	"github.com/andresuchdata/demandcast/internal/repository"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeForecaster returns a flat forecast unless forecastFn says otherwise.
type fakeForecaster struct {
	forecastFn func(req domain.ItemRequest) (domain.ItemResult, error)
}

func (f *fakeForecaster) Forecast(_ context.Context, req domain.ItemRequest) (domain.ItemResult, error) {
	if f.forecastFn != nil {
		return f.forecastFn(req)
	}
	return flatResult(req), nil
}

func (f *fakeForecaster) Process(ctx context.Context, req domain.ItemRequest) (domain.ItemResult, error) {
	return f.Forecast(ctx, req)
}

func (f *fakeForecaster) ModelVersion() string { return "test-model" }

func flatResult(req domain.ItemRequest) domain.ItemResult {
	key := req.Key()
	start := req.CurrentDate.AddDate(0, 0, 1)
	fc := domain.ForecastResult{}
	for i := 0; i < 3; i++ {
		fc.Series = append(fc.Series, 10)
		fc.Dates = append(fc.Dates, start.AddDate(0, 0, i))
		fc.ConfidenceUpper = append(fc.ConfidenceUpper, 12)
		fc.ConfidenceLower = append(fc.ConfidenceLower, 8)
	}
	return domain.ItemResult{
		ProductID: key.ProductID,
		StoreID:   key.StoreID,
		Forecast:  fc,
		Optimization: domain.OptimizationResult{
			SafetyStock:  0,
			ReorderPoint: 70,
			RiskLabel:    domain.RiskOverstock,
			DaysOfStock:  domain.UnboundedDays(),
		},
	}
}

type fakeSink struct{ saved []domain.ItemResult }

func (s *fakeSink) Save(_ context.Context, r domain.ItemResult) { s.saved = append(s.saved, r) }

type fakeRisk struct{ filter repository.ForecastFilter }

func (f *fakeRisk) RiskSummary(_ context.Context, filter repository.ForecastFilter) ([]domain.RiskSummary, error) {
	f.filter = filter
	return []domain.RiskSummary{{RiskLabel: domain.RiskLow, Count: 4}}, nil
}

type harness struct {
	router     *gin.Engine
	forecaster *fakeForecaster
	sink       *fakeSink
	risk       *fakeRisk
	orch       *batch.Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{forecaster: &fakeForecaster{}, sink: &fakeSink{}, risk: &fakeRisk{}}
	store := jobstore.NewStore(jobstore.NewMemoryKV(), time.Hour, jobstore.RetryConfig{MaxAttempts: 1})
	h.orch = batch.NewOrchestrator(batch.Config{Workers: 2}, store, h.forecaster)
	t.Cleanup(func() { _ = h.orch.Shutdown(context.Background()) })

	h.router = NewRouter(&Services{
		Forecaster: h.forecaster,
		Sink:       h.sink,
		Batch:      h.orch,
		Risk:       h.risk,
		Ready:      func() bool { return true },
	}, []string{"*"})
	return h
}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caller-ID", "svc-test")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func forecastBody(product string) map[string]any {
	var rows []map[string]any
	for i := 0; i < 30; i++ {
		rows = append(rows, map[string]any{
			"date":            time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC).Format(domain.DateLayout),
			"units_sold":      10,
			"inventory_level": 200,
			"price":           2.5,
			"discount":        nil,
			"category":        "Toys",
		})
	}
	return map[string]any{
		"product_id":        product,
		"store_id":          "s001",
		"current_inventory": 150,
		"current_date":      "2024-01-30",
		"historical_data":   rows,
	}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	notReady := NewRouter(&Services{Ready: func() bool { return false }}, nil)
	w = httptest.NewRecorder()
	notReady.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type realtimeResponse struct {
	ProductID           string    `json:"product_id"`
	Forecast            []float64 `json:"forecast"`
	Dates               []string  `json:"dates"`
	ReorderPoint        float64   `json:"reorder_point"`
	ConfidenceIntervals struct {
		Upper []float64 `json:"upper"`
	} `json:"confidence_intervals"`
	RiskMetrics struct {
		Status        string  `json:"status"`
		DaysOfStock   any     `json:"days_of_stock"`
		NextOrderDate *string `json:"next_order_date"`
	} `json:"risk_metrics"`
	ModelVersion string `json:"model_version"`
}

func TestForecast_RealTime(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/v1/forecast", forecastBody("p0001"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode[realtimeResponse](t, w)

	assert.Equal(t, "P0001", body.ProductID)
	assert.Equal(t, []float64{10, 10, 10}, body.Forecast)
	assert.Equal(t, []string{"2024-01-31", "2024-02-01", "2024-02-02"}, body.Dates)
	assert.Equal(t, 70.0, body.ReorderPoint)
	assert.Equal(t, []float64{12, 12, 12}, body.ConfidenceIntervals.Upper)
	assert.Equal(t, "OVERSTOCK", body.RiskMetrics.Status)
	assert.Equal(t, "unbounded", body.RiskMetrics.DaysOfStock)
	assert.Nil(t, body.RiskMetrics.NextOrderDate)
	assert.Equal(t, "test-model", body.ModelVersion)

	assert.Len(t, h.sink.saved, 1)
}

func TestForecast_RealTimeErrors(t *testing.T) {
	h := newHarness(t)

	t.Run("missing fields", func(t *testing.T) {
		w := h.do(http.MethodPost, "/api/v1/forecast", map[string]any{"product_id": "P1"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, domain.CodeValidation, decode[errorBody](t, w).Error.Code)
	})

	t.Run("bad date", func(t *testing.T) {
		body := forecastBody("p1")
		body["current_date"] = "30/01/2024"
		w := h.do(http.MethodPost, "/api/v1/forecast", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode[errorBody](t, w).Error.Message, "current_date")
	})

	t.Run("pipeline error maps to its code", func(t *testing.T) {
		h.forecaster.forecastFn = func(domain.ItemRequest) (domain.ItemResult, error) {
			return domain.ItemResult{}, fmt.Errorf("%w: 12 observations, need 30", domain.ErrInsufficientHistory)
		}
		defer func() { h.forecaster.forecastFn = nil }()

		saved := len(h.sink.saved)
		w := h.do(http.MethodPost, "/api/v1/forecast", forecastBody("p1"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, domain.CodeInsufficientHistory, decode[errorBody](t, w).Error.Code)
		assert.Len(t, h.sink.saved, saved, "failures create no state")
	})

	t.Run("model unavailable", func(t *testing.T) {
		h.forecaster.forecastFn = func(domain.ItemRequest) (domain.ItemResult, error) {
			return domain.ItemResult{}, domain.ErrModelUnavailable
		}
		defer func() { h.forecaster.forecastFn = nil }()

		w := h.do(http.MethodPost, "/api/v1/forecast", forecastBody("p1"))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

type jobStatus struct {
	JobID          string  `json:"job_id"`
	Status         string  `json:"status"`
	Progress       float64 `json:"progress"`
	Total          int     `json:"total_products"`
	SucceededCount int     `json:"succeeded_count"`
	FailedCount    int     `json:"failed_count"`
	CancelledCount int     `json:"cancelled_count"`
	Results        []struct {
		ItemID string `json:"item_id"`
		Status string `json:"status"`
		Reason string `json:"reason"`
		Result *struct {
			Forecast []float64 `json:"forecast"`
		} `json:"result"`
	} `json:"results"`
}

func TestBatch_SubmitAndPoll(t *testing.T) {
	h := newHarness(t)
	h.forecaster.forecastFn = func(req domain.ItemRequest) (domain.ItemResult, error) {
		if req.Key().ProductID == "P0002" {
			return domain.ItemResult{}, fmt.Errorf("%w: duplicate date 2024-01-03", domain.ErrSchema)
		}
		return flatResult(req), nil
	}

	w := h.do(http.MethodPost, "/api/v1/forecast/batch", map[string]any{
		"job_id": "nightly-1",
		"items":  []any{forecastBody("p0001"), forecastBody("p0002"), forecastBody("p0003")},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	accepted := decode[map[string]any](t, w)
	assert.Equal(t, "nightly-1", accepted["job_id"])
	assert.Equal(t, "processing", accepted["status"])
	assert.Equal(t, 3.0, accepted["total_products"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Wait(ctx, "nightly-1"))

	w = h.do(http.MethodGet, "/api/v1/forecast/batch/nightly-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[jobStatus](t, w)

	assert.Equal(t, "PARTIALLY_COMPLETED", status.Status)
	assert.Equal(t, 1.0, status.Progress)
	assert.Equal(t, 3, status.Total)
	assert.Equal(t, 2, status.SucceededCount)
	assert.Equal(t, 1, status.FailedCount)
	require.Len(t, status.Results, 3)
	assert.Equal(t, "P0002/S001", status.Results[1].ItemID)
	assert.Equal(t, "FAILED", status.Results[1].Status)
	assert.Equal(t, domain.CodeSchema, status.Results[1].Reason)
	assert.Nil(t, status.Results[1].Result)
	require.NotNil(t, status.Results[0].Result)
	assert.Len(t, status.Results[0].Result.Forecast, 3)
}

func TestBatch_Errors(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/forecast/batch/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.CodeJobNotFound, decode[errorBody](t, w).Error.Code)

	w = h.do(http.MethodDelete, "/api/v1/forecast/batch/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodPost, "/api/v1/forecast/batch", map[string]any{"job_id": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/api/v1/forecast/batch", map[string]any{"items": "not-a-list"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatch_MalformedItemsFailAlone(t *testing.T) {
	h := newHarness(t)
	h.forecaster.forecastFn = func(req domain.ItemRequest) (domain.ItemResult, error) {
		return flatResult(req), nil
	}

	badDate := forecastBody("p0002")
	badDate["historical_data"] = []any{map[string]any{"date": "2024-13-45", "units_sold": 10}}
	noProduct := forecastBody("p0004")
	delete(noProduct, "product_id")

	w := h.do(http.MethodPost, "/api/v1/forecast/batch", map[string]any{
		"job_id": "mixed",
		"items":  []any{forecastBody("p0001"), badDate, forecastBody("p0003"), noProduct, "garbage"},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, 5.0, decode[map[string]any](t, w)["total_products"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Wait(ctx, "mixed"))

	w = h.do(http.MethodGet, "/api/v1/forecast/batch/mixed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[jobStatus](t, w)

	assert.Equal(t, "PARTIALLY_COMPLETED", status.Status)
	assert.Equal(t, 2, status.SucceededCount)
	assert.Equal(t, 3, status.FailedCount)
	require.Len(t, status.Results, 5)
	assert.Equal(t, "SUCCEEDED", status.Results[0].Status)
	assert.Equal(t, "P0002/S001", status.Results[1].ItemID)
	for _, i := range []int{1, 3, 4} {
		assert.Equal(t, "FAILED", status.Results[i].Status, "item %d", i)
		assert.Equal(t, domain.CodeValidation, status.Results[i].Reason, "item %d", i)
	}
	assert.Equal(t, "SUCCEEDED", status.Results[2].Status)
}

func TestBatch_ConflictAndCancel(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.forecaster.forecastFn = func(req domain.ItemRequest) (domain.ItemResult, error) {
		<-release
		return flatResult(req), nil
	}

	body := map[string]any{"job_id": "busy", "items": []any{forecastBody("p1"), forecastBody("p2"), forecastBody("p3")}}
	w := h.do(http.MethodPost, "/api/v1/forecast/batch", body)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = h.do(http.MethodPost, "/api/v1/forecast/batch", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.CodeJobAlreadyRunning, decode[errorBody](t, w).Error.Code)

	w = h.do(http.MethodGet, "/api/v1/forecast/batch/busy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	running := decode[jobStatus](t, w)
	assert.Less(t, running.Progress, 1.0)
	assert.Empty(t, running.Results, "results appear only once terminal")

	w = h.do(http.MethodDelete, "/api/v1/forecast/batch/busy", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Wait(ctx, "busy"))

	status := decode[jobStatus](t, h.do(http.MethodGet, "/api/v1/forecast/batch/busy", nil))
	assert.Equal(t, 1.0, status.Progress)
	assert.Equal(t, status.Total, status.SucceededCount+status.FailedCount)
	assert.Equal(t, status.FailedCount, status.CancelledCount)
}

func TestRiskSummary_ParsesFilter(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/forecasts/risk_summary?store_ids=s001,s002&store_ids=S001&risk_labels=low,critical&regions=North", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []string{"S001", "S002"}, h.risk.filter.StoreIDs)
	assert.Equal(t, []domain.RiskLabel{domain.RiskLow, domain.RiskCritical}, h.risk.filter.RiskLabels)
	assert.Equal(t, []string{"North"}, h.risk.filter.Regions)
	assert.Nil(t, h.risk.filter.Categories)

	w = h.do(http.MethodGet, "/api/v1/forecasts/risk_summary?risk_labels=meh", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
