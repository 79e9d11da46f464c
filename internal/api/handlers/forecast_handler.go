package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/demandcast/internal/api/response"
	"github.com/andresuchdata/demandcast/internal/domain"
	"github.com/andresuchdata/demandcast/internal/repository"
)

// Forecaster produces a forecast and inventory decisions for one SKU.
type Forecaster interface {
	Forecast(ctx context.Context, req domain.ItemRequest) (domain.ItemResult, error)
	ModelVersion() string
}

// ResultSink receives successful real-time results.
type ResultSink interface {
	Save(ctx context.Context, result domain.ItemResult)
}

// BatchRunner submits, polls and cancels batch jobs.
type BatchRunner interface {
	Submit(ctx context.Context, jobID string, items []domain.ItemRequest) (string, error)
	Status(ctx context.Context, jobID string) (*domain.BatchJob, error)
	Cancel(jobID string) error
}

// RiskReporter summarizes the latest stored forecasts.
type RiskReporter interface {
	RiskSummary(ctx context.Context, filter repository.ForecastFilter) ([]domain.RiskSummary, error)
}

type ForecastHandler struct {
	forecaster Forecaster
	sink       ResultSink
	batch      BatchRunner
	risk       RiskReporter
}

func NewForecastHandler(forecaster Forecaster, sink ResultSink, batch BatchRunner, risk RiskReporter) *ForecastHandler {
	return &ForecastHandler{forecaster: forecaster, sink: sink, batch: batch, risk: risk}
}

// Forecast handles POST /forecast. Nothing is created on failure.
func (h *ForecastHandler) Forecast(c *gin.Context) {
	var body forecastRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, domain.CodeValidation, "invalid request body", err.Error())
		return
	}

	req, err := body.toDomain()
	if err != nil {
		response.FromError(c, err)
		return
	}

	result, err := h.forecaster.Forecast(c.Request.Context(), req)
	if err != nil {
		log.Warn().Err(err).Str("product_id", req.ProductID).Str("store_id", req.StoreID).Msg("Real-time forecast failed")
		response.FromError(c, err)
		return
	}

	if h.sink != nil {
		h.sink.Save(c.Request.Context(), result)
	}

	c.JSON(http.StatusOK, newForecastResponse(result, h.forecaster.ModelVersion()))
}

// SubmitBatch handles POST /forecast/batch. Only a malformed envelope is a 400;
// an invalid item is accepted and settles FAILED(VALIDATION_ERROR) in the job.
func (h *ForecastHandler) SubmitBatch(c *gin.Context) {
	var body batchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, domain.CodeValidation, "invalid request body", err.Error())
		return
	}

	items := make([]domain.ItemRequest, len(body.Items))
	for i, raw := range body.Items {
		items[i] = decodeBatchItem(raw)
		if items[i].Rejected != nil {
			log.Debug().Err(items[i].Rejected).Int("item_index", i).Msg("Batch item rejected at decode")
		}
	}

	jobID, err := h.batch.Submit(c.Request.Context(), strings.TrimSpace(body.JobID), items)
	if err != nil {
		response.FromError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":         jobID,
		"status":         "processing",
		"total_products": len(items),
	})
}

// GetBatch handles GET /forecast/batch/:job_id.
func (h *ForecastHandler) GetBatch(c *gin.Context) {
	job, err := h.batch.Status(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	c.JSON(http.StatusOK, newJobStatusResponse(job, h.forecaster.ModelVersion()))
}

// CancelBatch handles DELETE /forecast/batch/:job_id.
func (h *ForecastHandler) CancelBatch(c *gin.Context) {
	jobID := c.Param("job_id")
	if err := h.batch.Cancel(jobID); err != nil {
		response.FromError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": "cancelling"})
}

// RiskSummary handles GET /forecasts/risk_summary.
func (h *ForecastHandler) RiskSummary(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		response.FromError(c, err)
		return
	}

	summary, err := h.risk.RiskSummary(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, domain.CodeInternal, "failed to fetch risk summary", err.Error())
		return
	}
	if summary == nil {
		summary = make([]domain.RiskSummary, 0)
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// parseFilter supports repeated params and comma-separated values:
//
//	?store_ids=S001&store_ids=S002
//	?store_ids=S001,S002
func parseFilter(c *gin.Context) (repository.ForecastFilter, error) {
	var filter repository.ForecastFilter

	filter.StoreIDs = queryList(c, "store_ids", domain.NormalizeID)
	filter.Categories = queryList(c, "categories", strings.TrimSpace)
	filter.Regions = queryList(c, "regions", strings.TrimSpace)

	for _, raw := range queryList(c, "risk_labels", strings.TrimSpace) {
		label, ok := domain.ParseRiskLabel(raw)
		if !ok {
			return filter, fmt.Errorf("%w: unknown risk label %q", domain.ErrValidation, raw)
		}
		filter.RiskLabels = append(filter.RiskLabels, label)
	}

	return filter, nil
}

func queryList(c *gin.Context, param string, normalize func(string) string) []string {
	raw := c.QueryArray(param)
	if len(raw) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	for _, v := range raw {
		for _, p := range strings.Split(v, ",") {
			p = normalize(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
