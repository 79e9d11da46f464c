package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/andresuchdata/demandcast/internal/domain"
	"github.com/andresuchdata/demandcast/internal/features"
)

const (
	DefaultHorizon = 60
	DefaultZ       = 1.65
)

// Config controls the rollout.
type Config struct {
	Horizon int
	Z       float64
}

func (c Config) withDefaults() Config {
	if c.Horizon <= 0 {
		c.Horizon = DefaultHorizon
	}
	if c.Z <= 0 {
		c.Z = DefaultZ
	}
	return c
}

// Adapter holds a loaded model and its feature pipeline. It is constructed once
// and shared read-only by every caller.
type Adapter struct {
	model       Regressor
	pipeline    *features.Pipeline
	residualStd float64
	version     string
	cfg         Config
}

// NewAdapter wires a model to the pipeline it was trained with. model may be nil,
// in which case every prediction fails with ErrModelUnavailable.
func NewAdapter(model Regressor, pipeline *features.Pipeline, residualStd float64, version string, cfg Config) (*Adapter, error) {
	if model != nil && model.InputDim() != pipeline.Dim() {
		return nil, fmt.Errorf("%w: model expects %d features, pipeline produces %d",
			domain.ErrFeatureMismatch, model.InputDim(), pipeline.Dim())
	}
	return &Adapter{
		model:       model,
		pipeline:    pipeline,
		residualStd: residualStd,
		version:     version,
		cfg:         cfg.withDefaults(),
	}, nil
}

// FromArtifact builds an adapter around the linear model stored in a.
func FromArtifact(a *Artifact, cfg Config) (*Adapter, error) {
	model, err := NewLinearModel(a.Weights, a.Intercept)
	if err != nil {
		return nil, err
	}
	return NewAdapter(model, features.NewPipeline(a.Schema, a.Scaler), a.ResidualStd, a.Version, cfg)
}

// Version identifies the loaded artifact.
func (a *Adapter) Version() string { return a.version }

// Horizon is the number of days every forecast covers.
func (a *Adapter) Horizon() int { return a.cfg.Horizon }

// Pipeline returns the feature pipeline the model was trained with.
func (a *Adapter) Pipeline() *features.Pipeline { return a.pipeline }

// Ready reports whether a model is loaded.
func (a *Adapter) Ready() bool { return a != nil && a.model != nil }

// PredictOne runs a single vector through the model, clamping negative demand to 0.
func (a *Adapter) PredictOne(vec features.FeatureVector) (float64, error) {
	if !a.Ready() {
		return 0, domain.ErrModelUnavailable
	}
	if len(vec) != a.model.InputDim() {
		return 0, fmt.Errorf("%w: got %d features, model expects %d",
			domain.ErrFeatureMismatch, len(vec), a.model.InputDim())
	}

	y := a.model.Predict(vec)
	if y < 0 || math.IsNaN(y) {
		return 0, nil
	}
	return y, nil
}

// PredictHorizon forecasts the days after currentDate. Each step recomputes lag and
// rolling features from a series that already contains the previous predictions, so
// early errors feed into later inputs. Exogenous inputs stay at their last observed values.
// A zero currentDate means the last history date.
func (a *Adapter) PredictHorizon(ctx context.Context, history []domain.TimeSeriesRecord, currentDate time.Time) (domain.ForecastResult, error) {
	if !a.Ready() {
		return domain.ForecastResult{}, domain.ErrModelUnavailable
	}

	prep, err := a.pipeline.Prepare(history)
	if err != nil {
		return domain.ForecastResult{}, err
	}

	lastDate, _, _ := prep.Series.Last()
	if currentDate.IsZero() {
		currentDate = lastDate
	}
	currentDate = features.Day(currentDate)
	if lastDate.After(currentDate) {
		return domain.ForecastResult{}, fmt.Errorf("%w: history runs to %s, past current_date %s",
			domain.ErrValidation, lastDate.Format(domain.DateLayout), currentDate.Format(domain.DateLayout))
	}

	ex := prep.LastExogenous()
	width := a.cfg.Z * a.residualStd
	h := a.cfg.Horizon
	res := domain.ForecastResult{
		Series:          make([]float64, h),
		Dates:           make([]time.Time, h),
		ConfidenceUpper: make([]float64, h),
		ConfidenceLower: make([]float64, h),
	}

	for i := 0; i < h; i++ {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return domain.ForecastResult{}, fmt.Errorf("%w: rollout stopped at day %d", domain.ErrTimeout, i+1)
			}
			return domain.ForecastResult{}, fmt.Errorf("rollout stopped at day %d: %w", i+1, err)
		}

		date := currentDate.AddDate(0, 0, i+1)
		vec, err := a.pipeline.VectorAt(prep.Series, date, ex)
		if err != nil {
			return domain.ForecastResult{}, err
		}
		y, err := a.PredictOne(vec)
		if err != nil {
			return domain.ForecastResult{}, err
		}
		if err := prep.Series.Append(date, y); err != nil {
			return domain.ForecastResult{}, fmt.Errorf("%w: %v", domain.ErrSchema, err)
		}

		res.Series[i] = y
		res.Dates[i] = date
		res.ConfidenceUpper[i] = y + width
		res.ConfidenceLower[i] = y - width
	}

	return res, nil
}
