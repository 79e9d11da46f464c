package forecast

import (
	"fmt"

	"github.com/andresuchdata/demandcast/internal/domain"
)

// Regressor is a trained single-step demand model.
// Implementations must be safe for concurrent use by multiple workers.
type Regressor interface {
	Predict(vec []float64) float64
	InputDim() int
}

// LinearModel is a dense linear regressor over scaled feature vectors.
type LinearModel struct {
	Weights   []float64
	Intercept float64
}

// NewLinearModel copies weights so the model stays immutable once shared.
func NewLinearModel(weights []float64, intercept float64) (*LinearModel, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: linear model has no weights", domain.ErrModelUnavailable)
	}
	w := make([]float64, len(weights))
	copy(w, weights)
	return &LinearModel{Weights: w, Intercept: intercept}, nil
}

func (m *LinearModel) Predict(vec []float64) float64 {
	y := m.Intercept
	for i, w := range m.Weights {
		y += w * vec[i]
	}
	return y
}

func (m *LinearModel) InputDim() int {
	return len(m.Weights)
}
