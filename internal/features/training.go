package features

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/demandcast/internal/domain"
)

// IQRMultiplier bounds the fences used for training-time outlier removal.
const IQRMultiplier = 1.5

// BuildTraining is the training-time variant of Build: rows whose units sold fall
// outside the IQR fences are dropped before vectors are built, and the realized
// units sold of each kept row are returned as targets. Inference never drops rows.
func (p *Pipeline) BuildTraining(history []domain.TimeSeriesRecord) ([]FeatureVector, []float64, error) {
	prep, err := p.Prepare(history)
	if err != nil {
		return nil, nil, err
	}
	if err := p.scaler.Check(); err != nil {
		return nil, nil, err
	}

	kept, removed := RemoveOutliers(prep.Rows)
	if len(kept) < MinHistory {
		return nil, nil, fmt.Errorf("%w: %d observations left after outlier removal, need at least %d",
			domain.ErrInsufficientHistory, len(kept), MinHistory)
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Int("kept", len(kept)).Msg("Removed demand outliers")
	}

	series := NewSeries(len(kept))
	targets := make([]float64, len(kept))
	for i, r := range kept {
		if err := series.Append(r.Date, r.UnitsSold); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", domain.ErrSchema, err)
		}
		targets[i] = r.UnitsSold
	}

	vecs, err := p.vectors(kept, series)
	if err != nil {
		return nil, nil, err
	}
	return vecs, targets, nil
}

// RemoveOutliers keeps rows whose units sold lie within [Q1 - 1.5·IQR, Q3 + 1.5·IQR].
func RemoveOutliers(rows []Row) ([]Row, int) {
	if len(rows) == 0 {
		return rows, 0
	}

	units := make([]float64, len(rows))
	for i, r := range rows {
		units[i] = r.UnitsSold
	}
	lo, hi := IQRFences(units, IQRMultiplier)

	kept := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.UnitsSold >= lo && r.UnitsSold <= hi {
			kept = append(kept, r)
		}
	}
	return kept, len(rows) - len(kept)
}

// IQRFences returns the lower and upper outlier fences of values.
func IQRFences(values []float64, k float64) (lo, hi float64) {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	q1 := Quantile(sorted, 0.25)
	q3 := Quantile(sorted, 0.75)
	iqr := q3 - q1
	return q1 - k*iqr, q3 + k*iqr
}

// Quantile interpolates linearly between closest ranks of an ascending slice.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	pos := q * float64(n-1)
	i := int(pos)
	if i >= n-1 {
		return sorted[n-1]
	}
	frac := pos - float64(i)
	return sorted[i] + frac*(sorted[i+1]-sorted[i])
}
