package features

import (
	"fmt"
	"strings"

	"github.com/andresuchdata/demandcast/internal/domain"
)

// Numeric feature names in vector order. One-hot blocks follow them.
const (
	FeatInventoryLevel = "inventory_level"
	FeatPrice          = "price"
	FeatDiscount       = "discount"
	FeatMonth          = "month"
	FeatDay            = "day"
	FeatWeek           = "week"
	FeatYear           = "year"
	FeatLag1           = "lag_1"
	FeatLag7           = "lag_7"
	FeatLag30          = "lag_30"
	FeatRollMean7      = "roll_mean_7"
	FeatRollStd7       = "roll_std_7"
	FeatRollMean30     = "roll_mean_30"
	FeatRollStd30      = "roll_std_30"
)

// NumericFeatures lists the scaled features in the order they appear in a vector.
var NumericFeatures = []string{
	FeatInventoryLevel, FeatPrice, FeatDiscount,
	FeatMonth, FeatDay, FeatWeek, FeatYear,
	FeatLag1, FeatLag7, FeatLag30,
	FeatRollMean7, FeatRollStd7, FeatRollMean30, FeatRollStd30,
}

// Categorical field names accepted in a Schema.
const (
	FieldCategory         = "category"
	FieldRegion           = "region"
	FieldStoreID          = "store_id"
	FieldWeatherCondition = "weather_condition"
	FieldSeasonality      = "seasonality"
)

var knownFields = map[string]bool{
	FieldCategory:         true,
	FieldRegion:           true,
	FieldStoreID:          true,
	FieldWeatherCondition: true,
	FieldSeasonality:      true,
}

// CategoricalField is the training-time reference category set of one field.
type CategoricalField struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Schema fixes the one-hot layout established at training time.
type Schema struct {
	Categorical []CategoricalField `json:"categorical"`
}

// Validate rejects unknown fields, duplicate fields and duplicate categories.
func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s.Categorical))
	for _, f := range s.Categorical {
		if !knownFields[f.Name] {
			return fmt.Errorf("%w: unknown categorical field %q", domain.ErrSchema, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: categorical field %q listed twice", domain.ErrSchema, f.Name)
		}
		seen[f.Name] = true

		values := make(map[string]bool, len(f.Values))
		for _, v := range f.Values {
			k := normalizeCategory(v)
			if values[k] {
				return fmt.Errorf("%w: duplicate category %q in field %q", domain.ErrSchema, v, f.Name)
			}
			values[k] = true
		}
	}
	return nil
}

// Dim is the length of a feature vector built against this schema.
func (s Schema) Dim() int {
	n := len(NumericFeatures)
	for _, f := range s.Categorical {
		n += len(f.Values)
	}
	return n
}

// encode writes the one-hot blocks for cats into dst, which must hold Dim()-len(NumericFeatures) zeros.
// Unseen or empty categories leave their block all zero.
func (s Schema) encode(cats map[string]string, dst []float64) {
	offset := 0
	for _, f := range s.Categorical {
		want := normalizeCategory(cats[f.Name])
		if want != "" {
			for i, v := range f.Values {
				if normalizeCategory(v) == want {
					dst[offset+i] = 1
					break
				}
			}
		}
		offset += len(f.Values)
	}
}

func normalizeCategory(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// Range is the min/max of one numeric feature observed at training time.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Scaler holds training-time min/max parameters per numeric feature.
type Scaler struct {
	Ranges map[string]Range `json:"ranges"`
}

// Check returns ErrScalerUnavailable when any numeric feature lacks parameters.
func (s *Scaler) Check() error {
	if s == nil || len(s.Ranges) == 0 {
		return fmt.Errorf("%w: no scale parameters loaded", domain.ErrScalerUnavailable)
	}
	for _, name := range NumericFeatures {
		if _, ok := s.Ranges[name]; !ok {
			return fmt.Errorf("%w: missing scale parameters for %s", domain.ErrScalerUnavailable, name)
		}
	}
	return nil
}

// Scale maps v into the training range of the named feature. A degenerate range scales to 0.
func (s *Scaler) Scale(name string, v float64) float64 {
	r := s.Ranges[name]
	if r.Max == r.Min {
		return 0
	}
	return (v - r.Min) / (r.Max - r.Min)
}

// FitScaler learns min/max per numeric feature from raw (unscaled) vectors.
func FitScaler(raw [][]float64) *Scaler {
	sc := &Scaler{Ranges: make(map[string]Range, len(NumericFeatures))}
	for i, name := range NumericFeatures {
		var r Range
		for j, vec := range raw {
			if j == 0 || vec[i] < r.Min {
				r.Min = vec[i]
			}
			if j == 0 || vec[i] > r.Max {
				r.Max = vec[i]
			}
		}
		sc.Ranges[name] = r
	}
	return sc
}
