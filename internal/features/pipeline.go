package features

import (
	"fmt"
	"sort"
	"time"

	"github.com/andresuchdata/demandcast/internal/domain"
)

// MinHistory is the largest lag/rolling window; shorter histories are rejected.
const MinHistory = 30

// FeatureVector is one model input row.
type FeatureVector []float64

// Exogenous holds the inputs that are not derived from the demand series.
type Exogenous struct {
	InventoryLevel float64
	Price          float64
	Discount       float64
	Categories     map[string]string
}

// Row is a history record after sorting and missing-value filling.
type Row struct {
	Date      time.Time
	UnitsSold float64
	Exogenous
}

// Prepared is a validated, filled history with its demand series.
type Prepared struct {
	Rows   []Row
	Series *Series
}

// LastExogenous returns the exogenous inputs of the latest row.
func (p *Prepared) LastExogenous() Exogenous {
	return p.Rows[len(p.Rows)-1].Exogenous
}

// Pipeline turns raw history into feature vectors using a training-time schema and scaler.
type Pipeline struct {
	schema Schema
	scaler *Scaler
}

// NewPipeline creates a pipeline. The scaler may be nil; building then fails with ErrScalerUnavailable.
func NewPipeline(schema Schema, scaler *Scaler) *Pipeline {
	return &Pipeline{schema: schema, scaler: scaler}
}

// Dim is the length of every vector the pipeline produces.
func (p *Pipeline) Dim() int {
	return p.schema.Dim()
}

// Schema returns the one-hot layout in use.
func (p *Pipeline) Schema() Schema {
	return p.schema
}

// Prepare sorts, validates and fills history without building vectors.
func (p *Pipeline) Prepare(history []domain.TimeSeriesRecord) (*Prepared, error) {
	// 1. Sort a copy by date
	recs := make([]domain.TimeSeriesRecord, len(history))
	copy(recs, history)
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Date.Before(recs[j].Date) })

	// 2. One observation per calendar date
	for i := 1; i < len(recs); i++ {
		if dayNumber(recs[i].Date) == dayNumber(recs[i-1].Date) {
			return nil, fmt.Errorf("%w: duplicate date %s", domain.ErrSchema, Day(recs[i].Date).Format(domain.DateLayout))
		}
	}

	// 3. Enough observations for the widest window
	if len(recs) < MinHistory {
		return nil, fmt.Errorf("%w: got %d observations, need at least %d", domain.ErrInsufficientHistory, len(recs), MinHistory)
	}

	// 4. Forward-fill then back-fill numeric columns
	units, err := fillColumn("units_sold", recs, func(r *domain.TimeSeriesRecord) *float64 { return r.UnitsSold })
	if err != nil {
		return nil, err
	}
	inventory, err := fillColumn("inventory_level", recs, func(r *domain.TimeSeriesRecord) *float64 { return r.InventoryLevel })
	if err != nil {
		return nil, err
	}
	price, err := fillColumn("price", recs, func(r *domain.TimeSeriesRecord) *float64 { return r.Price })
	if err != nil {
		return nil, err
	}
	discount, err := fillColumn("discount", recs, func(r *domain.TimeSeriesRecord) *float64 { return r.Discount })
	if err != nil {
		return nil, err
	}

	// 5. Assemble rows and the demand series
	prep := &Prepared{Rows: make([]Row, len(recs)), Series: NewSeries(len(recs))}
	for i, r := range recs {
		prep.Rows[i] = Row{
			Date:      Day(r.Date),
			UnitsSold: units[i],
			Exogenous: Exogenous{
				InventoryLevel: inventory[i],
				Price:          price[i],
				Discount:       discount[i],
				Categories: map[string]string{
					FieldCategory:         r.Category,
					FieldRegion:           r.Region,
					FieldStoreID:          r.StoreID,
					FieldWeatherCondition: r.WeatherCondition,
					FieldSeasonality:      r.Seasonality,
				},
			},
		}
		if err := prep.Series.Append(r.Date, units[i]); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSchema, err)
		}
	}

	return prep, nil
}

// Build produces one feature vector per history date, in date order.
func (p *Pipeline) Build(history []domain.TimeSeriesRecord) ([]FeatureVector, error) {
	prep, err := p.Prepare(history)
	if err != nil {
		return nil, err
	}
	if err := p.scaler.Check(); err != nil {
		return nil, err
	}

	return p.vectors(prep.Rows, prep.Series)
}

func (p *Pipeline) vectors(rows []Row, s *Series) ([]FeatureVector, error) {
	out := make([]FeatureVector, 0, len(rows))
	for _, r := range rows {
		vec, err := p.VectorAt(s, r.Date, r.Exogenous)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

// VectorAt builds the vector for date t from the series and the given exogenous inputs.
// Only observations before t contribute to lag and rolling features.
func (p *Pipeline) VectorAt(s *Series, t time.Time, ex Exogenous) (FeatureVector, error) {
	if err := p.scaler.Check(); err != nil {
		return nil, err
	}

	raw := RawNumeric(s, t, ex)
	vec := make(FeatureVector, p.Dim())
	for i, name := range NumericFeatures {
		vec[i] = p.scaler.Scale(name, raw[i])
	}
	p.schema.encode(ex.Categories, vec[len(NumericFeatures):])

	return vec, nil
}

// RawNumeric returns the unscaled numeric features for date t in NumericFeatures order.
func RawNumeric(s *Series, t time.Time, ex Exogenous) []float64 {
	t = Day(t)
	_, week := t.ISOWeek()
	rm7, rs7 := s.Rolling(t, 7)
	rm30, rs30 := s.Rolling(t, 30)

	return []float64{
		ex.InventoryLevel,
		ex.Price,
		ex.Discount,
		float64(t.Month()),
		float64(t.Day()),
		float64(week),
		float64(t.Year()),
		s.Lag(t, 1),
		s.Lag(t, 7),
		s.Lag(t, 30),
		rm7, rs7, rm30, rs30,
	}
}

func fillColumn(name string, recs []domain.TimeSeriesRecord, get func(*domain.TimeSeriesRecord) *float64) ([]float64, error) {
	out := make([]float64, len(recs))
	present := make([]bool, len(recs))

	first := -1
	for i := range recs {
		if v := get(&recs[i]); v != nil {
			out[i] = *v
			present[i] = true
			if first < 0 {
				first = i
			}
		}
	}
	if first < 0 {
		return nil, fmt.Errorf("%w: column %s has no values", domain.ErrSchema, name)
	}

	// forward fill
	for i := first + 1; i < len(out); i++ {
		if !present[i] {
			out[i] = out[i-1]
		}
	}
	// back fill the leading gap
	for i := first - 1; i >= 0; i-- {
		out[i] = out[i+1]
	}

	return out, nil
}
