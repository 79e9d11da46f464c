package features

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/demandcast/internal/domain"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func identityScaler() *Scaler {
	sc := &Scaler{Ranges: map[string]Range{}}
	for _, name := range NumericFeatures {
		sc.Ranges[name] = Range{Min: 0, Max: 1}
	}
	return sc
}

func testSchema() Schema {
	return Schema{Categorical: []CategoricalField{
		{Name: FieldCategory, Values: []string{"Groceries", "Toys"}},
		{Name: FieldRegion, Values: []string{"North", "South"}},
		{Name: FieldStoreID, Values: []string{"S001", "S002"}},
	}}
}

// history returns n consecutive days with units_sold = 1..n.
func history(n int) []domain.TimeSeriesRecord {
	out := make([]domain.TimeSeriesRecord, n)
	for i := range out {
		out[i] = domain.TimeSeriesRecord{
			ProductID:        "P0001",
			StoreID:          "S001",
			Date:             day0.AddDate(0, 0, i),
			UnitsSold:        domain.Float(float64(i + 1)),
			InventoryLevel:   domain.Float(200),
			Price:            domain.Float(19.99),
			Discount:         domain.Float(10),
			Category:         "Groceries",
			Region:           "North",
			WeatherCondition: "Sunny",
			Seasonality:      "Winter",
		}
	}
	return out
}

func TestBuild_InsufficientHistory(t *testing.T) {
	p := NewPipeline(testSchema(), identityScaler())

	_, err := p.Build(history(MinHistory - 1))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)
}

func TestBuild_DuplicateDate(t *testing.T) {
	p := NewPipeline(testSchema(), identityScaler())
	h := history(35)
	h[10].Date = h[11].Date.Add(3 * time.Hour)

	_, err := p.Build(h)

	assert.ErrorIs(t, err, domain.ErrSchema)
}

func TestBuild_VectorLayout(t *testing.T) {
	p := NewPipeline(testSchema(), identityScaler())

	vecs, err := p.Build(history(30))
	require.NoError(t, err)
	require.Len(t, vecs, 30)
	for _, v := range vecs {
		assert.Len(t, v, p.Dim())
	}
	assert.Equal(t, len(NumericFeatures)+6, p.Dim())

	first := vecs[0]
	assert.Equal(t, 0.0, first[7], "lag_1 on an empty series")
	assert.Equal(t, 0.0, first[10], "roll_mean_7 on an empty series")
	assert.Equal(t, 0.0, first[11])

	last := vecs[29] // 2024-01-30, previous values 1..29
	assert.Equal(t, 200.0, last[0])
	assert.Equal(t, 19.99, last[1])
	assert.Equal(t, 10.0, last[2])
	assert.Equal(t, 1.0, last[3])
	assert.Equal(t, 30.0, last[4])
	assert.Equal(t, 5.0, last[5])
	assert.Equal(t, 2024.0, last[6])
	assert.Equal(t, 29.0, last[7], "lag_1")
	assert.Equal(t, 23.0, last[8], "lag_7")
	assert.InDelta(t, 15.0, last[9], 1e-9, "lag_30 falls back to the running mean")
	assert.InDelta(t, 26.0, last[10], 1e-9, "roll_mean_7")
	assert.InDelta(t, 2.0, last[11], 1e-9, "roll_std_7")
	assert.InDelta(t, 15.0, last[12], 1e-9, "roll_mean_30")
	assert.InDelta(t, math.Sqrt(70), last[13], 1e-9, "roll_std_30")

	oneHot := last[len(NumericFeatures):]
	assert.Equal(t, []float64{1, 0, 1, 0, 1, 0}, []float64(oneHot))
}

func TestBuild_UnsortedInputMatchesSorted(t *testing.T) {
	p := NewPipeline(testSchema(), identityScaler())
	h := history(40)
	sorted, err := p.Build(h)
	require.NoError(t, err)

	shuffled := make([]domain.TimeSeriesRecord, len(h))
	copy(shuffled, h)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	got, err := p.Build(shuffled)
	require.NoError(t, err)
	assert.Equal(t, sorted, got)
}

func TestBuild_UnseenCategoryEncodesAllZero(t *testing.T) {
	p := NewPipeline(testSchema(), identityScaler())
	h := history(30)
	for i := range h {
		h[i].Category = "Electronics"
		h[i].Region = " south "
	}

	vecs, err := p.Build(h)
	require.NoError(t, err)

	oneHot := vecs[29][len(NumericFeatures):]
	assert.Equal(t, []float64{0, 0, 0, 1, 1, 0}, []float64(oneHot))
}

func TestBuild_ScalerUnavailable(t *testing.T) {
	t.Run("nil scaler", func(t *testing.T) {
		_, err := NewPipeline(testSchema(), nil).Build(history(30))
		assert.ErrorIs(t, err, domain.ErrScalerUnavailable)
	})

	t.Run("missing feature", func(t *testing.T) {
		sc := identityScaler()
		delete(sc.Ranges, FeatRollStd30)
		_, err := NewPipeline(testSchema(), sc).Build(history(30))
		assert.ErrorIs(t, err, domain.ErrScalerUnavailable)
	})
}

func TestBuild_ScalesWithTrainingRange(t *testing.T) {
	sc := identityScaler()
	sc.Ranges[FeatInventoryLevel] = Range{Min: 100, Max: 300}
	sc.Ranges[FeatYear] = Range{Min: 2024, Max: 2024}

	vecs, err := NewPipeline(testSchema(), sc).Build(history(30))
	require.NoError(t, err)

	assert.InDelta(t, 0.5, vecs[0][0], 1e-12)
	assert.Equal(t, 0.0, vecs[0][6], "degenerate range scales to zero")
}

func TestPrepare_FillsMissingValues(t *testing.T) {
	p := NewPipeline(testSchema(), identityScaler())
	h := history(32)
	h[0].UnitsSold = nil
	h[1].UnitsSold = nil
	h[10].Price = nil
	h[11].Price = nil
	h[12].Price = domain.Float(25)

	prep, err := p.Prepare(h)
	require.NoError(t, err)

	assert.Equal(t, 3.0, prep.Rows[0].UnitsSold, "back-filled from the first observed value")
	assert.Equal(t, 3.0, prep.Rows[1].UnitsSold)
	assert.Equal(t, 19.99, prep.Rows[10].Price, "forward-filled")
	assert.Equal(t, 19.99, prep.Rows[11].Price)
	assert.Equal(t, 25.0, prep.Rows[12].Price)
}

func TestPrepare_EmptyColumnIsSchemaError(t *testing.T) {
	p := NewPipeline(testSchema(), identityScaler())
	h := history(30)
	for i := range h {
		h[i].Discount = nil
	}

	_, err := p.Prepare(h)
	assert.ErrorIs(t, err, domain.ErrSchema)
}

func TestSchema_Validate(t *testing.T) {
	assert.NoError(t, testSchema().Validate())

	bad := Schema{Categorical: []CategoricalField{{Name: "colour", Values: []string{"red"}}}}
	assert.ErrorIs(t, bad.Validate(), domain.ErrSchema)

	dup := Schema{Categorical: []CategoricalField{{Name: FieldRegion, Values: []string{"North", "north"}}}}
	assert.ErrorIs(t, dup.Validate(), domain.ErrSchema)
}
