package forecast

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/demandcast/internal/domain"
	"github.com/andresuchdata/demandcast/internal/features"
	"github.com/andresuchdata/demandcast/internal/storage"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeModel predicts whatever predictFn returns.
type fakeModel struct {
	dim       int
	predictFn func(vec []float64) float64
}

func (m *fakeModel) Predict(vec []float64) float64 { return m.predictFn(vec) }
func (m *fakeModel) InputDim() int                 { return m.dim }

func identityScaler() *features.Scaler {
	sc := &features.Scaler{Ranges: map[string]features.Range{}}
	for _, name := range features.NumericFeatures {
		sc.Ranges[name] = features.Range{Min: 0, Max: 1}
	}
	return sc
}

func testPipeline() *features.Pipeline {
	return features.NewPipeline(features.Schema{Categorical: []features.CategoricalField{
		{Name: features.FieldStoreID, Values: []string{"S001", "S002"}},
	}}, identityScaler())
}

func history(n int) []domain.TimeSeriesRecord {
	out := make([]domain.TimeSeriesRecord, n)
	for i := range out {
		out[i] = domain.TimeSeriesRecord{
			StoreID:        "S001",
			Date:           day0.AddDate(0, 0, i),
			UnitsSold:      domain.Float(float64(i + 1)),
			InventoryLevel: domain.Float(100),
			Price:          domain.Float(10),
			Discount:       domain.Float(0),
		}
	}
	return out
}

// lagOnePlusOne predicts yesterday's demand plus one.
func lagOnePlusOne(p *features.Pipeline) *fakeModel {
	return &fakeModel{dim: p.Dim(), predictFn: func(vec []float64) float64 { return vec[7] + 1 }}
}

func TestPredictOne(t *testing.T) {
	p := testPipeline()

	t.Run("no model", func(t *testing.T) {
		a, err := NewAdapter(nil, p, 1, "", Config{})
		require.NoError(t, err)
		_, err = a.PredictOne(make(features.FeatureVector, p.Dim()))
		assert.ErrorIs(t, err, domain.ErrModelUnavailable)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		a, err := NewAdapter(lagOnePlusOne(p), p, 1, "", Config{})
		require.NoError(t, err)
		_, err = a.PredictOne(make(features.FeatureVector, p.Dim()-1))
		assert.ErrorIs(t, err, domain.ErrFeatureMismatch)
	})

	t.Run("negative clamps to zero", func(t *testing.T) {
		m := &fakeModel{dim: p.Dim(), predictFn: func([]float64) float64 { return -3 }}
		a, err := NewAdapter(m, p, 1, "", Config{})
		require.NoError(t, err)
		y, err := a.PredictOne(make(features.FeatureVector, p.Dim()))
		require.NoError(t, err)
		assert.Equal(t, 0.0, y)
	})
}

func TestNewAdapter_RejectsMismatchedModel(t *testing.T) {
	p := testPipeline()
	_, err := NewAdapter(&fakeModel{dim: p.Dim() + 2}, p, 1, "", Config{})
	assert.ErrorIs(t, err, domain.ErrFeatureMismatch)
}

func TestPredictHorizon_ShapeAndBounds(t *testing.T) {
	p := testPipeline()
	a, err := NewAdapter(lagOnePlusOne(p), p, 4, "v1", Config{Z: 1.65})
	require.NoError(t, err)

	current := day0.AddDate(0, 0, 29)
	res, err := a.PredictHorizon(context.Background(), history(30), current)
	require.NoError(t, err)

	require.Len(t, res.Series, DefaultHorizon)
	require.Len(t, res.Dates, DefaultHorizon)
	require.Len(t, res.ConfidenceUpper, DefaultHorizon)
	require.Len(t, res.ConfidenceLower, DefaultHorizon)
	assert.Equal(t, current.AddDate(0, 0, 1), res.Dates[0])
	assert.Equal(t, current.AddDate(0, 0, DefaultHorizon), res.Dates[DefaultHorizon-1])

	for i, y := range res.Series {
		assert.GreaterOrEqual(t, y, 0.0)
		assert.InDelta(t, 1.65*4, res.ConfidenceUpper[i]-y, 1e-9)
		assert.InDelta(t, 1.65*4, y-res.ConfidenceLower[i], 1e-9)
	}
}

func TestPredictHorizon_FeedsPredictionsBack(t *testing.T) {
	p := testPipeline()
	a, err := NewAdapter(lagOnePlusOne(p), p, 0, "", Config{Horizon: 10})
	require.NoError(t, err)

	res, err := a.PredictHorizon(context.Background(), history(30), day0.AddDate(0, 0, 29))
	require.NoError(t, err)

	// last observed value is 30; every step sees the previous prediction as lag_1
	for i, y := range res.Series {
		assert.Equal(t, float64(31+i), y)
	}
}

func TestPredictHorizon_GapUsesRunningMean(t *testing.T) {
	p := testPipeline()
	a, err := NewAdapter(lagOnePlusOne(p), p, 0, "", Config{Horizon: 3})
	require.NoError(t, err)

	res, err := a.PredictHorizon(context.Background(), history(30), day0.AddDate(0, 0, 34))
	require.NoError(t, err)

	assert.Equal(t, day0.AddDate(0, 0, 35), res.Dates[0])
	assert.InDelta(t, 16.5, res.Series[0], 1e-9, "lag_1 missing, mean of 1..30 is 15.5")
	assert.InDelta(t, 17.5, res.Series[1], 1e-9)
}

func TestPredictHorizon_Errors(t *testing.T) {
	p := testPipeline()
	a, err := NewAdapter(lagOnePlusOne(p), p, 0, "", Config{})
	require.NoError(t, err)

	t.Run("insufficient history", func(t *testing.T) {
		_, err := a.PredictHorizon(context.Background(), history(29), time.Time{})
		assert.ErrorIs(t, err, domain.ErrInsufficientHistory)
	})

	t.Run("history after current date", func(t *testing.T) {
		_, err := a.PredictHorizon(context.Background(), history(30), day0.AddDate(0, 0, 10))
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("deadline exceeded", func(t *testing.T) {
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()
		_, err := a.PredictHorizon(ctx, history(30), time.Time{})
		assert.ErrorIs(t, err, domain.ErrTimeout)
	})

	t.Run("no model", func(t *testing.T) {
		empty, err := NewAdapter(nil, p, 0, "", Config{})
		require.NoError(t, err)
		_, err = empty.PredictHorizon(context.Background(), history(30), time.Time{})
		assert.ErrorIs(t, err, domain.ErrModelUnavailable)
	})
}

// fakeObjects serves a single object.
type fakeObjects struct {
	getFn func(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

func (f *fakeObjects) ListObjects(context.Context, string, string) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (f *fakeObjects) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return f.getFn(ctx, bucket, key)
}

func (f *fakeObjects) UploadObject(context.Context, string, string, []byte, string) error {
	return nil
}

func TestLoadArtifact_LocalFile(t *testing.T) {
	a, err := LoadArtifact(context.Background(), "testdata/model.json", nil)
	require.NoError(t, err)

	assert.Equal(t, "test-1", a.Version)
	assert.Equal(t, 12.5, a.ResidualStd)
	assert.Len(t, a.Weights, a.Schema.Dim())

	adapter, err := FromArtifact(a, Config{})
	require.NoError(t, err)
	assert.True(t, adapter.Ready())
	assert.Equal(t, DefaultHorizon, adapter.Horizon())

	res, err := adapter.PredictHorizon(context.Background(), history(30), time.Time{})
	require.NoError(t, err)
	// the test artifact predicts the trailing 7-day mean: 24..30
	assert.InDelta(t, 27.0, res.Series[0], 1e-6)
}

func TestLoadArtifact_ObjectStorage(t *testing.T) {
	data, err := os.ReadFile("testdata/model.json")
	require.NoError(t, err)

	var gotBucket, gotKey string
	objects := &fakeObjects{getFn: func(_ context.Context, bucket, key string) (io.ReadCloser, error) {
		gotBucket, gotKey = bucket, key
		return io.NopCloser(bytes.NewReader(data)), nil
	}}

	a, err := LoadArtifact(context.Background(), "s3://models/demand/test.json", objects)
	require.NoError(t, err)
	assert.Equal(t, "models", gotBucket)
	assert.Equal(t, "demand/test.json", gotKey)
	assert.Equal(t, "test-1", a.Version)

	_, err = LoadArtifact(context.Background(), "s3://models/demand/test.json", nil)
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestLoadArtifact_Failures(t *testing.T) {
	_, err := LoadArtifact(context.Background(), "testdata/missing.json", nil)
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)

	_, err = DecodeArtifact(bytes.NewBufferString("{not json"))
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)

	a, err := LoadArtifact(context.Background(), "testdata/model.json", nil)
	require.NoError(t, err)
	a.Weights = a.Weights[:5]
	assert.ErrorIs(t, a.Validate(), domain.ErrFeatureMismatch)
}
