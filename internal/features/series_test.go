package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeries_AppendRequiresIncreasingDates(t *testing.T) {
	s := NewSeries(2)
	require.NoError(t, s.Append(day0, 1))
	assert.Error(t, s.Append(day0, 2))
	assert.Error(t, s.Append(day0.AddDate(0, 0, -1), 2))
	assert.Equal(t, 1, s.Len())
}

func TestSeries_LagFallsBackToRunningMean(t *testing.T) {
	s := NewSeries(3)
	require.NoError(t, s.Append(day0, 10))
	require.NoError(t, s.Append(day0.AddDate(0, 0, 2), 20)) // gap on day 1

	at := day0.AddDate(0, 0, 3)
	assert.Equal(t, 20.0, s.Lag(at, 1))
	assert.Equal(t, 15.0, s.Lag(at, 2), "missing day uses mean of earlier values")
	assert.Equal(t, 10.0, s.Lag(at, 3))
	assert.Equal(t, 0.0, s.Lag(day0, 1), "empty prefix")
}

func TestSeries_RollingPartialWindow(t *testing.T) {
	s := NewSeries(3)
	require.NoError(t, s.Append(day0, 2))
	require.NoError(t, s.Append(day0.AddDate(0, 0, 1), 4))

	mean, std := s.Rolling(day0.AddDate(0, 0, 2), 7)
	assert.Equal(t, 3.0, mean)
	assert.Equal(t, 1.0, std)

	mean, std = s.Rolling(day0.AddDate(0, 0, 1), 7)
	assert.Equal(t, 2.0, mean)
	assert.Equal(t, 0.0, std, "single point has no spread")

	// window [day 20, day 29] is empty, running mean takes over
	mean, std = s.Rolling(day0.AddDate(0, 0, 30), 10)
	assert.Equal(t, 3.0, mean)
	assert.Equal(t, 0.0, std)
}

func TestSeries_IgnoresSameDayAndLater(t *testing.T) {
	s := NewSeries(3)
	require.NoError(t, s.Append(day0, 5))
	require.NoError(t, s.Append(day0.AddDate(0, 0, 1), 100))

	assert.Equal(t, 5.0, s.RunningMean(day0.AddDate(0, 0, 1)))
	mean, _ := s.Rolling(day0.AddDate(0, 0, 1), 7)
	assert.Equal(t, 5.0, mean)
}
