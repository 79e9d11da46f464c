package features

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayNumber(t time.Time) int64 {
	return Day(t).Unix() / 86400
}

// Series is an ordered date→demand series. Every statistic it answers for a date t
// only looks at observations strictly before t, so the same series serves both
// historical vectors and a rollout that appends predictions.
type Series struct {
	days   []int64
	dates  []time.Time
	values []float64
	prefix []float64
}

// NewSeries returns an empty series with room for n observations.
func NewSeries(n int) *Series {
	return &Series{
		days:   make([]int64, 0, n),
		dates:  make([]time.Time, 0, n),
		values: make([]float64, 0, n),
		prefix: append(make([]float64, 0, n+1), 0),
	}
}

// Append adds an observation. Dates must be strictly increasing.
func (s *Series) Append(date time.Time, v float64) error {
	d := dayNumber(date)
	if n := len(s.days); n > 0 && d <= s.days[n-1] {
		return fmt.Errorf("series date %s not after %s", Day(date).Format("2006-01-02"), s.dates[n-1].Format("2006-01-02"))
	}
	s.days = append(s.days, d)
	s.dates = append(s.dates, Day(date))
	s.values = append(s.values, v)
	s.prefix = append(s.prefix, s.prefix[len(s.prefix)-1]+v)
	return nil
}

// Len is the number of observations.
func (s *Series) Len() int { return len(s.values) }

// Last returns the date and value of the latest observation.
func (s *Series) Last() (time.Time, float64, bool) {
	if len(s.values) == 0 {
		return time.Time{}, 0, false
	}
	n := len(s.values) - 1
	return s.dates[n], s.values[n], true
}

// Values returns a copy of the observed values in date order.
func (s *Series) Values() []float64 {
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}

// before returns how many observations fall strictly before day d.
func (s *Series) before(d int64) int {
	return sort.Search(len(s.days), func(i int) bool { return s.days[i] >= d })
}

// RunningMean is the mean of all observations before t, or 0 when there are none.
func (s *Series) RunningMean(t time.Time) float64 {
	n := s.before(dayNumber(t))
	if n == 0 {
		return 0
	}
	return s.prefix[n] / float64(n)
}

// Lag returns the value observed k days before t, falling back to the running mean.
func (s *Series) Lag(t time.Time, k int) float64 {
	target := dayNumber(t) - int64(k)
	i := s.before(target)
	if i < len(s.days) && s.days[i] == target {
		return s.values[i]
	}
	return s.RunningMean(t)
}

// Rolling returns the mean and population std of observations in [t-w, t-1].
// A window with fewer than two points has std 0; an empty window falls back to the running mean.
func (s *Series) Rolling(t time.Time, w int) (mean, std float64) {
	d := dayNumber(t)
	lo := s.before(d - int64(w))
	hi := s.before(d)
	count := hi - lo
	if count == 0 {
		return s.RunningMean(t), 0
	}

	mean = (s.prefix[hi] - s.prefix[lo]) / float64(count)
	if count < 2 {
		return mean, 0
	}

	var ss float64
	for _, v := range s.values[lo:hi] {
		ss += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(ss / float64(count))
}
