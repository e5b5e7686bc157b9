package util

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

const epsilon = 0.001

func TestOnlineStats(t *testing.T) {
	s := NewOnlineStats()

	check := func() {
		assert.InDelta(t, 2.5, s.Result().Avg, epsilon)
		assert.InDelta(t, 1.0, s.Result().Min, epsilon)
		assert.InDelta(t, 4.0, s.Result().Max, epsilon)
		assert.InDelta(t, 1.29, s.Result().StdDev, 0.1)
		assert.Equal(t, 4, s.Len())
	}

	s.Add(1.0, 2.0, 3.0, 4.0)
	check()

	s.Reset()
	assert.Equal(t, 0, s.Len())

	s.Add(1.0, 2.0, 3.0, 4.0)
	check()
}

func TestOnlineStatsMatchesTwoPass(t *testing.T) {
	s := NewOnlineStats()

	xs := make([]float64, 100)
	for i := range xs {
		xs[i] = rand.Float64() * 1000
		s.Add(xs[i])
	}

	var (
		sum float64
		min = math.MaxFloat64
		max = -math.MaxFloat64
	)
	for _, x := range xs {
		sum += x
		min = math.Min(min, x)
		max = math.Max(max, x)
	}
	avg := sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		sq += (x - avg) * (x - avg)
	}
	stddev := math.Sqrt(sq / float64(len(xs)-1))

	assert.InDelta(t, avg, s.Result().Avg, epsilon)
	assert.InDelta(t, min, s.Result().Min, epsilon)
	assert.InDelta(t, max, s.Result().Max, epsilon)
	assert.InDelta(t, stddev, s.Result().StdDev, epsilon)
}
