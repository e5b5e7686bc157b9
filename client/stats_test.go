package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyStatsEmpty(t *testing.T) {
	s := NewLatencyStats(0, 10)

	assert.Equal(t, 0, s.Count())
	assert.Equal(t, time.Duration(0), s.Min())
	assert.Equal(t, time.Duration(0), s.Max())
	assert.Equal(t, time.Duration(0), s.Avg())
}

func TestLatencyStatsWindow(t *testing.T) {
	s := NewLatencyStats(2, 4)

	// Warm-up and tail samples are far off the steady state.
	samples := []time.Duration{
		100 * time.Millisecond,
		90 * time.Millisecond,
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		500 * time.Millisecond,
	}
	for _, d := range samples {
		s.Record(d)
	}

	assert.Equal(t, 6, s.Count())
	assert.Equal(t, 3, s.WindowCount())
	assert.Equal(t, 10*time.Millisecond, s.Min())
	assert.Equal(t, 500*time.Millisecond, s.Max())
	assert.Equal(t, 20*time.Millisecond, s.Avg())
}

func TestLatencyStatsWindowBeyondRun(t *testing.T) {
	s := NewLatencyStats(10, 50)
	s.Record(time.Millisecond)

	assert.Equal(t, 0, s.WindowCount())
	assert.Equal(t, time.Duration(0), s.Avg())
	assert.Equal(t, time.Millisecond, s.Min())
}

func TestLatencyStatsPercentiles(t *testing.T) {
	s := NewLatencyStats(0, 1000)
	for i := 1; i <= 100; i++ {
		s.Record(time.Duration(i) * time.Millisecond)
	}

	assert.InDelta(t, float64(50*time.Millisecond), float64(s.Percentile(50)), float64(time.Millisecond))
	assert.InDelta(t, float64(99*time.Millisecond), float64(s.Percentile(99)), float64(time.Millisecond))
	assert.Equal(t, int64(100), s.Histogram().TotalCount())
}

func TestConfigDerived(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 55, cfg.RequestCount())

	lo, hi := cfg.Window()
	assert.Equal(t, 10, lo)
	assert.Equal(t, 50, hi)

	cfg.Delay = 250 * time.Millisecond
	assert.Equal(t, 220, cfg.RequestCount())
	lo, hi = cfg.Window()
	assert.Equal(t, 40, lo)
	assert.Equal(t, 200, hi)

	cfg.Requests = 7
	assert.Equal(t, 7, cfg.RequestCount())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorContains(t, cfg.Validate(), "addr")

	cfg.Addr = "localhost:8080"
	assert.NoError(t, cfg.Validate())

	cfg.Delay = 0
	assert.ErrorContains(t, cfg.Validate(), "delay")

	cfg = DefaultConfig()
	cfg.Addr = "localhost:8080"
	cfg.WindowEnd = cfg.WindowStart - 1
	assert.ErrorContains(t, cfg.Validate(), "window")
}
