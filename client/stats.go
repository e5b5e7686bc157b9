package client

import (
	"math"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	histogramMin     = 1              // 1us
	histogramMax     = 60 * 1_000_000 // 60s
	histogramSigFigs = 3
)

// NewHistogram returns a histogram of latencies in microseconds.
func NewHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs)
}

// LatencyStats tracks the latencies of one client: the extremes over every
// request, and an average restricted to a window of request indices which
// leaves out the warm-up and the tail of the run.
type LatencyStats struct {
	minIndex int
	maxIndex int

	n   int
	min time.Duration
	max time.Duration

	windowSum   time.Duration
	windowCount int

	hist *hdrhistogram.Histogram
}

// NewLatencyStats averages the latencies of requests minIndex to maxIndex,
// both included, counting from zero.
func NewLatencyStats(minIndex, maxIndex int) *LatencyStats {
	return &LatencyStats{
		minIndex: minIndex,
		maxIndex: maxIndex,
		min:      time.Duration(math.MaxInt64),
		hist:     NewHistogram(),
	}
}

// Record adds the latency of the next request.
func (s *LatencyStats) Record(d time.Duration) {
	if d > s.max {
		s.max = d
	}
	if d < s.min {
		s.min = d
	}

	if s.n >= s.minIndex && s.n <= s.maxIndex {
		s.windowSum += d
		s.windowCount++
	}
	s.n++

	us := d.Microseconds()
	if us < histogramMin {
		us = histogramMin
	} else if us > histogramMax {
		us = histogramMax
	}
	_ = s.hist.RecordValue(us)
}

func (s *LatencyStats) Count() int {
	return s.n
}

func (s *LatencyStats) WindowCount() int {
	return s.windowCount
}

// Min returns zero when nothing was recorded.
func (s *LatencyStats) Min() time.Duration {
	if s.n == 0 {
		return 0
	}
	return s.min
}

func (s *LatencyStats) Max() time.Duration {
	return s.max
}

// Avg is the mean latency over the window, zero when no request fell in it.
func (s *LatencyStats) Avg() time.Duration {
	if s.windowCount == 0 {
		return 0
	}
	return s.windowSum / time.Duration(s.windowCount)
}

// Percentile returns the latency under which p percent of all requests
// completed, at microsecond resolution.
func (s *LatencyStats) Percentile(p float64) time.Duration {
	return time.Duration(s.hist.ValueAtPercentile(p)) * time.Microsecond
}

// Histogram returns the latencies of all requests in microseconds.
func (s *LatencyStats) Histogram() *hdrhistogram.Histogram {
	return s.hist
}
