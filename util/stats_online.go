package util

import "math"

type Result struct {
	Min    float64
	Max    float64
	Avg    float64
	StdDev float64
}

func (r *Result) Reset() {
	r.Min = math.MaxFloat64
	r.Max = -math.MaxFloat64
	r.Avg = 0.0
	r.StdDev = 0.0
}

// OnlineStats gives you min/avg/max/stddev in O(1) time and space, using
// Welford's update for the variance.
type OnlineStats struct {
	res *Result

	n      int
	meanSq float64
}

func NewOnlineStats() *OnlineStats {
	res := &Result{}
	res.Reset()
	return &OnlineStats{res: res}
}

func (s *OnlineStats) Add(xs ...float64) {
	for _, x := range xs {
		s.res.Max = math.Max(s.res.Max, x)
		s.res.Min = math.Min(s.res.Min, x)

		s.n++
		delta := x - s.res.Avg
		s.res.Avg += delta / float64(s.n)
		s.meanSq += delta * (x - s.res.Avg)
	}

	if s.n >= 2 {
		s.res.StdDev = math.Sqrt(s.meanSq / float64(s.n-1))
	}
}

// Result is only meaningful once Len is positive.
func (s *OnlineStats) Result() *Result {
	return s.res
}

func (s *OnlineStats) Reset() {
	s.n = 0
	s.meanSq = 0
	s.res.Reset()
}

func (s *OnlineStats) Len() int {
	return s.n
}
