package flow

import "math"

// RunningStat accumulates min/max/mean/variance of a series using Welford's
// online algorithm. Naive sum of squares cancels catastrophically on long
// flows, so don't replace this with one.
type RunningStat struct {
	n    uint64
	mean float64
	m2   float64
	min  float64
	max  float64
}

// Push adds a sample.
func (s *RunningStat) Push(v float64) {
	s.n++
	if s.n == 1 {
		s.mean = v
		s.min = v
		s.max = v
		return
	}
	delta := v - s.mean
	s.mean += delta / float64(s.n)
	s.m2 += delta * (v - s.mean)
	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
}

// Count returns the number of samples.
func (s RunningStat) Count() uint64 { return s.n }

// Mean returns the arithmetic mean, zero without samples.
func (s RunningStat) Mean() float64 { return s.mean }

// Min returns the smallest sample, zero without samples.
func (s RunningStat) Min() float64 { return s.min }

// Max returns the largest sample, zero without samples.
func (s RunningStat) Max() float64 { return s.max }

// Variance returns the sample variance, zero with less than two samples.
func (s RunningStat) Variance() float64 {
	if s.n < 2 {
		return 0
	}
	return s.m2 / float64(s.n-1)
}

// Stddev returns the sample standard deviation.
func (s RunningStat) Stddev() float64 {
	return math.Sqrt(s.Variance())
}
