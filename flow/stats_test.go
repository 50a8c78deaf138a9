package flow_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/CN-TU/go-meter/flow"
)

func TestRunningStatEmpty(t *testing.T) {
	var s flow.RunningStat
	assert.Equal(t, uint64(0), s.Count())
	assert.Equal(t, 0.0, s.Mean())
	assert.Equal(t, 0.0, s.Variance())
	assert.Equal(t, 0.0, s.Stddev())
}

func TestRunningStatSingle(t *testing.T) {
	var s flow.RunningStat
	s.Push(42)
	assert.Equal(t, uint64(1), s.Count())
	assert.Equal(t, 42.0, s.Mean())
	assert.Equal(t, 42.0, s.Min())
	assert.Equal(t, 42.0, s.Max())
	assert.Equal(t, 0.0, s.Variance(), "sample variance undefined below two samples")
}

func TestRunningStatMatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	samples := make([]float64, 1000)
	var s flow.RunningStat
	for i := range samples {
		samples[i] = rng.Float64()*1500 + 40
		s.Push(samples[i])
	}

	var sum float64
	min, max := samples[0], samples[0]
	for _, v := range samples {
		sum += v
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	mean := sum / float64(len(samples))
	var sq float64
	for _, v := range samples {
		sq += (v - mean) * (v - mean)
	}
	variance := sq / float64(len(samples)-1)

	assert.Equal(t, uint64(len(samples)), s.Count())
	assert.InDelta(t, mean, s.Mean(), 1e-9)
	assert.InDelta(t, variance, s.Variance(), 1e-6)
	assert.InDelta(t, math.Sqrt(variance), s.Stddev(), 1e-6)
	assert.Equal(t, min, s.Min())
	assert.Equal(t, max, s.Max())
}

func TestRunningStatConstantSeries(t *testing.T) {
	var s flow.RunningStat
	for i := 0; i < 100; i++ {
		s.Push(1500)
	}
	assert.Equal(t, 1500.0, s.Mean())
	assert.Equal(t, 0.0, s.Variance())
}
