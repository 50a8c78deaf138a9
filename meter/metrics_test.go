package meter

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsTrackRunCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(Config{Workers: 2, Prometheus: reg})
	require.NoError(t, err)
	require.NotNil(t, m.metrics)

	m.packets.Add(7)
	m.skipped.Add(2)
	m.emitted.Add(3)
	m.workers[0].flows.Store(5)

	assert.Equal(t, 7.0, testutil.ToFloat64(m.metrics.packets))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.metrics.skipped))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.metrics.emitted))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.metrics.active))
}

func TestMetricsDisabledWithoutRegisterer(t *testing.T) {
	m, err := New(Config{Workers: 1})
	require.NoError(t, err)
	assert.Nil(t, m.metrics)
}
