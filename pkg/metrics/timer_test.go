package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func histogramSnapshot(t *testing.T, h prometheus.Histogram) (uint64, float64) {
	t.Helper()
	var m dto.Metric
	require.NoError(t, h.(prometheus.Metric).Write(&m))
	return m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum()
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	assert.GreaterOrEqual(t, timer.Duration(), 10*time.Millisecond)
}

func TestTimerObserveDuration(t *testing.T) {
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_observe_duration_seconds",
		Help:    "test histogram",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration(hist)

	count, sum := histogramSnapshot(t, hist)
	assert.Equal(t, uint64(1), count)
	assert.GreaterOrEqual(t, sum, 0.005)
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_observe_duration_vec_seconds",
		Help:    "test histogram vec",
		Buckets: prometheus.DefBuckets,
	}, []string{"surface"})

	timer := NewTimer()
	timer.ObserveDurationVec(vec, "leader")

	hist, err := vec.GetMetricWithLabelValues("leader")
	require.NoError(t, err)
	count, _ := histogramSnapshot(t, hist.(prometheus.Histogram))
	assert.Equal(t, uint64(1), count)
}
