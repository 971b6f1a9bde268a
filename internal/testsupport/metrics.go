package testsupport

import (
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// GetMetricValue returns the value of the first series of metricName whose
// labels include labelFilter. Histograms report their sample count. A
// missing series reads as zero.
func GetMetricValue(t *testing.T, metricName string, labelFilter map[string]string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err, "failed to gather metrics")

	// Gather returns families sorted by name.
	idx, found := slices.BinarySearchFunc(families, metricName, func(mf *dto.MetricFamily, name string) int {
		switch {
		case mf.GetName() < name:
			return -1
		case mf.GetName() > name:
			return 1
		}
		return 0
	})
	if !found {
		return 0
	}

	for _, m := range families[idx].GetMetric() {
		if !matchesLabels(m, labelFilter) {
			continue
		}
		switch {
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue()
		case m.GetHistogram() != nil:
			return float64(m.GetHistogram().GetSampleCount())
		}
	}
	return 0
}

func matchesLabels(m *dto.Metric, filter map[string]string) bool {
	for k, want := range filter {
		ok := slices.ContainsFunc(m.GetLabel(), func(p *dto.LabelPair) bool {
			return p.GetName() == k && p.GetValue() == want
		})
		if !ok {
			return false
		}
	}
	return true
}

// AssertMetricDelta runs fn and asserts the metric moved by exactly expectedDelta.
func AssertMetricDelta(t *testing.T, metricName string, labels map[string]string, expectedDelta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, metricName, labels)
	fn()
	after := GetMetricValue(t, metricName, labels)

	assert.Equal(t, expectedDelta, after-before, "metric %s%v delta mismatch", metricName, labels)
}

// AssertMetricDeltaAsync runs fn and waits for the metric to move by
// expectedDelta, for effects produced by background goroutines.
func AssertMetricDeltaAsync(t *testing.T, metricName string, labels map[string]string, expectedDelta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, metricName, labels)
	fn()

	require.Eventually(t, func() bool {
		return GetMetricValue(t, metricName, labels) == before+expectedDelta
	}, 2*time.Second, 20*time.Millisecond, "metric %s%v did not move by %.0f", metricName, labels, expectedDelta)
}

// AssertHistogramRecorded asserts that a histogram holds at least one sample.
func AssertHistogramRecorded(t *testing.T, metricName string, labels map[string]string) {
	t.Helper()

	count := GetMetricValue(t, metricName, labels)
	assert.Greater(t, count, 0.0, "histogram %s%v should have recorded samples", metricName, labels)
}
