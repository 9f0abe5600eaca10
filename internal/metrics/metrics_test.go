package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun("male", OutcomeFail, 300*time.Millisecond)
	m.ObserveRun("", OutcomeError, time.Millisecond)
	m.ObserveClassifier("HWvWDge3a", 20*time.Millisecond, nil)
	m.ObserveClassifier("HWvWDge3a", 20*time.Millisecond, errors.New("unavailable"))
	m.ObserveFeature("male", "tie", false)
	m.ObserveFailureRecord("male")
	m.ObserveSuperseded()
	m.ObserveSuperseded()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("male", OutcomeFail)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("unknown", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifierCallsTotal.WithLabelValues("HWvWDge3a", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifierCallsTotal.WithLabelValues("HWvWDge3a", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeatureResultsTotal.WithLabelValues("male", "tie", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailureRecordsTotal.WithLabelValues("male")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SupersededRunsTotal))

	count, err := testutil.GatherAndCount(reg, "dresscheck_run_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun("female", OutcomePass, time.Second)
		m.ObserveClassifier("gender", time.Second, nil)
		m.ObserveFeature("female", "pin", true)
		m.ObserveFailureRecord("female")
		m.ObserveSuperseded()
	})
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
