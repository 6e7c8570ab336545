package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordOperationCountsErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics("test", reg)
	require.NoError(t, err)

	m.RecordOperation("create", 5*time.Millisecond, nil)
	m.RecordOperation("create", 5*time.Millisecond, errors.New("disk full"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationErrors.WithLabelValues("create")))
}

func TestMetricsRecordEvolutionByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics("test", reg)
	require.NoError(t, err)

	m.RecordEvolution("success")
	m.RecordEvolution("success")
	m.RecordEvolution("model_rejected")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.evolutions.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evolutions.WithLabelValues("model_rejected")))
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordOperation("get", time.Millisecond, nil)
	m.RecordSnapshot(10, 1)
	m.RecordEvolution("success")
}

func TestParseLevel(t *testing.T) {
	_, err := ParseLevel("verbose")
	assert.Error(t, err)

	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, "WARN", lvl.String())
}
