package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordSubmitted()
	m.RecordJob("ok", 10*time.Millisecond)
	m.RecordJob("failed", time.Second)
	m.RecordRound("improved")
	m.SetBestScore(48.08)
	m.RecordDBQuery("postgres", "insert_run", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsCompleted.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoundsTotal.WithLabelValues("improved")))
	assert.Equal(t, 48.08, testutil.ToFloat64(m.BestScore))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DBQueryErrors.WithLabelValues("postgres", "insert_run")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSubmitted()
		m.RecordJob("ok", time.Second)
		m.RecordPollWindowExpired()
		m.RecordRound("skipped")
		m.RecordVariable("IMPROVED")
		m.SetBestScore(1)
		m.RecordPromotion()
		m.SetBreakerOpen(true)
		m.RecordSearchRun("COMPLETED", time.Second)
		m.RecordDBQuery("clickhouse", "insert", time.Second, nil)
	})
}
