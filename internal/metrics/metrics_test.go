package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObservePayload("ok")
	m.ObservePayload("ok")
	m.ObservePayload("unavailable")
	m.ObserveAuth("invalid")
	m.ObserveReaperCycle(3, nil)
	m.ObserveReaperCycle(0, errors.New("db down"))
	m.ObservePanelCall("disable", nil)
	m.ObservePanelCall("disable", errors.New("timeout"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.payloadRequests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.payloadRequests.WithLabelValues("unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authAttempts.WithLabelValues("invalid")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reaperDeactivated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reaperCycles.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reaperCycles.WithLabelValues(ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.panelCalls.WithLabelValues("disable", ResultError)))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePayload("ok")
		m.ObserveAuth("ok")
		m.ObserveReaperCycle(1, nil)
		m.ObservePanelCall("enable", nil)
	})
}
