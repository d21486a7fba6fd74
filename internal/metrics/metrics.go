// Package metrics содержит счётчики Prometheus для выдачи подписок,
// авторизации, отключения просроченных подписок и вызовов панели.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Методы Metrics безопасно вызывать на nil.
type Metrics struct {
	payloadRequests   *prometheus.CounterVec
	authAttempts      *prometheus.CounterVec
	reaperDeactivated prometheus.Counter
	reaperCycles      *prometheus.CounterVec
	panelCalls        *prometheus.CounterVec
}

func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		payloadRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payload_requests_total",
			Help: "Subscription payload requests by result",
		}, []string{"result"}),
		authAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Init-data authentication attempts by result",
		}, []string{"result"}),
		reaperDeactivated: factory.NewCounter(prometheus.CounterOpts{
			Name: "reaper_deactivated_total",
			Help: "Subscriptions deactivated by the expiry reaper",
		}),
		reaperCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reaper_cycles_total",
			Help: "Expiry reaper cycles by result",
		}, []string{"result"}),
		panelCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "panel_calls_total",
			Help: "VPN panel API calls by operation and result",
		}, []string{"op", "result"}),
	}
}

// ObservePayload учитывает один запрос /sub. result: ok, unavailable,
// no_servers, config_error, rate_limited или error.
func (m *Metrics) ObservePayload(result string) {
	if m == nil {
		return
	}
	m.payloadRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveAuth(result string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveReaperCycle(deactivated int, err error) {
	if m == nil {
		return
	}
	m.reaperCycles.WithLabelValues(resultOf(err)).Inc()
	m.reaperDeactivated.Add(float64(deactivated))
}

func (m *Metrics) ObservePanelCall(op string, err error) {
	if m == nil {
		return
	}
	m.panelCalls.WithLabelValues(op, resultOf(err)).Inc()
}

func resultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
