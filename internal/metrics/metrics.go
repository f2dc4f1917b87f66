// Package metrics собирает метрики Prometheus движка, клиента ключей и сверки.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vpn_provisioner"

// Metrics — набор метрик процесса. Методы безопасны для nil-получателя.
type Metrics struct {
	transitions   *prometheus.CounterVec
	upstream      *prometheus.HistogramVec
	sweepRecords  *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	httpRequests  *prometheus.CounterVec
}

// New создаёт метрики и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Subscription lifecycle transitions by result.",
		}, []string{"transition", "result"}),
		upstream: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Key server calls by server, operation and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server", "operation", "outcome"}),
		sweepRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_records_total",
			Help:      "Records processed by the reconciliation sweep by outcome.",
		}, []string{"outcome"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a full reconciliation sweep.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status.",
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.transitions, m.upstream, m.sweepRecords, m.sweepDuration, m.httpRequests)
	return m
}

// ObserveTransition считает переход подписки.
func (m *Metrics) ObserveTransition(transition, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(transition, result).Inc()
}

// ObserveUpstream записывает длительность вызова сервера ключей.
func (m *Metrics) ObserveUpstream(serverID, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(serverID, operation, outcome).Observe(elapsed.Seconds())
}

// ObserveSweep записывает итоги одного прохода сверки.
func (m *Metrics) ObserveSweep(outcomes map[string]int, elapsed time.Duration) {
	if m == nil {
		return
	}
	for outcome, n := range outcomes {
		m.sweepRecords.WithLabelValues(outcome).Add(float64(n))
	}
	m.sweepDuration.Observe(elapsed.Seconds())
}

// ObserveHTTP считает HTTP-запрос.
func (m *Metrics) ObserveHTTP(method, route, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}
