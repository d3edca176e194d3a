package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var _ Gateway = (*gatewayMetrics)(nil)

type gatewayMetrics struct {
	calls        *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
	fastFails    prometheus.Counter
}

func newGatewayMetrics(registry *promRegistry) *gatewayMetrics {
	calls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_calls_total",
			Help: "Total number of payment gateway calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Payment gateway call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"operation", "outcome"},
	)

	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Total number of gateway call retries after transient failures",
		},
		[]string{"operation"},
	)

	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_breaker_state",
			Help: "Circuit breaker state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	fastFails := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_breaker_fast_fails_total",
			Help: "Total number of calls rejected by the open circuit breaker",
		},
	)

	registry.registry.MustRegister(calls, duration, retries, breakerState, fastFails)

	return &gatewayMetrics{
		calls:        calls,
		duration:     duration,
		retries:      retries,
		breakerState: breakerState,
		fastFails:    fastFails,
	}
}

func (m *gatewayMetrics) Call(operation, outcome string, duration time.Duration) {
	m.calls.WithLabelValues(operation, outcome).Add(1)
	m.duration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

func (m *gatewayMetrics) Retry(operation string) {
	m.retries.WithLabelValues(operation).Add(1)
}

func (m *gatewayMetrics) BreakerState(state string) {
	for _, s := range []string{"closed", "open", "half_open"} {
		value := 0.0
		if s == state {
			value = 1.0
		}
		m.breakerState.WithLabelValues(s).Set(value)
	}
}

func (m *gatewayMetrics) BreakerFastFail() {
	m.fastFails.Add(1)
}
