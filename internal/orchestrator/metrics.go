package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

type Metrics struct {
	// Latency: сколько заняло исполнение действия
	ExecutionDuration *prometheus.HistogramVec

	// Traffic: превью и исполнения
	PreviewsTotal   *prometheus.CounterVec
	ExecutionsTotal *prometheus.CounterVec
	ApprovalsTotal  *prometheus.CounterVec

	// Errors: отказы по коду причины
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern: без регистратора метрики пишутся в локальный реестр
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ExecutionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "governor_execution_duration_seconds",
			Help:    "Histogram of action execution latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"action", "status"}),

		PreviewsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "governor_previews_total",
			Help: "Total number of generated previews.",
		}, []string{"action", "requires_approval"}),

		ExecutionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "governor_executions_total",
			Help: "Total number of dispatched actions.",
		}, []string{"action", "kind"}),

		ApprovalsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "governor_approval_decisions_total",
			Help: "Total number of approval decisions by status.",
		}, []string{"action", "status"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "governor_errors_total",
			Help: "Total number of failed actions by reason.",
		}, []string{"reason"}), // unauthorized, not_found, invalid_parameters, execution_failed, timeout, unknown_action

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "governor_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"capability"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "governor_audit_buffer_utilization",
			Help: "Current number of records waiting in the audit buffer.",
		}),
	}
}

// ObserveBreaker — хук для plugin.ProtectConfig.OnStateChange
func (m *Metrics) ObserveBreaker(name string, _, to gobreaker.State) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
}
