package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла обработка (включая ожидание аттестации)
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во запросов
	TotalRequests *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Время ожидания человеческого решения (широкие бакеты: минуты, не мс)
	AttestationWaitDuration *prometheus.HistogramVec

	// Сколько вызовов прямо сейчас висит в ожидании решения
	AttestationsPending prometheus.Gauge

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anser_request_duration_seconds",
			Help:    "Histogram of invoke latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"principal_id", "resource", "outcome"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "anser_requests_total",
			Help: "Total number of processed invocations.",
		}, []string{"principal_id", "resource"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "anser_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // типы: policy_deny, revoked, attestation_denied, attestation_timeout, execution

		AttestationWaitDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anser_attestation_wait_seconds",
			Help:    "Time calls spend parked waiting for a human decision.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"outcome"}),

		AttestationsPending: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "anser_attestations_pending",
			Help: "Number of invocations currently parked on a pending attestation.",
		}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "anser_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open).",
		}, []string{"connector_id"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "anser_audit_buffer_utilization",
			Help: "Current number of records in the audit buffer.",
		}),
	}
}
