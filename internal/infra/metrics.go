package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: длительность медиации целиком (проверки + инструмент)
	MediationDuration *prometheus.HistogramVec

	// Traffic: завершенные медиации по исходу (success, blocked, error, cancelled)
	MediationsTotal *prometheus.CounterVec

	// Blocks: на какой стадии конвейера остановлен вызов
	BlocksTotal *prometheus.CounterVec

	// PII: найденные сущности по направлению (input/output) и категории
	PIIDetections *prometheus.CounterVec

	// SIEM: результаты доставки по синкам (ok, failed, inert)
	SinkDeliveries *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	reg prometheus.Registerer
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		MediationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guard_mediation_duration_seconds",
			Help:    "Histogram of mediated tool call latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"tool", "outcome"}),

		MediationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guard_mediations_total",
			Help: "Total number of mediated tool calls by outcome.",
		}, []string{"outcome"}),

		BlocksTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guard_blocks_total",
			Help: "Total number of blocked calls by pipeline stage.",
		}, []string{"stage"}), // стадии: access_control, injection, content_policy

		PIIDetections: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guard_pii_detections_total",
			Help: "Total number of PII entities detected in tool inputs and outputs.",
		}, []string{"direction", "category"}),

		SinkDeliveries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guard_sink_deliveries_total",
			Help: "Security event deliveries by sink and result.",
		}, []string{"sink", "result"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "guard_circuit_breaker_state",
			Help: "Current state of the SIEM circuit breaker (0=closed, 1=open).",
		}, []string{"sink"}),

		reg: reg,
	}
}

// ObserveBuffer регистрирует заполненность буфера асинхронного синка (backpressure)
func (m *Metrics) ObserveBuffer(sink string, pending func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "guard_audit_buffer_utilization",
		Help:        "Current number of events waiting in an audit sink buffer.",
		ConstLabels: prometheus.Labels{"sink": sink},
	}, pending))
}
