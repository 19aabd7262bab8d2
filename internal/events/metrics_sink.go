package events

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsSink exports gateway call counts and latencies to Prometheus.
type MetricsSink struct {
	gatewayCalls    *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	paymentsTotal   *prometheus.CounterVec
	paymentDuration prometheus.Histogram
	refundsTotal    prometheus.Counter
	refundDuration  prometheus.Histogram
}

// NewMetricsSink registers its collectors on reg. A nil reg uses the default registerer.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	ms := &MetricsSink{
		gatewayCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "multigateway_gateway_calls_total",
			Help: "Completed adapter calls by gateway, operation and status.",
		}, []string{"gateway_id", "gateway_type", "operation", "status"}),
		gatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "multigateway_gateway_call_duration_seconds",
			Help:    "Adapter call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"gateway_type", "operation"}),
		paymentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "multigateway_payments_total",
			Help: "Routed payments by final status.",
		}, []string{"status"}),
		paymentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "multigateway_payment_duration_seconds",
			Help:    "End-to-end routing time of a payment across all attempts.",
			Buckets: prometheus.DefBuckets,
		}),
		refundsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "multigateway_refunds_total",
			Help: "Completed refunds.",
		}),
		refundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "multigateway_refund_duration_seconds",
			Help:    "Refund routing time.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	return ms
}

func (m *MetricsSink) OnGatewayEvent(ev GatewayEvent) {
	if ev.Phase != PhaseResponse {
		return
	}
	m.gatewayCalls.WithLabelValues(strconv.FormatInt(ev.GatewayID, 10), ev.GatewayType, string(ev.Operation), string(ev.Status)).Inc()
	m.gatewayLatency.WithLabelValues(ev.GatewayType, string(ev.Operation)).Observe(float64(ev.DurationMs) / 1000)
}

func (m *MetricsSink) OnPaymentProcessed(_ string, status string, _ int64, ms int64) {
	m.paymentsTotal.WithLabelValues(status).Inc()
	m.paymentDuration.Observe(float64(ms) / 1000)
}

func (m *MetricsSink) OnPaymentRefunded(_ string, ms int64) {
	m.refundsTotal.Inc()
	m.refundDuration.Observe(float64(ms) / 1000)
}

// GatewayCalls exposes the call counter for assertions.
func (m *MetricsSink) GatewayCalls() *prometheus.CounterVec { return m.gatewayCalls }

// PaymentsTotal exposes the payment counter for assertions.
func (m *MetricsSink) PaymentsTotal() *prometheus.CounterVec { return m.paymentsTotal }

// RefundsTotal exposes the refund counter for assertions.
func (m *MetricsSink) RefundsTotal() prometheus.Counter { return m.refundsTotal }
