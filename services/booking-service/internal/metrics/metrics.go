package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics counts lifecycle transitions and payment outcomes.
type BookingMetrics struct {
	transitions   *prometheus.CounterVec
	verifications *prometheus.CounterVec
	orders        *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	gatewayCalls  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medbook",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Booking state transitions applied",
		}, []string{"transition"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medbook",
			Subsystem: "payments",
			Name:      "verifications_total",
			Help:      "Payment confirmation verification outcomes",
		}, []string{"result"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medbook",
			Subsystem: "payments",
			Name:      "orders_total",
			Help:      "Payment orders requested from the gateway",
		}, []string{"gateway", "status"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medbook",
			Subsystem: "payments",
			Name:      "webhook_events_total",
			Help:      "Gateway webhook deliveries by event type and outcome",
		}, []string{"event_type", "outcome"}),
		gatewayCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medbook",
			Subsystem: "payments",
			Name:      "gateway_call_seconds",
			Help:      "Latency of payment gateway calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gateway", "operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.verifications, m.orders, m.webhooks, m.gatewayCalls)
	return m
}

func (m *BookingMetrics) ObserveTransition(transition string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(transition).Inc()
}

// ObserveVerification records "verified", "rejected" or "error".
func (m *BookingMetrics) ObserveVerification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveOrder(gateway, status string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(gateway, status).Inc()
}

func (m *BookingMetrics) ObserveWebhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(eventType, outcome).Inc()
}

func (m *BookingMetrics) ObserveGatewayCall(gateway, operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(gateway, operation).Observe(d.Seconds())
}
