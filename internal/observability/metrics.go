package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	updatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statusboard",
		Subsystem: "engine",
		Name:      "updates_total",
		Help:      "Status updates processed, by outcome.",
	}, []string{"outcome"})
	subscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "statusboard",
		Subsystem: "notifier",
		Name:      "subscribers",
		Help:      "Change streams currently open.",
	})
	notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statusboard",
		Subsystem: "notifier",
		Name:      "notifications_total",
		Help:      "Change notifications sent, by sink.",
	}, []string{"sink"})
	probeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "statusboard",
		Subsystem: "notifier",
		Name:      "probe_errors_total",
		Help:      "Failed modification-time probes.",
	})
)

func init() {
	prometheus.MustRegister(updatesTotal, subscribersGauge, notificationsTotal, probeErrorsTotal)
}

// RecordUpdate counts one processed update.
func RecordUpdate(outcome string) {
	updatesTotal.WithLabelValues(outcome).Inc()
}

// SubscriberOpened and SubscriberClosed track open change streams.
func SubscriberOpened() { subscribersGauge.Inc() }
func SubscriberClosed() { subscribersGauge.Dec() }

// RecordNotification counts a change token delivered to sink (stream or webhook).
func RecordNotification(sink string) {
	notificationsTotal.WithLabelValues(sink).Inc()
}

func RecordProbeError() {
	probeErrorsTotal.Inc()
}

// UpdatesTotal exposes the counter for assertions.
func UpdatesTotal(outcome string) prometheus.Counter {
	return updatesTotal.WithLabelValues(outcome)
}

// Subscribers exposes the gauge for assertions.
func Subscribers() prometheus.Gauge {
	return subscribersGauge
}
