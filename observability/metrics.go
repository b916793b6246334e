// Package observability exposes operational metrics for the escrow
// core. MetricsEmitter sits in the event path and counts lifecycle
// transitions without altering delivery.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"bookadot/core/events"
)

// Metrics holds the lifecycle counters registered with a prometheus
// registerer.
type Metrics struct {
	PropertiesDeployed prometheus.Counter
	BookingsCreated    prometheus.Counter
	GuestCancellations prometheus.Counter
	HostCancellations  prometheus.Counter
	Payouts            prometheus.Counter
}

// NewMetrics registers the escrow counters. Pass
// prometheus.DefaultRegisterer outside tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PropertiesDeployed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookadot", Name: "properties_deployed_total",
			Help: "Number of property escrow instances deployed.",
		}),
		BookingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookadot", Name: "bookings_created_total",
			Help: "Number of bookings admitted into escrow.",
		}),
		GuestCancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookadot", Name: "bookings_cancelled_by_guest_total",
			Help: "Number of guest cancellations.",
		}),
		HostCancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookadot", Name: "bookings_cancelled_by_host_total",
			Help: "Number of host cancellations.",
		}),
		Payouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookadot", Name: "payouts_total",
			Help: "Number of payout tranches released.",
		}),
	}
	reg.MustRegister(m.PropertiesDeployed, m.BookingsCreated, m.GuestCancellations, m.HostCancellations, m.Payouts)
	return m
}

// MetricsEmitter counts events by type and forwards them to the next
// emitter in the chain.
type MetricsEmitter struct {
	metrics *Metrics
	next    events.Emitter
}

func NewMetricsEmitter(metrics *Metrics, next events.Emitter) *MetricsEmitter {
	if next == nil {
		next = events.NoopEmitter{}
	}
	return &MetricsEmitter{metrics: metrics, next: next}
}

func (e *MetricsEmitter) Emit(evt events.Event) {
	switch evt.EventType() {
	case events.TypePropertyCreated:
		if created, ok := evt.(events.PropertyCreated); ok {
			e.metrics.PropertiesDeployed.Add(float64(len(created.IDs)))
		} else {
			e.metrics.PropertiesDeployed.Inc()
		}
	case events.TypeBookingCreated:
		e.metrics.BookingsCreated.Inc()
	case events.TypeBookingCancelledByGuest:
		e.metrics.GuestCancellations.Inc()
	case events.TypeBookingCancelledByHost:
		e.metrics.HostCancellations.Inc()
	case events.TypeBookingPayout:
		e.metrics.Payouts.Inc()
	}
	e.next.Emit(evt)
}
