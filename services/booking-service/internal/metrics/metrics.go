package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters/histograms for slot queries and booking writes.
// A nil *BookingMetrics is a no-op.
type BookingMetrics struct {
	bookingsTotal    *prometheus.CounterVec
	slotQueriesTotal *prometheus.CounterVec
	slotsReturned    prometheus.Histogram
	transitionsTotal *prometheus.CounterVec
	storeLatency     *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotbook",
			Subsystem: "booking",
			Name:      "bookings_total",
			Help:      "Booking attempts by kind (single, recurring) and outcome",
		}, []string{"kind", "outcome"}),
		slotQueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotbook",
			Subsystem: "availability",
			Name:      "slot_queries_total",
			Help:      "Slot generator queries by outcome",
		}, []string{"outcome"}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "slotbook",
			Subsystem: "availability",
			Name:      "slots_returned",
			Help:      "Number of slots returned per successful query",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotbook",
			Subsystem: "booking",
			Name:      "status_transitions_total",
			Help:      "Appointment status transitions",
		}, []string{"from", "to"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "slotbook",
			Subsystem: "store",
			Name:      "operation_seconds",
			Help:      "Latency of store operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.slotQueriesTotal, m.slotsReturned, m.transitionsTotal, m.storeLatency)
	return m
}

func (m *BookingMetrics) ObserveBooking(recurring bool, outcome string) {
	if m == nil {
		return
	}
	kind := "single"
	if recurring {
		kind = "recurring"
	}
	m.bookingsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *BookingMetrics) ObserveSlotQuery(outcome string, slots int) {
	if m == nil {
		return
	}
	m.slotQueriesTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.slotsReturned.Observe(float64(slots))
	}
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveStore records how long op took since start.
func (m *BookingMetrics) ObserveStore(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.storeLatency.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}
