package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters and histograms for the booking flows. A
// nil *BookingMetrics is valid and records nothing.
type BookingMetrics struct {
	bookingsTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	syncTotal        *prometheus.CounterVec
	resyncItems      *prometheus.CounterVec
	slotLatency      prometheus.Histogram
	slotCache        *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptbook",
			Subsystem: "booking",
			Name:      "requests_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptbook",
			Subsystem: "booking",
			Name:      "status_transitions_total",
			Help:      "Committed appointment status transitions",
		}, []string{"from", "to"}),
		syncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptbook",
			Subsystem: "calendar",
			Name:      "sync_total",
			Help:      "Calendar sync operations by op and outcome",
		}, []string{"op", "outcome"}),
		resyncItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptbook",
			Subsystem: "calendar",
			Name:      "resync_items_total",
			Help:      "Appointments visited by bulk resync",
		}, []string{"outcome"}),
		slotLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "apptbook",
			Subsystem: "slots",
			Name:      "compute_seconds",
			Help:      "Latency of slot requests including storage reads",
			Buckets:   prometheus.DefBuckets,
		}),
		slotCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptbook",
			Subsystem: "slots",
			Name:      "cache_total",
			Help:      "Slot cache lookups by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.transitionsTotal, m.syncTotal, m.resyncItems, m.slotLatency, m.slotCache)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *BookingMetrics) ObserveSync(op, outcome string) {
	if m == nil {
		return
	}
	m.syncTotal.WithLabelValues(op, outcome).Inc()
}

func (m *BookingMetrics) ObserveResyncItem(outcome string) {
	if m == nil {
		return
	}
	m.resyncItems.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveSlotLatency(seconds float64) {
	if m == nil {
		return
	}
	m.slotLatency.Observe(seconds)
}

func (m *BookingMetrics) ObserveSlotCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.slotCache.WithLabelValues(result).Inc()
}
