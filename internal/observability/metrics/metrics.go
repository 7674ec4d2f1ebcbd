package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters for the booking and waitlist flows.
type BookingMetrics struct {
	bookingsTotal       *prometheus.CounterVec
	cancellationsTotal  *prometheus.CounterVec
	waitlistTransitions *prometheus.CounterVec
	claimsExpiredTotal  prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agendly",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		cancellationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agendly",
			Subsystem: "booking",
			Name:      "cancellations_total",
			Help:      "Appointment cancellations by actor",
		}, []string{"actor"}),
		waitlistTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agendly",
			Subsystem: "waitlist",
			Name:      "transitions_total",
			Help:      "Waitlist entry state transitions",
		}, []string{"to"}),
		claimsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agendly",
			Subsystem: "waitlist",
			Name:      "claims_expired_total",
			Help:      "Waitlist claims expired by the sweep worker",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.cancellationsTotal, m.waitlistTransitions, m.claimsExpiredTotal)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveCancellation(actor string) {
	if m == nil {
		return
	}
	m.cancellationsTotal.WithLabelValues(actor).Inc()
}

func (m *BookingMetrics) ObserveWaitlistTransition(to string) {
	if m == nil {
		return
	}
	m.waitlistTransitions.WithLabelValues(to).Inc()
}

func (m *BookingMetrics) AddClaimsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.claimsExpiredTotal.Add(float64(n))
}
