package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consult_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	BookingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_booking_decisions_total",
			Help: "Booking proposals by outcome and reason code",
		},
		[]string{"outcome", "reason"},
	)

	BookingTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_booking_transitions_total",
			Help: "Booking state transitions",
		},
		[]string{"from", "to"},
	)

	EscrowOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_escrow_operations_total",
			Help: "Escrow operations against the rail by operation and result",
		},
		[]string{"operation", "result"},
	)

	SettledAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_settled_amount_minor_units_total",
			Help: "Settled amounts in minor currency units",
		},
		[]string{"kind"},
	)

	SettlementsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consult_settlements_total",
			Help: "Bookings settled",
		},
	)

	SweepActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_sweep_actions_total",
			Help: "Actions taken by the background sweep",
		},
		[]string{"action", "result"},
	)
)

func RecordHTTPRequest(method, route, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration)
}

func RecordBookingDecision(outcome, reason string) {
	BookingDecisionsTotal.WithLabelValues(outcome, reason).Inc()
}

func RecordTransition(from, to string) {
	BookingTransitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordEscrow(operation, result string) {
	EscrowOperationsTotal.WithLabelValues(operation, result).Inc()
}

func RecordSettlement(gross, fee, payout, refund int64) {
	SettlementsTotal.Inc()
	SettledAmountTotal.WithLabelValues("gross").Add(float64(gross))
	SettledAmountTotal.WithLabelValues("platform_fee").Add(float64(fee))
	SettledAmountTotal.WithLabelValues("provider_payout").Add(float64(payout))
	SettledAmountTotal.WithLabelValues("refund").Add(float64(refund))
}

func RecordSweep(action, result string) {
	SweepActionsTotal.WithLabelValues(action, result).Inc()
}
