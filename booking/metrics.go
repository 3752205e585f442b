package booking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// METRICS
// =============================================================================

// ReservationsCreated counts committed reservations.
var ReservationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "citizenspace",
	Subsystem: "booking",
	Name:      "reservations_created_total",
	Help:      "Total reservations committed, by resource category and payment method.",
}, []string{"category", "payment_method"})

// ReservationsCancelled counts cancellations by refund outcome.
var ReservationsCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "citizenspace",
	Subsystem: "booking",
	Name:      "reservations_cancelled_total",
	Help:      "Total reservations cancelled, by refund outcome (full or none).",
}, []string{"refund"})

// CommitConflicts counts reservations rejected by the commit-time overlap check.
var CommitConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "citizenspace",
	Subsystem: "booking",
	Name:      "commit_conflicts_total",
	Help:      "Total reservation commits rejected because the window was taken.",
})

// Settlements counts checkouts by settlement kind.
var Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "citizenspace",
	Subsystem: "booking",
	Name:      "settlements_total",
	Help:      "Total checkouts, by settlement kind (none, refund, overage).",
}, []string{"kind"})

// CreditHoursDeducted sums credit hours taken from member balances.
var CreditHoursDeducted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "citizenspace",
	Subsystem: "credits",
	Name:      "hours_deducted_total",
	Help:      "Total credit hours deducted, by credit type.",
}, []string{"credit_type"})

// CreditHoursRefunded sums credit hours returned to member balances.
var CreditHoursRefunded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "citizenspace",
	Subsystem: "credits",
	Name:      "hours_refunded_total",
	Help:      "Total credit hours returned, by credit type.",
}, []string{"credit_type"})

// BookedHours records the booked duration of committed reservations.
var BookedHours = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "citizenspace",
	Subsystem: "booking",
	Name:      "booked_hours",
	Help:      "Booked duration in hours of committed reservations.",
	Buckets:   []float64{0.5, 1, 2, 3, 4, 6, 8, 12, 15},
}, []string{"category"})
