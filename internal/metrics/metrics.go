// Package metrics exposes prometheus collectors for authentication outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OutcomeSuccess labels operations that completed without an error.
const OutcomeSuccess = "success"

var (
	authOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Total number of authentication operations by outcome code",
		},
		[]string{"operation", "outcome"},
	)

	authDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auth_operation_duration_seconds",
			Help:    "Duration of authentication operations",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2},
		},
		[]string{"operation"},
	)

	otpDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_otp_deliveries_total",
			Help: "OTP notification attempts by delivery status",
		},
		[]string{"status"},
	)
)

// ObserveOperation records one finished operation. outcome is OutcomeSuccess or an error code.
func ObserveOperation(operation, outcome string, started time.Time) {
	authOperations.WithLabelValues(operation, outcome).Inc()
	authDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// ObserveOTPDelivery records whether the notifier accepted an OTP.
func ObserveOTPDelivery(delivered bool) {
	status := "delivered"
	if !delivered {
		status = "failed"
	}
	otpDeliveries.WithLabelValues(status).Inc()
}
