package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(paymentsInitiated, gatewayLatency, callbacksTotal)
}

var (
	paymentsInitiated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_payments_initiated_total",
			Help: "Charge initiations by outcome.",
		},
		[]string{"outcome"}, // ok, validation_error, gateway_error, error
	)

	gatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_gateway_request_seconds",
			Help:    "Latency of outbound payment gateway calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation", "success"},
	)

	callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_callbacks_total",
			Help: "Provider callbacks by reconciliation outcome.",
		},
		[]string{"status"},
	)
)

func IncPaymentInitiated(outcome string) {
	paymentsInitiated.WithLabelValues(norm(outcome)).Inc()
}

func ObserveGatewayCall(operation string, started time.Time, err error) {
	success := "true"
	if err != nil {
		success = "false"
	}
	gatewayLatency.WithLabelValues(norm(operation), success).Observe(time.Since(started).Seconds())
}

func IncCallback(status string) {
	callbacksTotal.WithLabelValues(norm(status)).Inc()
}
