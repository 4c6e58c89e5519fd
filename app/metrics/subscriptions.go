package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(subscriptionChanges, subscriptionsExpired)
}

var (
	subscriptionChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_subscription_changes_total",
			Help: "Subscription mutations applied by the activation engine.",
		},
		[]string{"action"},
	)

	subscriptionsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_subscriptions_expired_total",
			Help: "Subscriptions deactivated by the expiration sweep.",
		},
	)
)

func IncSubscriptionChange(action string) {
	subscriptionChanges.WithLabelValues(norm(action)).Inc()
}

func AddSubscriptionsExpired(n int) {
	if n > 0 {
		subscriptionsExpired.Add(float64(n))
	}
}
