package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(provisioningTasks, provisioningQueueDropped)
}

var (
	provisioningTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_provisioning_tasks_total",
			Help: "Background tasks by kind and final result.",
		},
		[]string{"kind", "result"}, // result: ok, failed
	)

	provisioningQueueDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_provisioning_dropped_total",
			Help: "Tasks dropped because the queue was full or stopped.",
		},
		[]string{"kind"},
	)
)

func IncTask(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	provisioningTasks.WithLabelValues(norm(kind), result).Inc()
}

func IncTaskDropped(kind string) {
	provisioningQueueDropped.WithLabelValues(norm(kind)).Inc()
}
