package reminders

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clinicpulse"

var (
	reminderState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "state",
			Help:      "Number of reminders by delivery state",
		},
		[]string{"state"},
	)

	remindersProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "processed_total",
			Help:      "Total reminders processed by the pipeline",
		},
		[]string{"type", "result"},
	)

	pushSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "sends_total",
			Help:      "Total push delivery attempts by result",
		},
		[]string{"result"},
	)

	pushSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver a push message to one subscription",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"result"},
	)

	batchFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "fetched_total",
			Help:      "Total reminders fetched as due (before dispatch attempt)",
		},
	)
)

func recordReminderProcessed(reminderType, result string) {
	remindersProcessed.WithLabelValues(reminderType, result).Inc()
}

func recordPushSend(result string, duration time.Duration) {
	pushSends.WithLabelValues(result).Inc()
	pushSendDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func recordBatchFetched(count int) {
	batchFetched.Add(float64(count))
}

// RecordReminderStats updates the per-state reminder gauge.
func RecordReminderStats(stats *ReminderStats) {
	reminderState.WithLabelValues("pending").Set(float64(stats.Pending))
	reminderState.WithLabelValues("sent").Set(float64(stats.Sent))
	reminderState.WithLabelValues("failed").Set(float64(stats.Failed))
}
