// Package metrics exposes the bot's Prometheus counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	webhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftbot_webhook_events_total",
			Help: "Webhook deliveries by envelope kind and outcome",
		},
		[]string{"kind", "result"},
	)

	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftbot_commands_total",
			Help: "Chat commands handled",
		},
		[]string{"command"},
	)

	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftbot_actions_total",
			Help: "Button clicks handled",
		},
		[]string{"action", "result"},
	)

	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftbot_messages_total",
			Help: "Outbound messages by result",
		},
		[]string{"result"},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shiftbot_send_duration_seconds",
			Help:    "Outbound send latency including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	remindersFiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shiftbot_reminders_fired_total",
			Help: "Reminders claimed by the ticker",
		},
	)

	rotationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shiftbot_rotations_total",
			Help: "Roster rotations performed",
		},
	)
)

func RecordWebhook(kind, result string) {
	webhookEventsTotal.WithLabelValues(kind, result).Inc()
}

func RecordCommand(command string) {
	commandsTotal.WithLabelValues(command).Inc()
}

func RecordAction(action, result string) {
	actionsTotal.WithLabelValues(action, result).Inc()
}

// RecordMessage counts one outbound message; ok=false counts a failed send.
func RecordMessage(ok bool, d time.Duration) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	messagesTotal.WithLabelValues(result).Inc()
	sendDuration.Observe(d.Seconds())
}

func RecordRemindersFired(n int) {
	remindersFiredTotal.Add(float64(n))
}

func RecordRotation() {
	rotationsTotal.Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
