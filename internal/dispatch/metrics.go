package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "beacon"

var (
	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Total channel batch sends by outcome",
		},
		[]string{"channel_type", "status"},
	)

	notificationSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to complete a channel batch send",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel_type"},
	)

	dispatchedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dispatched_events_total",
			Help:      "Total page update events dispatched",
		},
		[]string{"kind"},
	)
)

func recordSend(channelType, status string) {
	notificationsSent.WithLabelValues(channelType, status).Inc()
}

func recordSendDuration(channelType string, d time.Duration) {
	notificationSendDuration.WithLabelValues(channelType).Observe(d.Seconds())
}

func recordDispatch(kind string) {
	dispatchedEvents.WithLabelValues(kind).Inc()
}
