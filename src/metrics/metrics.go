// Package metrics exposes Prometheus collectors for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voicebridge"

// Drop reasons for FramesDropped.
const (
	DropReasonSmallChunk     = "small_chunk"
	DropReasonBotNotReady    = "bot_not_ready"
	DropReasonTelephonyWrite = "telephony_write"
)

// Relay directions for FramesForwarded.
const (
	DirectionToBot       = "to_bot"
	DirectionToTelephony = "to_telephony"
)

var (
	// SessionsActive tracks the number of calls currently bridged.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of currently active bridge sessions",
	})

	// SessionsTotal counts every accepted AudioSocket connection.
	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Total number of AudioSocket connections accepted",
	})

	// FramesForwarded counts relayed audio frames per direction.
	FramesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_forwarded_total",
		Help:      "Total number of audio frames relayed, by direction",
	}, []string{"direction"})

	// FramesDropped counts frames discarded instead of relayed.
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Total number of audio frames dropped, by reason",
	}, []string{"reason"})

	// WebhookFailures counts failed session-initiation webhook calls.
	WebhookFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_failures_total",
		Help:      "Total number of failed voicebot session-initiation calls",
	})

	// NotificationFailures counts failed status/hangup callback posts.
	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Total number of failed status or hangup notifications",
	})
)
