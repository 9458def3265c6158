// Package telemetry holds the Prometheus metrics and OpenTelemetry tracing setup.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uploadbot_turns_total",
		Help: "Conversation turns handled, by event kind and outcome.",
	}, []string{"kind", "outcome"})

	UploadsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploadbot_uploads_started_total",
		Help: "Upload pipeline runs started.",
	})
	UploadsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploadbot_uploads_succeeded_total",
		Help: "Uploads published successfully.",
	})
	// UploadsFailed is labelled by the stage that failed: record, download, publish or panic.
	UploadsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uploadbot_uploads_failed_total",
		Help: "Uploads that ended failed, by stage.",
	}, []string{"stage"})

	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "uploadbot_download_duration_seconds",
		Help:    "Time spent downloading media from the chat transport.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
	PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "uploadbot_publish_duration_seconds",
		Help:    "Time spent publishing to the hosting platform.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uploadbot_queue_depth",
		Help: "Upload jobs waiting for a worker.",
	})
	StaleUploadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploadbot_stale_uploads_failed_total",
		Help: "Pending upload records failed by housekeeping.",
	})
)

// Since observes the time elapsed from start.
func Since(obs prometheus.Observer, start time.Time) time.Duration {
	d := time.Since(start)
	obs.Observe(d.Seconds())
	return d
}
