package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the control dispatcher, the transfer workers, and
// the session tables. Registered on the default registry and served by the
// optional metrics listener.
var (
	metricFramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftsync",
		Subsystem: "control",
		Name:      "frames_received_total",
		Help:      "Control frames received, by verb.",
	}, []string{"verb"})

	metricRepliesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftsync",
		Subsystem: "control",
		Name:      "replies_sent_total",
		Help:      "Reply frames sent, by leading reply token.",
	}, []string{"reply"})

	metricSyncRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driftsync",
		Subsystem: "control",
		Name:      "sync_lock_rejections_total",
		Help:      "Frames rejected because the global sync lock was held.",
	})

	metricBytesUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driftsync",
		Subsystem: "transfer",
		Name:      "upload_bytes_total",
		Help:      "Decoded bytes written by the upload receiver.",
	})

	metricBytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driftsync",
		Subsystem: "transfer",
		Name:      "download_bytes_total",
		Help:      "File bytes served by download workers, pre-encoding.",
	})

	metricActiveDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "driftsync",
		Subsystem: "transfer",
		Name:      "active_downloads",
		Help:      "Download workers currently serving a data port.",
	})

	metricActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "driftsync",
		Subsystem: "session",
		Name:      "active",
		Help:      "Active sessions by kind (upload, bulk, sync).",
	}, []string{"kind"})

	metricSessionsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftsync",
		Subsystem: "session",
		Name:      "expired_total",
		Help:      "Sessions reaped by the janitor, by kind.",
	}, []string{"kind"})

	metricSyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftsync",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Completed SYNC_FINISH processings, by outcome.",
	}, []string{"outcome"})

	metricSyncDeletions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driftsync",
		Subsystem: "sync",
		Name:      "deletions_total",
		Help:      "Filesystem entries removed during sync convergence.",
	})
)
