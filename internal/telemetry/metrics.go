/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "melodrift"

var (
	// SyncMessagesTotal counts protocol messages by direction (in, out, suppressed) and type.
	SyncMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "messages_total",
		Help:      "Listen Together protocol messages by direction and type.",
	}, []string{"direction", "type"})

	// DriftSeeksTotal counts forced seeks applied when a listener drifted past the dead-band.
	DriftSeeksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "drift_seeks_total",
		Help:      "Forced seeks on listeners whose position drifted past the threshold.",
	})

	// DriftSeconds observes the absolute local-vs-host position difference on each reconcile.
	DriftSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "drift_seconds",
		Help:      "Absolute position difference between listener and host on reconcile.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	// ReconnectAttemptsTotal counts reconnect attempts by outcome (success, failure, give_up).
	ReconnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "reconnect_attempts_total",
		Help:      "Room reconnect attempts by outcome.",
	}, []string{"outcome"})

	// ListenerCount is the last listener count reported for the active room.
	ListenerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "listener_count",
		Help:      "Listeners in the active room.",
	})

	// TrackStartsTotal counts playback start attempts by outcome (success, failure, timeout, stale).
	TrackStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "playback",
		Name:      "track_starts_total",
		Help:      "Playback start attempts by outcome.",
	}, []string{"outcome"})

	// TrackStartDuration observes the time from load to playing.
	TrackStartDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "playback",
		Name:      "track_start_duration_seconds",
		Help:      "Time taken for a track to start playing.",
		Buckets:   prometheus.DefBuckets,
	})

	// AutoSkipsTotal counts automatic skip-aheads by reason (failure, stall, error).
	AutoSkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "playback",
		Name:      "auto_skips_total",
		Help:      "Automatic skip-aheads by reason.",
	}, []string{"reason"})

	// QueueLength is the current number of queued tracks.
	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "playback",
		Name:      "queue_length",
		Help:      "Tracks waiting in the queue.",
	})

	// ResolverRequestsTotal counts stream URL lookups by outcome (hit, miss, error).
	ResolverRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "resolver",
		Name:      "requests_total",
		Help:      "Stream URL resolutions by outcome.",
	}, []string{"outcome"})

	// StoreQueryDuration observes persistent store operations by operation and table.
	StoreQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "query_duration_seconds",
		Help:      "Persistent store query duration.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"operation", "table"})

	// StoreErrorsTotal counts failed persistent store operations.
	StoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "errors_total",
		Help:      "Failed persistent store operations.",
	}, []string{"operation", "backend"})

	// StatusRequestsTotal and StatusRequestDuration cover the local status server.
	StatusRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "status",
		Name:      "requests_total",
		Help:      "Status server requests.",
	}, []string{"method", "endpoint", "status"})

	StatusRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "status",
		Name:      "request_duration_seconds",
		Help:      "Status server request duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
