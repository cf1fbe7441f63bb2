// Package metrics holds the prometheus collectors exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pushes counts remote pushes by collection key and result.
	Pushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "club",
		Name:      "remote_pushes_total",
		Help:      "Pushes to the remote store by key and result.",
	}, []string{"key", "result"})

	// Snapshots counts remote snapshots applied to the local cache.
	Snapshots = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "club",
		Name:      "remote_snapshots_total",
		Help:      "Remote snapshots applied to the local cache.",
	})

	// Imports counts bundle imports by result.
	Imports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "club",
		Name:      "imports_total",
		Help:      "Bundle imports by result.",
	}, []string{"result"})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "club",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})

	// StreamClients tracks connected snapshot stream clients.
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "club",
		Name:      "stream_clients",
		Help:      "Connected snapshot stream clients.",
	})
)

// Result label values.
const (
	OK     = "ok"
	Failed = "failed"
)
