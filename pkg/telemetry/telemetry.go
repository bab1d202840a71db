// Package telemetry exposes the engine's Prometheus metrics. Collectors are
// registered on the default registry so embedders (and cmd/agentsim) can
// serve them with promhttp without extra wiring.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesTotal counts stream frames consumed, by step discriminator.
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadsync_frames_total",
		Help: "Stream frames consumed, labeled by step.",
	}, []string{"step"})

	// StreamsActive tracks currently open response streams (0 or 1 per
	// orchestrator by contract).
	StreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "threadsync_streams_active",
		Help: "Currently open response streams.",
	})

	// StreamsTotal counts opened streams by terminal outcome.
	StreamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadsync_streams_total",
		Help: "Response streams by terminal outcome (ok|error|canceled|truncated).",
	}, []string{"outcome"})

	// MigrationsTotal counts local->server thread identifier migrations.
	MigrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threadsync_thread_migrations_total",
		Help: "Completed local-to-server thread id migrations.",
	})

	// StoreErrors counts local store operation failures by op name.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadsync_store_errors_total",
		Help: "Local store operation failures, labeled by operation.",
	}, []string{"op"})

	// TokenRefreshes counts credential refresh attempts by result.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadsync_token_refreshes_total",
		Help: "Credential refresh attempts by result (ok|noop|error).",
	}, []string{"result"})
)
