// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sync service's Prometheus counters. Each service
// instance carries its own registry so tests can run several instances
// in one process.
type Metrics struct {
	registry *prometheus.Registry

	Upserts          prometheus.Counter
	Fetches          prometheus.Counter
	Lists            prometheus.Counter
	NotFound         prometheus.Counter
	BroadcastsOK     prometheus.Counter
	BroadcastsFailed prometheus.Counter
	TokensIssued     prometheus.Counter
	RoomJoins        prometheus.Counter
}

// NewMetrics creates the counter set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		Upserts: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_entity_upserts_total",
			Help: "Total entity writes accepted",
		}),
		Fetches: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_entity_fetches_total",
			Help: "Total single-entity fetches served",
		}),
		Lists: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_entity_lists_total",
			Help: "Total space listings served",
		}),
		NotFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_entity_not_found_total",
			Help: "Total fetches for entity IDs with no row",
		}),
		BroadcastsOK: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_broadcasts_ok_total",
			Help: "Total change envelopes published",
		}),
		BroadcastsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_broadcasts_failed_total",
			Help: "Total change envelopes that failed to publish",
		}),
		TokensIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_join_tokens_issued_total",
			Help: "Total room join tokens issued",
		}),
		RoomJoins: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_room_joins_total",
			Help: "Total successful room joins",
		}),
	}
}

// Handler serves the /metrics endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
