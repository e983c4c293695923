// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"log/slog"
	"time"

	"github.com/loomchat/loom/schema"
	"github.com/loomchat/loom/transport"
)

// Broadcaster announces entity changes to the entity's room. Delivery
// is best effort: the durable write has already committed by the time
// Announce runs, and a failed broadcast must never surface to the
// writer. Clients that miss an envelope reconverge on their next
// catch-up fetch.
type Broadcaster struct {
	publisher transport.Publisher
	logger    *slog.Logger
	metrics   *Metrics
}

// NewBroadcaster creates a Broadcaster publishing through publisher.
// metrics may be nil.
func NewBroadcaster(publisher transport.Publisher, logger *slog.Logger, metrics *Metrics) *Broadcaster {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Broadcaster{publisher: publisher, logger: logger, metrics: metrics}
}

// Announce publishes the change envelope for entity to its space's
// room. Failures are logged and counted, never returned.
func (b *Broadcaster) Announce(entity schema.Entity, created bool, emittedAt time.Time) {
	envelope := schema.NewEnvelope(entity, created, emittedAt)
	payload, err := envelope.Encode()
	if err != nil {
		b.logger.Error("encoding change envelope",
			"entity", entity.ID,
			"scope", entity.Space,
			"error", err,
		)
		b.countBroadcast(false)
		return
	}

	if err := b.publisher.Publish(entity.Space, payload); err != nil {
		b.logger.Warn("broadcasting change envelope",
			"entity", entity.ID,
			"scope", entity.Space,
			"type", envelope.Type,
			"error", err,
		)
		b.countBroadcast(false)
		return
	}
	b.countBroadcast(true)
}

func (b *Broadcaster) countBroadcast(ok bool) {
	if b.metrics == nil {
		return
	}
	if ok {
		b.metrics.BroadcastsOK.Inc()
	} else {
		b.metrics.BroadcastsFailed.Inc()
	}
}
