// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/schema"
)

// fanout is the shared subscriber registry for bindings. It owns the
// inbound message path: raw payloads are parsed once, malformed ones
// are dropped and logged, unknown envelope types are skipped, and
// valid envelopes are dispatched to every subscriber in arrival order.
//
// Dispatch is serialized by dispatchMu, so each subscriber observes
// envelopes in the order they arrived even when the underlying
// transport delivers from multiple goroutines during reconnects.
type fanout struct {
	logger *slog.Logger

	mu           sync.Mutex
	nextID       uint64
	envelopeSubs map[uint64]func(schema.Envelope)
	rosterSubs   map[uint64]func([]ref.ParticipantID)

	dispatchMu sync.Mutex
}

func newFanout(logger *slog.Logger) *fanout {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &fanout{
		logger:       logger,
		envelopeSubs: make(map[uint64]func(schema.Envelope)),
		rosterSubs:   make(map[uint64]func([]ref.ParticipantID)),
	}
}

func (f *fanout) subscribe(fn func(schema.Envelope)) (cancel func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.envelopeSubs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.envelopeSubs, id)
	}
}

func (f *fanout) onRoster(fn func([]ref.ParticipantID)) (cancel func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.rosterSubs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.rosterSubs, id)
	}
}

// deliverRaw parses one inbound payload and dispatches it. Parse
// failures are isolated per message: the payload is dropped, logged,
// and the next message proceeds normally.
func (f *fanout) deliverRaw(raw []byte) {
	envelope, err := schema.ParseEnvelope(raw)
	if err != nil {
		if errors.Is(err, schema.ErrUnknownType) {
			f.logger.Debug("skipping envelope of unknown type", "type", envelope.Type)
			return
		}
		f.logger.Warn("dropping malformed sync payload", "error", err, "bytes", len(raw))
		return
	}

	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()
	for _, fn := range f.snapshotEnvelopeSubs() {
		f.invoke(func() { fn(envelope) })
	}
}

// deliverRoster dispatches a roster snapshot to all roster listeners.
func (f *fanout) deliverRoster(roster []ref.ParticipantID) {
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()
	for _, fn := range f.snapshotRosterSubs() {
		f.invoke(func() { fn(roster) })
	}
}

func (f *fanout) snapshotEnvelopeSubs() []func(schema.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := make([]func(schema.Envelope), 0, len(f.envelopeSubs))
	for _, fn := range f.envelopeSubs {
		subs = append(subs, fn)
	}
	return subs
}

func (f *fanout) snapshotRosterSubs() []func([]ref.ParticipantID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := make([]func([]ref.ParticipantID), 0, len(f.rosterSubs))
	for _, fn := range f.rosterSubs {
		subs = append(subs, fn)
	}
	return subs
}

// invoke runs one subscriber callback, containing panics so a broken
// subscriber cannot take down the receive loop or starve its peers.
func (f *fanout) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("subscriber panicked", "panic", r)
		}
	}()
	fn()
}
