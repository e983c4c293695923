// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/schema"
)

// Compile-time interface checks.
var (
	_ Publisher = (*MemoryHub)(nil)
	_ Binding   = (*MemoryBinding)(nil)
)

// MemoryHub is the in-process realtime channel: rooms are maps,
// publish is direct callback fan-out, and the roster is the set of
// connected bindings. It implements the same contracts as the WebRTC
// room server and replaces it wholesale in tests and single-process
// deployments.
type MemoryHub struct {
	logger *slog.Logger

	// RejectJoin, when non-nil, is consulted on every connect. A
	// non-nil return rejects the join, letting tests exercise the
	// ConnectionError path without a real authorization layer.
	RejectJoin func(scope ref.SpaceID, identity ref.ParticipantID) error

	mu    sync.Mutex
	rooms map[ref.SpaceID]map[*MemoryBinding]struct{}
}

// NewMemoryHub creates an empty in-process hub.
func NewMemoryHub(logger *slog.Logger) *MemoryHub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MemoryHub{
		logger: logger,
		rooms:  make(map[ref.SpaceID]map[*MemoryBinding]struct{}),
	}
}

// Binding creates a client binding attached to this hub, joining rooms
// as identity.
func (h *MemoryHub) Binding(identity ref.ParticipantID) *MemoryBinding {
	return &MemoryBinding{
		hub:      h,
		identity: identity,
		fanout:   newFanout(h.logger),
	}
}

// Publish fans payload out to every binding connected to scope's room.
// Payloads are delivered synchronously in publish order.
func (h *MemoryHub) Publish(scope ref.SpaceID, payload []byte) error {
	if scope.IsZero() {
		return fmt.Errorf("transport: publish to zero scope")
	}

	h.mu.Lock()
	members := make([]*MemoryBinding, 0, len(h.rooms[scope]))
	for binding := range h.rooms[scope] {
		members = append(members, binding)
	}
	h.mu.Unlock()

	for _, binding := range members {
		binding.fanout.deliverRaw(payload)
	}
	return nil
}

// Participants returns the roster of scope's room: the identities of
// all connected bindings, deduplicated.
func (h *MemoryHub) Participants(scope ref.SpaceID) []ref.ParticipantID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rosterLocked(scope)
}

func (h *MemoryHub) rosterLocked(scope ref.SpaceID) []ref.ParticipantID {
	seen := make(map[ref.ParticipantID]struct{})
	roster := make([]ref.ParticipantID, 0, len(h.rooms[scope]))
	for binding := range h.rooms[scope] {
		if _, dup := seen[binding.identity]; dup {
			continue
		}
		seen[binding.identity] = struct{}{}
		roster = append(roster, binding.identity)
	}
	return roster
}

// join adds the binding to scope's room and pushes the updated roster
// to every member, the joiner included.
func (h *MemoryHub) join(scope ref.SpaceID, binding *MemoryBinding) error {
	if h.RejectJoin != nil {
		if err := h.RejectJoin(scope, binding.identity); err != nil {
			return err
		}
	}

	h.mu.Lock()
	if h.rooms[scope] == nil {
		h.rooms[scope] = make(map[*MemoryBinding]struct{})
	}
	h.rooms[scope][binding] = struct{}{}
	members, roster := h.membersAndRosterLocked(scope)
	h.mu.Unlock()

	h.logger.Debug("participant joined room", "scope", scope, "identity", binding.identity)
	pushRoster(members, roster)
	return nil
}

// leave removes the binding from scope's room and pushes the updated
// roster to the remaining members.
func (h *MemoryHub) leave(scope ref.SpaceID, binding *MemoryBinding) {
	h.mu.Lock()
	delete(h.rooms[scope], binding)
	if len(h.rooms[scope]) == 0 {
		delete(h.rooms, scope)
	}
	members, roster := h.membersAndRosterLocked(scope)
	h.mu.Unlock()

	h.logger.Debug("participant left room", "scope", scope, "identity", binding.identity)
	pushRoster(members, roster)
}

func (h *MemoryHub) membersAndRosterLocked(scope ref.SpaceID) ([]*MemoryBinding, []ref.ParticipantID) {
	members := make([]*MemoryBinding, 0, len(h.rooms[scope]))
	for member := range h.rooms[scope] {
		members = append(members, member)
	}
	return members, h.rosterLocked(scope)
}

func pushRoster(members []*MemoryBinding, roster []ref.ParticipantID) {
	for _, member := range members {
		member.acceptRoster(roster)
	}
}

// MemoryBinding is the client side of a MemoryHub room. Create one
// with [MemoryHub.Binding].
type MemoryBinding struct {
	hub      *MemoryHub
	identity ref.ParticipantID
	fanout   *fanout

	mu     sync.Mutex
	scope  ref.SpaceID
	roster []ref.ParticipantID
}

// Connect joins the room for scope. See [Binding.Connect] for the
// idempotence and teardown contract.
func (b *MemoryBinding) Connect(_ context.Context, scope ref.SpaceID) error {
	if scope.IsZero() {
		return &ConnectionError{Scope: scope, Reason: "zero scope"}
	}

	b.mu.Lock()
	if b.scope == scope {
		b.mu.Unlock()
		return nil
	}
	previous := b.scope
	b.mu.Unlock()

	// Sequential teardown before the new join, so a binding is never
	// a member of two rooms at once.
	if !previous.IsZero() {
		b.Disconnect()
	}

	// Record the scope before joining: the hub pushes the first
	// roster snapshot during join, and acceptRoster discards pushes
	// for bindings that do not consider themselves connected.
	b.mu.Lock()
	b.scope = scope
	b.mu.Unlock()

	if err := b.hub.join(scope, b); err != nil {
		b.mu.Lock()
		b.scope = ref.SpaceID{}
		b.mu.Unlock()
		return &ConnectionError{Scope: scope, Reason: "join rejected", Err: err}
	}
	return nil
}

// Disconnect leaves the current room. Never fails.
func (b *MemoryBinding) Disconnect() {
	b.mu.Lock()
	scope := b.scope
	b.scope = ref.SpaceID{}
	b.roster = nil
	b.mu.Unlock()

	if !scope.IsZero() {
		b.hub.leave(scope, b)
	}
}

// Subscribe registers an envelope listener. See [Binding.Subscribe].
func (b *MemoryBinding) Subscribe(fn func(schema.Envelope)) (cancel func()) {
	return b.fanout.subscribe(fn)
}

// OnRoster registers a roster listener. See [Binding.OnRoster].
func (b *MemoryBinding) OnRoster(fn func([]ref.ParticipantID)) (cancel func()) {
	return b.fanout.onRoster(fn)
}

// Connected reports whether the binding is in a room.
func (b *MemoryBinding) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.scope.IsZero()
}

// Scope returns the connected room's scope, or the zero SpaceID.
func (b *MemoryBinding) Scope() ref.SpaceID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scope
}

// Participants returns the last roster pushed by the hub.
func (b *MemoryBinding) Participants() []ref.ParticipantID {
	b.mu.Lock()
	defer b.mu.Unlock()
	roster := make([]ref.ParticipantID, len(b.roster))
	copy(roster, b.roster)
	return roster
}

// acceptRoster records a roster snapshot and notifies listeners.
func (b *MemoryBinding) acceptRoster(roster []ref.ParticipantID) {
	b.mu.Lock()
	// A roster push can race a concurrent Disconnect; a disconnected
	// binding holds no roster.
	if b.scope.IsZero() {
		b.mu.Unlock()
		return
	}
	b.roster = roster
	b.mu.Unlock()

	b.fanout.deliverRoster(roster)
}
