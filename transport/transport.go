// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"

	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/schema"
)

// Binding is the client side of a room-scoped realtime channel. A
// binding is connected to at most one scope at a time.
//
// Implementations are safe for concurrent use, but the sequential
// connect contract is the caller's to respect: Connect for a new scope
// tears down the previous connection before establishing the new one,
// never in parallel with it.
type Binding interface {
	// Connect joins the room for scope. Idempotent when already
	// connected to the same scope. When connected to a different
	// scope, the existing connection is torn down first,
	// sequentially, so no subscription dangles across rooms. A
	// rejected join (authorization denied, network failure) returns a
	// *ConnectionError; the binding does not retry on its own.
	Connect(ctx context.Context, scope ref.SpaceID) error

	// Disconnect tears down the current connection, if any. Best
	// effort: it never fails and is safe to call when not connected.
	Disconnect()

	// Subscribe registers a listener for envelopes arriving on the
	// connected room's sync topic. The returned function unregisters
	// it. Every subscriber sees all envelopes in arrival order;
	// ordering across subscribers is unspecified.
	Subscribe(fn func(schema.Envelope)) (cancel func())

	// OnRoster registers a listener for participant roster changes.
	// The listener receives the full roster on every join or leave.
	OnRoster(fn func([]ref.ParticipantID)) (cancel func())

	// Connected reports whether the binding currently holds a live
	// room connection.
	Connected() bool

	// Scope returns the scope of the current connection, or the zero
	// SpaceID when disconnected.
	Scope() ref.SpaceID

	// Participants returns the last known roster of the connected
	// room. Empty when disconnected.
	Participants() []ref.ParticipantID
}

// Publisher is the server side of the realtime channel: it fans a
// payload out to every member of a scope's room. Delivery is
// at-most-once and best-effort; within one room, payloads from one
// publisher arrive in send order.
type Publisher interface {
	Publish(scope ref.SpaceID, payload []byte) error
}

// TokenSource obtains join credentials for a scope. The production
// implementation calls the token endpoint; tests return canned tokens.
// The binding treats the credential as opaque.
type TokenSource interface {
	Credentials(ctx context.Context, scope ref.SpaceID) (string, error)
}

// ConnectionError reports a failed room join or lost connection. The
// caller decides whether and when to retry; the transport never
// retries automatically.
type ConnectionError struct {
	// Scope is the space whose room the connection was for.
	Scope ref.SpaceID
	// Reason describes the failing step (token, signaling, ICE).
	Reason string
	// Err is the underlying error, if any.
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connecting to room for %s: %s: %v", e.Scope, e.Reason, e.Err)
	}
	return fmt.Sprintf("connecting to room for %s: %s", e.Scope, e.Reason)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
