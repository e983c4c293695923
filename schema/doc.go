// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the data contract shared by the Loom server
// of record, the realtime transport, and the client replica.
//
// [Entity] is the versioned, server-owned record: a being present in a
// space or an intention authored in one. The server of record is the
// only authority over entity values; clients hold cached copies whose
// freshness is bounded by an active subscription.
//
// [Envelope] is the change-notification message carried on the room's
// "sync" data topic. Envelopes are deliberately minimal: an event
// type, the affected entity ID, a timestamp, and the scope: never the
// entity payload. A consumer that wants the new value must fetch it
// from the server of record. This is what makes out-of-order and
// duplicate delivery harmless: the envelope can only trigger a fetch,
// it can never install a stale value by itself.
//
// [ParseEnvelope] is the single validation gate for inbound envelopes.
// Malformed payloads produce a [*EnvelopeError]; structurally valid
// envelopes of an unrecognized type produce [ErrUnknownType] so
// receivers can skip them without treating new event types from newer
// servers as failures.
package schema
