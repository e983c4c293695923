// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries change notifications and presence rosters
// between the Loom server and its clients over room-scoped realtime
// channels.
//
// The package defines two interfaces. [Binding] is the client side of
// a room: connect to the room for a scope, subscribe to envelopes,
// observe the participant roster. [Publisher] is the server side:
// publish a payload to every member of a room. The sync layers above
// (the server broadcaster and the client replica) depend only on these
// interfaces and never on a concrete transport.
//
// The production implementation uses pion/webrtc data channels.
// [RoomServer] accepts joins: the client sends a complete SDP offer
// plus a join token through a single signaling round trip, and the
// answer comes back in the response (vanilla ICE: all candidates are
// gathered before the SDP travels). Each member holds one
// PeerConnection with two ordered data channels: "sync" for change
// envelopes and "roster" for presence snapshots. [WebRTCBinding] is
// the matching client.
//
// [MemoryHub] and its bindings provide the in-process variant: direct
// callback fan-out with the same contracts, used in tests and
// single-process deployments. Which variant a component talks to is
// decided once, at construction, by injecting the Binding/Publisher,
// never by conditionals at call sites.
//
// Delivery semantics: at-most-once, send-ordered within one room for
// one publisher. Inbound payloads that fail to parse as envelopes are
// dropped and logged inside the receive path; a malformed message or a
// panicking subscriber never affects other subscribers or later
// messages.
package transport
