// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Loom's standard CBOR encoding.
//
// The realtime signaling protocol (offer/answer exchange and roster
// frames) is CBOR on the wire: compact, binary-safe for SDP blobs, and
// schema-evolvable because unknown fields are ignored on decode. The
// encoder uses Core Deterministic Encoding so the same logical message
// always produces identical bytes.
//
// Note the change-notification envelope itself is NOT CBOR: it is
// JSON over the room's "sync" data channel, fixed by the sync protocol
// contract (see the schema package). This package covers only the
// signaling and roster surfaces.
package codec
