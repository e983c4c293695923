// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated identifier types for Loom's domain
// objects: spaces, entities, and participants.
//
// Raw identifier strings are parsed into these types at system
// boundaries (HTTP handlers, wire decoders, config loading) and carried
// as values everywhere else. All three types are immutable value types
// whose zero value is invalid; use IsZero to check.
//
// Identifiers follow the '@' convention from the Loom data model:
// "@space-garden" names a space, "@being-fern" or "@intention-01J..."
// names an entity, and a participant identity is the entity ID of the
// being the client is signed in as. The types implement
// encoding.TextMarshaler and TextUnmarshaler so they round-trip
// through JSON and CBOR as plain strings, including as map keys.
package ref
