// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EntityID is a validated entity identifier (e.g., "@being-fern" or
// "@intention-01JQX8Z3N9").
//
// Entity IDs are globally unique across all spaces and entity kinds.
// The server of record assigns them at creation time; clients treat
// them as opaque. The ID alone is what change notifications carry
// (never the entity payload), so the type shows up in every layer of
// the sync protocol.
type EntityID struct {
	id string
}

// ParseEntityID validates and wraps a raw entity identifier string.
func ParseEntityID(raw string) (EntityID, error) {
	if err := validateIdentifier("entity ID", raw); err != nil {
		return EntityID{}, err
	}
	return EntityID{id: raw}, nil
}

// String returns the full entity ID string.
func (e EntityID) String() string { return e.id }

// IsZero reports whether the EntityID is the zero value (uninitialized).
func (e EntityID) IsZero() bool { return e.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (e EntityID) MarshalText() ([]byte, error) {
	return []byte(e.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, validating the
// identifier during deserialization.
func (e *EntityID) UnmarshalText(text []byte) error {
	parsed, err := ParseEntityID(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
