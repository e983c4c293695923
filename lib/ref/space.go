// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// SpaceID is a validated space identifier (e.g., "@space-garden").
//
// A space is the scope grouping entities and subscribers: beings are
// present in a space, intentions are authored in one, and the realtime
// room a client joins is keyed by the space. Loom code never
// constructs space IDs by string concatenation: they come from the
// server of record or from configuration and are parsed into this type
// at the boundary.
type SpaceID struct {
	id string
}

// ParseSpaceID validates and wraps a raw space identifier string.
func ParseSpaceID(raw string) (SpaceID, error) {
	if err := validateIdentifier("space ID", raw); err != nil {
		return SpaceID{}, err
	}
	return SpaceID{id: raw}, nil
}

// String returns the full space ID string.
func (s SpaceID) String() string { return s.id }

// IsZero reports whether the SpaceID is the zero value (uninitialized).
func (s SpaceID) IsZero() bool { return s.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (s SpaceID) MarshalText() ([]byte, error) {
	return []byte(s.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, validating the
// identifier during deserialization.
func (s *SpaceID) UnmarshalText(text []byte) error {
	parsed, err := ParseSpaceID(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
