// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// ParticipantID is a validated participant identity in a realtime
// room. It is the entity ID of the being the client is signed in as,
// which is what makes the presence merge possible: a cached being is
// online exactly when a participant with the same identifier is in the
// room roster.
//
// ParticipantID and EntityID are distinct types on purpose. The roster
// comes from the transport and the cache comes from the server of
// record; conversion between the two happens in exactly one place (the
// presence merge) rather than implicitly everywhere.
type ParticipantID struct {
	id string
}

// ParseParticipantID validates and wraps a raw participant identity.
func ParseParticipantID(raw string) (ParticipantID, error) {
	if err := validateIdentifier("participant ID", raw); err != nil {
		return ParticipantID{}, err
	}
	return ParticipantID{id: raw}, nil
}

// String returns the full participant identity string.
func (p ParticipantID) String() string { return p.id }

// IsZero reports whether the ParticipantID is the zero value.
func (p ParticipantID) IsZero() bool { return p.id == "" }

// EntityID returns the participant identity as an entity ID. The two
// share syntax, so this never fails for a valid ParticipantID.
func (p ParticipantID) EntityID() EntityID {
	return EntityID{id: p.id}
}

// MarshalText implements encoding.TextMarshaler.
func (p ParticipantID) MarshalText() ([]byte, error) {
	return []byte(p.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, validating the
// identity during deserialization.
func (p *ParticipantID) UnmarshalText(text []byte) error {
	parsed, err := ParseParticipantID(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
