// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loomchat/loom/lib/ref"
)

// Envelope event types. One created/updated pair per entity kind.
const (
	TypeBeingCreated     = "being-created"
	TypeBeingUpdated     = "being-updated"
	TypeIntentionCreated = "intention-created"
	TypeIntentionUpdated = "intention-updated"
)

// Envelope is the change notification published to a space's room
// when an entity is created or updated. It identifies the change but
// never carries the changed value.
type Envelope struct {
	// Type is the event type, e.g. "being-updated".
	Type string `json:"type"`

	// Data carries the affected entity's identifier and nothing else.
	Data EnvelopeData `json:"data"`

	// Timestamp is the ISO-8601 time the server emitted the event.
	// Informational only: reconciliation compares entity ModifiedAt
	// stamps from fetches, never envelope timestamps.
	Timestamp string `json:"timestamp"`

	// Scope is the space whose room the envelope was published to.
	Scope ref.SpaceID `json:"scope"`
}

// EnvelopeData is the payload of an envelope: the entity ID only.
type EnvelopeData struct {
	ID ref.EntityID `json:"id"`
}

// EnvelopeError reports an inbound payload that could not be parsed or
// validated as an envelope. Receivers drop the message and log it; one
// malformed payload never affects other subscribers or later messages.
type EnvelopeError struct {
	// Reason describes what failed validation.
	Reason string
	// Err is the underlying decode error, if any.
	Err error
}

func (e *EnvelopeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed envelope: %s", e.Reason)
}

func (e *EnvelopeError) Unwrap() error { return e.Err }

// ErrUnknownType marks a structurally valid envelope whose type is not
// recognized. Receivers skip these: newer servers may emit event types
// this client predates, and that must never be treated as a failure.
var ErrUnknownType = errors.New("unknown envelope type")

// NewEnvelope constructs the envelope announcing a change to entity.
// created selects the "-created" type; otherwise "-updated". emittedAt
// becomes the envelope timestamp.
func NewEnvelope(entity Entity, created bool, emittedAt time.Time) Envelope {
	suffix := "-updated"
	if created {
		suffix = "-created"
	}
	return Envelope{
		Type:      string(entity.Kind) + suffix,
		Data:      EnvelopeData{ID: entity.ID},
		Timestamp: emittedAt.UTC().Format(time.RFC3339Nano),
		Scope:     entity.Space,
	}
}

// knownTypes is the set of envelope types this version understands.
var knownTypes = map[string]struct{}{
	TypeBeingCreated:     {},
	TypeBeingUpdated:     {},
	TypeIntentionCreated: {},
	TypeIntentionUpdated: {},
}

// ParseEnvelope decodes and validates a raw payload from the sync
// topic.
//
// Malformed payloads (bad JSON, missing ID or scope, unparseable
// timestamp) return a [*EnvelopeError]. A structurally valid envelope
// with an unrecognized type is returned along with [ErrUnknownType];
// the caller skips it but may still log the type for visibility.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, &EnvelopeError{Reason: "decoding JSON", Err: err}
	}

	if envelope.Type == "" {
		return Envelope{}, &EnvelopeError{Reason: "missing type"}
	}
	if envelope.Data.ID.IsZero() {
		return Envelope{}, &EnvelopeError{Reason: "missing data.id"}
	}
	if envelope.Scope.IsZero() {
		return Envelope{}, &EnvelopeError{Reason: "missing scope"}
	}
	if envelope.Timestamp == "" {
		return Envelope{}, &EnvelopeError{Reason: "missing timestamp"}
	}
	if _, err := time.Parse(time.RFC3339Nano, envelope.Timestamp); err != nil {
		return Envelope{}, &EnvelopeError{Reason: "timestamp is not ISO-8601", Err: err}
	}

	if _, known := knownTypes[envelope.Type]; !known {
		return envelope, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
	}
	return envelope, nil
}

// Encode serializes the envelope for publication on the sync topic.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope for %s: %w", e.Data.ID, err)
	}
	return data, nil
}
