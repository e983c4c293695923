// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomchat/loom/lib/ref"
)

// Kind discriminates the two entity kinds Loom synchronizes.
type Kind string

const (
	// KindBeing is a participant present in a space.
	KindBeing Kind = "being"
	// KindIntention is a message authored in a space.
	KindIntention Kind = "intention"
)

// Valid reports whether k is a recognized entity kind.
func (k Kind) Valid() bool {
	return k == KindBeing || k == KindIntention
}

// Entity is a versioned, server-owned record. The content payload is
// opaque to the sync layer: it is stored, transported, and cached as
// raw JSON and never interpreted.
type Entity struct {
	// ID is the globally unique entity identifier, assigned by the
	// server of record.
	ID ref.EntityID `json:"id"`

	// Kind is the entity kind ("being" or "intention").
	Kind Kind `json:"kind"`

	// Space is the scope the entity belongs to: the space a being is
	// present in, or the space an intention was authored in. Change
	// notifications for the entity are published to this space's room.
	Space ref.SpaceID `json:"space"`

	// ModifiedAt is the freshness stamp, advanced by the server of
	// record on every write. All reconciliation is last-write-wins on
	// this field.
	ModifiedAt time.Time `json:"modified_at"`

	// Content is the opaque JSON payload.
	Content json.RawMessage `json:"content"`
}

// Validate checks the structural invariants a well-formed entity must
// hold. Content is not inspected: an empty or null payload is legal.
func (e Entity) Validate() error {
	if e.ID.IsZero() {
		return fmt.Errorf("entity has zero ID")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("entity %s has unknown kind %q", e.ID, e.Kind)
	}
	if e.Space.IsZero() {
		return fmt.Errorf("entity %s has zero space", e.ID)
	}
	if e.ModifiedAt.IsZero() {
		return fmt.Errorf("entity %s has zero modified_at", e.ID)
	}
	return nil
}
