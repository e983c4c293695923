// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/lib/testutil"
	"github.com/loomchat/loom/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func mustSpace(t *testing.T, raw string) ref.SpaceID {
	t.Helper()
	space, err := ref.ParseSpaceID(raw)
	if err != nil {
		t.Fatalf("ParseSpaceID(%q): %v", raw, err)
	}
	return space
}

func mustParticipant(t *testing.T, raw string) ref.ParticipantID {
	t.Helper()
	participant, err := ref.ParseParticipantID(raw)
	if err != nil {
		t.Fatalf("ParseParticipantID(%q): %v", raw, err)
	}
	return participant
}

func mustEntityID(t *testing.T, raw string) ref.EntityID {
	t.Helper()
	id, err := ref.ParseEntityID(raw)
	if err != nil {
		t.Fatalf("ParseEntityID(%q): %v", raw, err)
	}
	return id
}

// encodedEnvelope builds a valid wire payload announcing an update to
// the given entity in the given space.
func encodedEnvelope(t *testing.T, space ref.SpaceID, entityID ref.EntityID) []byte {
	t.Helper()
	envelope := schema.NewEnvelope(schema.Entity{
		ID:    entityID,
		Kind:  schema.KindBeing,
		Space: space,
	}, false, time.Now())
	raw, err := envelope.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return raw
}

func TestMemoryBinding_PublishReachesSubscribers(t *testing.T) {
	hub := NewMemoryHub(testLogger())
	space := mustSpace(t, "@space-1")

	bindingA := hub.Binding(mustParticipant(t, "@alice"))
	bindingB := hub.Binding(mustParticipant(t, "@bob"))

	ctx := context.Background()
	if err := bindingA.Connect(ctx, space); err != nil {
		t.Fatalf("Connect A: %v", err)
	}
	if err := bindingB.Connect(ctx, space); err != nil {
		t.Fatalf("Connect B: %v", err)
	}

	receivedA := make(chan schema.Envelope, 1)
	receivedB := make(chan schema.Envelope, 1)
	bindingA.Subscribe(func(envelope schema.Envelope) { receivedA <- envelope })
	bindingB.Subscribe(func(envelope schema.Envelope) { receivedB <- envelope })

	entityID := mustEntityID(t, "@doc-1")
	if err := hub.Publish(space, encodedEnvelope(t, space, entityID)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for name, ch := range map[string]chan schema.Envelope{"A": receivedA, "B": receivedB} {
		envelope := testutil.RequireReceive(t, ch, time.Second, "subscriber %s", name)
		if envelope.Data.ID != entityID {
			t.Errorf("subscriber %s: envelope ID = %s, want %s", name, envelope.Data.ID, entityID)
		}
		if envelope.Type != schema.TypeBeingUpdated {
			t.Errorf("subscriber %s: envelope type = %q, want %q", name, envelope.Type, schema.TypeBeingUpdated)
		}
	}
}

func TestMemoryBinding_ScopeIsolation(t *testing.T) {
	hub := NewMemoryHub(testLogger())
	spaceOne := mustSpace(t, "@space-1")
	spaceTwo := mustSpace(t, "@space-2")

	binding := hub.Binding(mustParticipant(t, "@alice"))
	if err := binding.Connect(context.Background(), spaceOne); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	received := make(chan schema.Envelope, 1)
	binding.Subscribe(func(envelope schema.Envelope) { received <- envelope })

	// An envelope published to a different space must not reach a
	// subscriber in spaceOne.
	if err := hub.Publish(spaceTwo, encodedEnvelope(t, spaceTwo, mustEntityID(t, "@doc-1"))); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	testutil.RequireNoReceive(t, received, 50*time.Millisecond, "cross-scope envelope leaked")

	if err := hub.Publish(spaceOne, encodedEnvelope(t, spaceOne, mustEntityID(t, "@doc-2"))); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	envelope := testutil.RequireReceive(t, received, time.Second)
	if envelope.Scope != spaceOne {
		t.Errorf("envelope scope = %s, want %s", envelope.Scope, spaceOne)
	}
}

func TestMemoryBinding_MalformedPayloadIsolation(t *testing.T) {
	hub := NewMemoryHub(testLogger())
	space := mustSpace(t, "@space-1")

	binding := hub.Binding(mustParticipant(t, "@alice"))
	if err := binding.Connect(context.Background(), space); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	received := make(chan schema.Envelope, 2)
	binding.Subscribe(func(envelope schema.Envelope) { received <- envelope })

	// Garbage, then a structurally valid envelope of an unknown type,
	// then a well-formed one. Only the last is delivered, and the
	// subscription survives the first two.
	if err := hub.Publish(space, []byte("{not json")); err != nil {
		t.Fatalf("Publish garbage: %v", err)
	}
	if err := hub.Publish(space, []byte(`{"type":"space-archived","data":{"id":"@doc-1"},"timestamp":"2026-08-31T00:00:00Z","scope":"@space-1"}`)); err != nil {
		t.Fatalf("Publish unknown type: %v", err)
	}
	if err := hub.Publish(space, encodedEnvelope(t, space, mustEntityID(t, "@doc-1"))); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	envelope := testutil.RequireReceive(t, received, time.Second)
	if envelope.Type != schema.TypeBeingUpdated {
		t.Errorf("envelope type = %q, want %q", envelope.Type, schema.TypeBeingUpdated)
	}
	testutil.RequireNoReceive(t, received, 50*time.Millisecond, "dropped payload was delivered")
}

func TestMemoryBinding_ConnectIdempotent(t *testing.T) {
	hub := NewMemoryHub(testLogger())
	space := mustSpace(t, "@space-1")

	binding := hub.Binding(mustParticipant(t, "@alice"))
	ctx := context.Background()
	if err := binding.Connect(ctx, space); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := binding.Connect(ctx, space); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	// The duplicate connect must not register a second room member.
	roster := hub.Participants(space)
	if len(roster) != 1 {
		t.Fatalf("roster = %v, want exactly one member", roster)
	}
}

func TestMemoryBinding_ScopeSwitchLeavesOldRoom(t *testing.T) {
	hub := NewMemoryHub(testLogger())
	spaceOne := mustSpace(t, "@space-1")
	spaceTwo := mustSpace(t, "@space-2")

	binding := hub.Binding(mustParticipant(t, "@alice"))
	ctx := context.Background()
	if err := binding.Connect(ctx, spaceOne); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	received := make(chan schema.Envelope, 1)
	binding.Subscribe(func(envelope schema.Envelope) { received <- envelope })

	if err := binding.Connect(ctx, spaceTwo); err != nil {
		t.Fatalf("Connect to second space: %v", err)
	}
	if got := binding.Scope(); got != spaceTwo {
		t.Errorf("Scope() = %s, want %s", got, spaceTwo)
	}
	if roster := hub.Participants(spaceOne); len(roster) != 0 {
		t.Errorf("old room roster = %v, want empty", roster)
	}

	// Envelopes for the old scope must no longer arrive.
	if err := hub.Publish(spaceOne, encodedEnvelope(t, spaceOne, mustEntityID(t, "@doc-1"))); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	testutil.RequireNoReceive(t, received, 50*time.Millisecond, "envelope from abandoned scope leaked")
}

func TestMemoryBinding_RejectedJoin(t *testing.T) {
	hub := NewMemoryHub(testLogger())
	denied := errors.New("not a member")
	hub.RejectJoin = func(ref.SpaceID, ref.ParticipantID) error { return denied }

	binding := hub.Binding(mustParticipant(t, "@alice"))
	err := binding.Connect(context.Background(), mustSpace(t, "@space-1"))

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect error = %v, want *ConnectionError", err)
	}
	if !errors.Is(err, denied) {
		t.Errorf("Connect error does not wrap the rejection: %v", err)
	}
	if binding.Connected() {
		t.Error("Connected() = true after rejected join")
	}
	if !binding.Scope().IsZero() {
		t.Errorf("Scope() = %s after rejected join, want zero", binding.Scope())
	}
}

func TestMemoryBinding_RosterPushes(t *testing.T) {
	hub := NewMemoryHub(testLogger())
	space := mustSpace(t, "@space-1")
	alice := mustParticipant(t, "@alice")
	bob := mustParticipant(t, "@bob")

	bindingA := hub.Binding(alice)
	rosters := make(chan []ref.ParticipantID, 4)
	bindingA.OnRoster(func(roster []ref.ParticipantID) { rosters <- roster })

	ctx := context.Background()
	if err := bindingA.Connect(ctx, space); err != nil {
		t.Fatalf("Connect A: %v", err)
	}
	first := testutil.RequireReceive(t, rosters, time.Second, "roster after own join")
	if len(first) != 1 || first[0] != alice {
		t.Fatalf("roster after join = %v, want [%s]", first, alice)
	}

	bindingB := hub.Binding(bob)
	if err := bindingB.Connect(ctx, space); err != nil {
		t.Fatalf("Connect B: %v", err)
	}
	second := testutil.RequireReceive(t, rosters, time.Second, "roster after second join")
	if len(second) != 2 {
		t.Fatalf("roster after second join = %v, want two members", second)
	}

	bindingB.Disconnect()
	third := testutil.RequireReceive(t, rosters, time.Second, "roster after leave")
	if len(third) != 1 || third[0] != alice {
		t.Fatalf("roster after leave = %v, want [%s]", third, alice)
	}

	if got := bindingA.Participants(); len(got) != 1 || got[0] != alice {
		t.Errorf("Participants() = %v, want [%s]", got, alice)
	}
}

func TestMemoryBinding_SubscribeCancel(t *testing.T) {
	hub := NewMemoryHub(testLogger())
	space := mustSpace(t, "@space-1")

	binding := hub.Binding(mustParticipant(t, "@alice"))
	if err := binding.Connect(context.Background(), space); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	received := make(chan schema.Envelope, 1)
	cancel := binding.Subscribe(func(envelope schema.Envelope) { received <- envelope })
	cancel()

	if err := hub.Publish(space, encodedEnvelope(t, space, mustEntityID(t, "@doc-1"))); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	testutil.RequireNoReceive(t, received, 50*time.Millisecond, "cancelled subscriber still receives")
}

func TestMemoryBinding_SubscriberPanicIsolated(t *testing.T) {
	hub := NewMemoryHub(testLogger())
	space := mustSpace(t, "@space-1")

	binding := hub.Binding(mustParticipant(t, "@alice"))
	if err := binding.Connect(context.Background(), space); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	binding.Subscribe(func(schema.Envelope) { panic("subscriber bug") })
	received := make(chan schema.Envelope, 1)
	binding.Subscribe(func(envelope schema.Envelope) { received <- envelope })

	if err := hub.Publish(space, encodedEnvelope(t, space, mustEntityID(t, "@doc-1"))); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	testutil.RequireReceive(t, received, time.Second, "healthy subscriber starved by panicking one")
}
