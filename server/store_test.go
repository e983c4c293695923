// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomchat/loom/lib/clock"
	"github.com/loomchat/loom/lib/ref"
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

func mustEntityID(t *testing.T, raw string) ref.EntityID {
	t.Helper()
	id, err := ref.ParseEntityID(raw)
	if err != nil {
		t.Fatalf("ParseEntityID(%q): %v", raw, err)
	}
	return id
}

func openTestStore(t *testing.T, clk clock.Clock) *Store {
	t.Helper()
	store, err := OpenStore(StoreConfig{
		Path:   filepath.Join(t.TempDir(), "entities.db"),
		Clock:  clk,
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_UpsertAndGet(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))
	store := openTestStore(t, clk)

	space := mustSpace(t, "@space-1")
	id := mustEntityID(t, "@doc-1")

	written, created, err := store.Upsert(context.Background(), schema.Entity{
		ID:      id,
		Kind:    schema.KindIntention,
		Space:   space,
		Content: []byte(`{"body":"hello"}`),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !created {
		t.Error("created = false on first write")
	}
	if !written.ModifiedAt.Equal(clk.Now()) {
		t.Errorf("ModifiedAt = %s, want clock time %s", written.ModifiedAt, clk.Now())
	}

	got, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != id || got.Kind != schema.KindIntention || got.Space != space {
		t.Errorf("Get = %+v, want written entity", got)
	}
	if string(got.Content) != `{"body":"hello"}` {
		t.Errorf("Content = %s, want original payload", got.Content)
	}
}

func TestStore_UpsertAdvancesModifiedAt(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))
	store := openTestStore(t, clk)

	entity := schema.Entity{
		ID:      mustEntityID(t, "@doc-1"),
		Kind:    schema.KindIntention,
		Space:   mustSpace(t, "@space-1"),
		Content: []byte(`{"body":"v1"}`),
	}
	first, _, err := store.Upsert(context.Background(), entity)
	if err != nil {
		t.Fatalf("Upsert v1: %v", err)
	}

	clk.Advance(5 * time.Second)
	entity.Content = []byte(`{"body":"v2"}`)
	second, created, err := store.Upsert(context.Background(), entity)
	if err != nil {
		t.Fatalf("Upsert v2: %v", err)
	}
	if created {
		t.Error("created = true on overwrite")
	}
	if !second.ModifiedAt.After(first.ModifiedAt) {
		t.Errorf("second ModifiedAt %s not after first %s", second.ModifiedAt, first.ModifiedAt)
	}

	got, err := store.Get(context.Background(), entity.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Content) != `{"body":"v2"}` {
		t.Errorf("Content = %s, want v2", got.Content)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store := openTestStore(t, clock.Real())

	_, err := store.Get(context.Background(), mustEntityID(t, "@missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListScopedToSpace(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))
	store := openTestStore(t, clk)

	spaceOne := mustSpace(t, "@space-1")
	spaceTwo := mustSpace(t, "@space-2")

	for _, seed := range []struct {
		id    string
		space ref.SpaceID
	}{
		{"@doc-1", spaceOne},
		{"@doc-2", spaceOne},
		{"@doc-3", spaceTwo},
	} {
		clk.Advance(time.Second)
		_, _, err := store.Upsert(context.Background(), schema.Entity{
			ID:      mustEntityID(t, seed.id),
			Kind:    schema.KindIntention,
			Space:   seed.space,
			Content: []byte(`{}`),
		})
		if err != nil {
			t.Fatalf("Upsert %s: %v", seed.id, err)
		}
	}

	entities, err := store.List(context.Background(), spaceOne)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("List returned %d entities, want 2", len(entities))
	}
	// Most recently modified first.
	if entities[0].ID != mustEntityID(t, "@doc-2") {
		t.Errorf("first entity = %s, want @doc-2", entities[0].ID)
	}
	for _, entity := range entities {
		if entity.Space != spaceOne {
			t.Errorf("entity %s has space %s, want %s", entity.ID, entity.Space, spaceOne)
		}
	}
}

func TestStore_MintsIDs(t *testing.T) {
	store := openTestStore(t, clock.Real())

	first, created, err := store.Upsert(context.Background(), schema.Entity{
		Kind:    schema.KindBeing,
		Space:   mustSpace(t, "@space-1"),
		Content: []byte(`{"name":"alice"}`),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !created {
		t.Error("created = false for minted entity")
	}
	if first.ID.IsZero() {
		t.Fatal("minted entity has zero ID")
	}

	second, _, err := store.Upsert(context.Background(), schema.Entity{
		Kind:    schema.KindBeing,
		Space:   mustSpace(t, "@space-1"),
		Content: []byte(`{"name":"bob"}`),
	})
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if second.ID == first.ID {
		t.Errorf("minted IDs collide: %s", first.ID)
	}
}

func TestStore_RejectsInvalidEntity(t *testing.T) {
	store := openTestStore(t, clock.Real())

	_, _, err := store.Upsert(context.Background(), schema.Entity{
		ID:      mustEntityID(t, "@doc-1"),
		Kind:    "attachment",
		Space:   mustSpace(t, "@space-1"),
		Content: []byte(`{}`),
	})
	if err == nil {
		t.Fatal("Upsert accepted an unknown kind")
	}
}
