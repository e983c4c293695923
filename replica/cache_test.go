// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package replica

import (
	"testing"
	"time"

	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/schema"
)

func mustEntityID(t *testing.T, raw string) ref.EntityID {
	t.Helper()
	id, err := ref.ParseEntityID(raw)
	if err != nil {
		t.Fatalf("ParseEntityID(%q): %v", raw, err)
	}
	return id
}

func mustSpace(t *testing.T, raw string) ref.SpaceID {
	t.Helper()
	space, err := ref.ParseSpaceID(raw)
	if err != nil {
		t.Fatalf("ParseSpaceID(%q): %v", raw, err)
	}
	return space
}

func testEntity(t *testing.T, id string, modifiedAt time.Time, body string) schema.Entity {
	t.Helper()
	return schema.Entity{
		ID:         mustEntityID(t, id),
		Kind:       schema.KindIntention,
		Space:      mustSpace(t, "@space-1"),
		ModifiedAt: modifiedAt,
		Content:    []byte(body),
	}
}

func TestCache_FreshnessGuard(t *testing.T) {
	c := newCache()
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	v2 := testEntity(t, "@doc-1", base.Add(time.Second), `{"v":2}`)
	if !c.apply(v2, OriginNotify, base) {
		t.Fatal("apply rejected the first write")
	}

	// A strictly older version must not regress the cache, whichever
	// path delivers it.
	v1 := testEntity(t, "@doc-1", base, `{"v":1}`)
	if c.apply(v1, OriginCatchUp, base.Add(2*time.Second)) {
		t.Error("apply accepted a stale version")
	}
	entry, ok := c.get(mustEntityID(t, "@doc-1"))
	if !ok {
		t.Fatal("entity missing after stale apply")
	}
	if string(entry.Entity.Content) != `{"v":2}` {
		t.Errorf("cache holds %s, want v2", entry.Entity.Content)
	}
}

func TestCache_EqualStampAcceptsArrival(t *testing.T) {
	c := newCache()
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	first := testEntity(t, "@doc-1", base, `{"arrival":1}`)
	second := testEntity(t, "@doc-1", base, `{"arrival":2}`)
	c.apply(first, OriginNotify, base)
	if !c.apply(second, OriginCatchUp, base) {
		t.Fatal("apply rejected an equal-stamp arrival")
	}
	entry, _ := c.get(mustEntityID(t, "@doc-1"))
	if string(entry.Entity.Content) != `{"arrival":2}` {
		t.Errorf("cache holds %s, want the later arrival", entry.Entity.Content)
	}
}

func TestCache_ListOrder(t *testing.T) {
	c := newCache()
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	c.apply(testEntity(t, "@doc-1", base, `{}`), OriginCatchUp, base)
	c.apply(testEntity(t, "@doc-2", base.Add(time.Second), `{}`), OriginCatchUp, base)
	c.apply(testEntity(t, "@doc-3", base.Add(time.Second), `{}`), OriginCatchUp, base)

	entries := c.list()
	if len(entries) != 3 {
		t.Fatalf("list returned %d entries, want 3", len(entries))
	}
	// Most recent first; equal stamps ordered by ID for stability.
	if entries[0].Entity.ID != mustEntityID(t, "@doc-2") {
		t.Errorf("first = %s, want @doc-2", entries[0].Entity.ID)
	}
	if entries[1].Entity.ID != mustEntityID(t, "@doc-3") {
		t.Errorf("second = %s, want @doc-3", entries[1].Entity.ID)
	}
	if entries[2].Entity.ID != mustEntityID(t, "@doc-1") {
		t.Errorf("third = %s, want @doc-1", entries[2].Entity.ID)
	}
}

func TestCache_RemoveAndClear(t *testing.T) {
	c := newCache()
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	c.apply(testEntity(t, "@doc-1", base, `{}`), OriginCatchUp, base)
	c.apply(testEntity(t, "@doc-2", base, `{}`), OriginCatchUp, base)

	c.remove(mustEntityID(t, "@doc-1"))
	if _, ok := c.get(mustEntityID(t, "@doc-1")); ok {
		t.Error("removed entity still cached")
	}
	if c.size() != 1 {
		t.Errorf("size = %d, want 1", c.size())
	}

	c.clear()
	if c.size() != 0 {
		t.Errorf("size after clear = %d, want 0", c.size())
	}
}
