// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package replica keeps a client-side copy of one space's entities in
// sync with the server of record.
//
// The model is notify-then-fetch: the room transport delivers change
// envelopes that carry an entity ID and nothing else, and every value
// comes from an authoritative HTTP fetch. The Orchestrator owns the
// whole loop: transport lifecycle, the post-connect catch-up fetch,
// envelope-driven refetches, and the optional periodic refresh. All of
// them feed one last-write-wins cache keyed on the server's ModifiedAt
// stamp, so stale fetch results can never overwrite fresher ones no
// matter how deliveries interleave.
//
// Presence is not cached. A being's online flag is merged at read time
// from the room roster the transport maintains.
package replica
