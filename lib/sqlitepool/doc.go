// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool backing the
// Loom server of record.
//
// It wraps zombiezen.com/go/sqlite with production defaults: WAL
// journal mode so the entity read paths (point fetch, bulk fetch by
// space) never block behind an upsert, NORMAL synchronous for
// process-crash durability without per-commit fsync cost, and a busy
// timeout so concurrent writers queue instead of failing with
// SQLITE_BUSY.
//
// Callers [Pool.Take] a connection, perform work, and [Pool.Put] it
// back. Connections are NOT safe for concurrent use: each goroutine
// must hold its own connection for the duration of its work.
package sqlitepool
