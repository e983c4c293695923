// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/loomchat/loom/lib/clock"
	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/lib/sqlitepool"
	"github.com/loomchat/loom/schema"
)

// ErrNotFound reports a lookup for an entity ID with no stored row.
var ErrNotFound = errors.New("entity not found")

// storeSchema is applied on every open. CREATE IF NOT EXISTS keeps it
// idempotent across restarts.
const storeSchema = `
CREATE TABLE IF NOT EXISTS entities (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	space       TEXT NOT NULL,
	modified_at TEXT NOT NULL,
	content     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS entities_by_space ON entities (space);
`

// Store is the durable home of entities: the system of record that
// room envelopes merely point at. Writes stamp modified_at from the
// injected clock so freshness comparisons on the client side have a
// single authoritative source.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// StoreConfig holds the parameters for creating a Store.
type StoreConfig struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. ":memory:" is valid for tests.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative.
	PoolSize int

	// Clock stamps modified_at on writes. Required.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// OpenStore opens the entity database, creating the file and schema if
// they do not exist.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("entity store: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("entity store: Logger is required")
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("entity store: %w", err)
	}

	store := &Store{pool: pool, clock: cfg.Clock, logger: cfg.Logger}
	if err := store.applySchema(); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) applySchema() error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("entity store: applying schema: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, storeSchema, nil); err != nil {
		return fmt.Errorf("entity store: applying schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Get returns the entity with the given ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id ref.EntityID) (schema.Entity, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return schema.Entity{}, fmt.Errorf("entity store: get %s: %w", id, err)
	}
	defer s.pool.Put(conn)

	var entity schema.Entity
	found := false
	err = sqlitex.Execute(conn,
		`SELECT id, kind, space, modified_at, content FROM entities WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				var scanErr error
				entity, scanErr = scanEntity(stmt)
				return scanErr
			},
		})
	if err != nil {
		return schema.Entity{}, fmt.Errorf("entity store: get %s: %w", id, err)
	}
	if !found {
		return schema.Entity{}, fmt.Errorf("entity store: get %s: %w", id, ErrNotFound)
	}
	return entity, nil
}

// List returns every entity in the given space, most recently modified
// first.
func (s *Store) List(ctx context.Context, space ref.SpaceID) ([]schema.Entity, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("entity store: list %s: %w", space, err)
	}
	defer s.pool.Put(conn)

	var entities []schema.Entity
	err = sqlitex.Execute(conn,
		`SELECT id, kind, space, modified_at, content FROM entities
		 WHERE space = ? ORDER BY modified_at DESC, id ASC`,
		&sqlitex.ExecOptions{
			Args: []any{space.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entity, scanErr := scanEntity(stmt)
				if scanErr != nil {
					return scanErr
				}
				entities = append(entities, entity)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("entity store: list %s: %w", space, err)
	}
	return entities, nil
}

// Upsert writes the entity, stamping ModifiedAt from the store's
// clock. A zero ID mints a new one. The returned entity carries the
// final ID and stamp; created reports whether a new row was inserted
// rather than an existing one replaced.
func (s *Store) Upsert(ctx context.Context, entity schema.Entity) (schema.Entity, bool, error) {
	if entity.ID.IsZero() {
		minted, err := s.mintID()
		if err != nil {
			return schema.Entity{}, false, err
		}
		entity.ID = minted
	}
	entity.ModifiedAt = s.clock.Now().UTC()
	if err := entity.Validate(); err != nil {
		return schema.Entity{}, false, fmt.Errorf("entity store: upsert: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return schema.Entity{}, false, fmt.Errorf("entity store: upsert %s: %w", entity.ID, err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return schema.Entity{}, false, fmt.Errorf("entity store: upsert %s: %w", entity.ID, err)
	}
	defer endTransaction(&err)

	existed := false
	err = sqlitex.Execute(conn, `SELECT 1 FROM entities WHERE id = ?`, &sqlitex.ExecOptions{
		Args:       []any{entity.ID.String()},
		ResultFunc: func(*sqlite.Stmt) error { existed = true; return nil },
	})
	if err != nil {
		return schema.Entity{}, false, fmt.Errorf("entity store: upsert %s: %w", entity.ID, err)
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO entities (id, kind, space, modified_at, content)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind,
			space = excluded.space,
			modified_at = excluded.modified_at,
			content = excluded.content`,
		&sqlitex.ExecOptions{
			Args: []any{
				entity.ID.String(),
				string(entity.Kind),
				entity.Space.String(),
				entity.ModifiedAt.Format(time.RFC3339Nano),
				string(entity.Content),
			},
		})
	if err != nil {
		return schema.Entity{}, false, fmt.Errorf("entity store: upsert %s: %w", entity.ID, err)
	}
	return entity, !existed, nil
}

// mintID creates a fresh entity ID: a ULID stamped from the store's
// clock, in the "@<id>" identifier form.
func (s *Store) mintID() (ref.EntityID, error) {
	id, err := ulid.New(ulid.Timestamp(s.clock.Now()), ulid.DefaultEntropy())
	if err != nil {
		return ref.EntityID{}, fmt.Errorf("entity store: minting ID: %w", err)
	}
	return ref.ParseEntityID("@" + id.String())
}

func scanEntity(stmt *sqlite.Stmt) (schema.Entity, error) {
	id, err := ref.ParseEntityID(stmt.ColumnText(0))
	if err != nil {
		return schema.Entity{}, fmt.Errorf("stored entity has invalid id: %w", err)
	}
	space, err := ref.ParseSpaceID(stmt.ColumnText(2))
	if err != nil {
		return schema.Entity{}, fmt.Errorf("stored entity %s has invalid space: %w", id, err)
	}
	modifiedAt, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(3))
	if err != nil {
		return schema.Entity{}, fmt.Errorf("stored entity %s has invalid modified_at: %w", id, err)
	}
	return schema.Entity{
		ID:         id,
		Kind:       schema.Kind(stmt.ColumnText(1)),
		Space:      space,
		ModifiedAt: modifiedAt,
		Content:    []byte(stmt.ColumnText(4)),
	}, nil
}
