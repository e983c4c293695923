// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package replica

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loomchat/loom/lib/clock"
	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/schema"
	"github.com/loomchat/loom/transport"
)

// State is the orchestrator's connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Remote is the server-of-record surface the orchestrator reconciles
// against. [client.Remote] satisfies it.
type Remote interface {
	Fetch(ctx context.Context, id ref.EntityID) (schema.Entity, error)
	FetchAll(ctx context.Context, space ref.SpaceID) ([]schema.Entity, error)
	Upsert(ctx context.Context, entity schema.Entity) (schema.Entity, error)
}

// defaultReconcileTimeout bounds each reconciliation fetch.
const defaultReconcileTimeout = 10 * time.Second

// Config holds the collaborators for creating an Orchestrator.
type Config struct {
	// Binding is the room transport. Required. Production wires a
	// WebRTCBinding, tests and single-process deployments a
	// MemoryBinding.
	Binding transport.Binding

	// Remote fetches and writes entities. Required.
	Remote Remote

	// Clock drives the periodic refresh and stamps cache entries.
	// Nil means the real clock.
	Clock clock.Clock

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger

	// RefreshInterval, when positive, runs a periodic full refresh
	// through the same reconciliation path envelopes use. Zero
	// disables it: envelopes and reconnects are then the only
	// triggers.
	RefreshInterval time.Duration

	// ReconcileTimeout bounds each reconciliation fetch. Zero means
	// defaultReconcileTimeout.
	ReconcileTimeout time.Duration

	// OnState, when non-nil, observes state transitions. Each call
	// runs on its own goroutine, outside the orchestrator's lock.
	OnState func(State)
}

// Orchestrator is the single owner of client-side sync: it connects
// the transport to a scope, runs the post-connect catch-up fetch,
// turns change envelopes into invalidate-then-refetch work, and serves
// reads from the replica with presence merged in. All refresh paths
// (catch-up, envelope, periodic) funnel through one freshness-guarded
// apply, so no path can regress an entity to an older version.
type Orchestrator struct {
	binding          transport.Binding
	remote           Remote
	clock            clock.Clock
	logger           *slog.Logger
	refreshInterval  time.Duration
	reconcileTimeout time.Duration
	onState          func(State)

	cache *cache

	mu          sync.Mutex
	state       State
	scope       ref.SpaceID
	generation  uint64
	cancelSub   func()
	stopRefresh chan struct{}
}

// New validates the config and returns a disconnected Orchestrator.
func New(config Config) (*Orchestrator, error) {
	if config.Binding == nil {
		return nil, fmt.Errorf("replica: Config.Binding is required")
	}
	if config.Remote == nil {
		return nil, fmt.Errorf("replica: Config.Remote is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := config.ReconcileTimeout
	if timeout == 0 {
		timeout = defaultReconcileTimeout
	}
	return &Orchestrator{
		binding:          config.Binding,
		remote:           config.Remote,
		clock:            clk,
		logger:           logger,
		refreshInterval:  config.RefreshInterval,
		reconcileTimeout: timeout,
		onState:          config.OnState,
		cache:            newCache(),
		state:            StateDisconnected,
	}, nil
}

// Connect joins the scope's room and brings the replica up to date.
// Already connected to the same scope, it is a no-op. Connected to a
// different scope, the old scope is torn down first and its replica
// dropped. On failure the orchestrator lands in StateError with
// nothing cached.
func (o *Orchestrator) Connect(ctx context.Context, scope ref.SpaceID) error {
	o.mu.Lock()
	if o.state == StateConnected && o.scope == scope {
		o.mu.Unlock()
		return nil
	}
	o.teardownLocked()
	o.generation++
	generation := o.generation
	o.scope = scope
	o.setStateLocked(StateConnecting)

	// Subscribe before the transport connect: an envelope arriving
	// between connect and catch-up must not be lost.
	o.cancelSub = o.binding.Subscribe(func(envelope schema.Envelope) {
		o.handleEnvelope(generation, scope, envelope)
	})
	o.mu.Unlock()

	if err := o.binding.Connect(ctx, scope); err != nil {
		o.failConnect(generation)
		return err
	}

	// Catch-up fetch: every change broadcast while we were away is
	// invisible, so the full space state is the only safe baseline.
	if err := o.catchUp(ctx, generation, scope, OriginCatchUp); err != nil {
		o.binding.Disconnect()
		o.failConnect(generation)
		return err
	}

	o.mu.Lock()
	if o.generation != generation {
		o.mu.Unlock()
		return &transport.ConnectionError{Scope: scope, Reason: "torn down during connect"}
	}
	stop := make(chan struct{})
	o.stopRefresh = stop
	o.setStateLocked(StateConnected)
	o.mu.Unlock()

	if o.refreshInterval > 0 {
		go o.refreshLoop(generation, scope, stop)
	}
	o.logger.Info("sync established", "scope", scope, "entities", o.cache.size())
	return nil
}

// Disconnect leaves the room and drops the replica.
func (o *Orchestrator) Disconnect() {
	o.mu.Lock()
	o.teardownLocked()
	o.scope = ref.SpaceID{}
	o.setStateLocked(StateDisconnected)
	o.mu.Unlock()

	o.binding.Disconnect()
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Scope returns the connected scope, or the zero SpaceID.
func (o *Orchestrator) Scope() ref.SpaceID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scope
}

// View is a read result: the cached entity plus presence, merged at
// read time from the room roster. Online is meaningful for beings
// only.
type View struct {
	schema.Entity
	Online bool
}

// Get returns the entity as the replica sees it. A cache miss falls
// through to a point fetch against the server of record; the result
// joins the replica only when it belongs to the connected scope. A
// missing entity is a negative result, not an error.
func (o *Orchestrator) Get(ctx context.Context, id ref.EntityID) (View, bool, error) {
	if entry, ok := o.cache.get(id); ok {
		return o.view(entry.Entity), true, nil
	}
	generation := o.currentGeneration()
	entity, err := o.remote.Fetch(ctx, id)
	if err != nil {
		fetchErr := classifyFetch(id, err)
		if fetchErr.NotFound {
			return View{}, false, nil
		}
		return View{}, false, fetchErr
	}
	o.mu.Lock()
	inScope := o.generation == generation && o.state == StateConnected && o.scope == entity.Space
	o.mu.Unlock()
	if !inScope {
		return View{}, false, nil
	}
	o.cache.apply(entity, OriginFetch, o.clock.Now())
	if entry, ok := o.cache.get(id); ok {
		return o.view(entry.Entity), true, nil
	}
	return o.view(entity), true, nil
}

// List returns the replica's entities, most recently modified first.
func (o *Orchestrator) List() []View {
	entries := o.cache.list()
	views := make([]View, 0, len(entries))
	for _, entry := range entries {
		views = append(views, o.view(entry.Entity))
	}
	return views
}

// Put writes the entity through to the server of record and folds the
// stored result into the replica. The server assigns the freshness
// stamp; the local copy is only updated with the server's answer.
func (o *Orchestrator) Put(ctx context.Context, entity schema.Entity) (View, error) {
	stored, err := o.remote.Upsert(ctx, entity)
	if err != nil {
		return View{}, fmt.Errorf("replica: writing %s: %w", entity.ID, err)
	}
	o.mu.Lock()
	cacheIt := o.state == StateConnected && o.scope == stored.Space
	o.mu.Unlock()
	if cacheIt {
		o.cache.apply(stored, OriginCatchUp, o.clock.Now())
	}
	return o.view(stored), nil
}

// view merges presence from the live roster.
func (o *Orchestrator) view(entity schema.Entity) View {
	return View{Entity: entity, Online: o.online(entity)}
}

func (o *Orchestrator) online(entity schema.Entity) bool {
	if entity.Kind != schema.KindBeing {
		return false
	}
	for _, participant := range o.binding.Participants() {
		if participant.EntityID() == entity.ID {
			return true
		}
	}
	return false
}

// handleEnvelope is the envelope-driven edge of the sync loop: the
// envelope names a changed entity, the refetch supplies its value.
func (o *Orchestrator) handleEnvelope(generation uint64, scope ref.SpaceID, envelope schema.Envelope) {
	if envelope.Scope != scope {
		// The room is scope-keyed, so this indicates a misbehaving
		// publisher. Never let it touch the replica.
		o.logger.Warn("dropping envelope for foreign scope",
			"scope", scope,
			"envelope_scope", envelope.Scope,
			"entity", envelope.Data.ID,
		)
		return
	}
	go o.reconcile(generation, envelope.Data.ID, OriginNotify)
}

// reconcile refetches one entity and offers the result to the cache.
// The generation pins the connect session: a fetch still in flight
// when the scope is torn down must not touch the next session's
// replica.
func (o *Orchestrator) reconcile(generation uint64, id ref.EntityID, origin Origin) {
	if o.currentGeneration() != generation {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.reconcileTimeout)
	defer cancel()

	entity, err := o.remote.Fetch(ctx, id)
	if err != nil {
		fetchErr := classifyFetch(id, err)
		if o.currentGeneration() != generation {
			return
		}
		if fetchErr.NotFound {
			// Definitive: the entity is gone from the server of
			// record, so it leaves the replica too.
			o.cache.remove(id)
			o.logger.Debug("entity dropped after not-found", "entity", id)
			return
		}
		// Transient: keep the cached copy. The next envelope,
		// refresh, or reconnect reconverges.
		o.logger.Warn("reconciliation fetch failed", "entity", id, "error", fetchErr)
		return
	}

	o.mu.Lock()
	stale := o.generation != generation
	scope := o.scope
	o.mu.Unlock()
	if stale {
		return
	}
	if entity.Space != scope {
		o.logger.Warn("dropping fetched entity outside scope",
			"entity", entity.ID,
			"entity_space", entity.Space,
			"scope", scope,
		)
		return
	}
	o.cache.apply(entity, origin, o.clock.Now())
}

// catchUp folds the full space state into the replica. Entities whose
// stored copy is older than what an envelope-driven refetch already
// delivered are rejected by the cache's freshness guard.
func (o *Orchestrator) catchUp(ctx context.Context, generation uint64, scope ref.SpaceID, origin Origin) error {
	entities, err := o.remote.FetchAll(ctx, scope)
	if err != nil {
		return &FetchError{Err: fmt.Errorf("catch-up for %s: %w", scope, err)}
	}
	if o.currentGeneration() != generation {
		return nil
	}
	now := o.clock.Now()
	for _, entity := range entities {
		if entity.Space != scope {
			o.logger.Warn("dropping listed entity outside scope",
				"entity", entity.ID,
				"entity_space", entity.Space,
				"scope", scope,
			)
			continue
		}
		o.cache.apply(entity, origin, now)
	}
	return nil
}

// refreshLoop runs the periodic refresh: the same catch-up primitive,
// driven by the clock instead of an envelope. It also notices silent
// transport loss between envelopes.
func (o *Orchestrator) refreshLoop(generation uint64, scope ref.SpaceID, stop chan struct{}) {
	ticker := o.clock.NewTicker(o.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if o.currentGeneration() != generation {
				return
			}
			if !o.binding.Connected() {
				o.markError(generation)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), o.reconcileTimeout)
			err := o.catchUp(ctx, generation, scope, OriginCatchUp)
			cancel()
			if err != nil {
				o.logger.Warn("periodic refresh failed", "scope", scope, "error", err)
			}
		}
	}
}

// failConnect cancels the session started by Connect and lands in
// StateError, unless a newer session already took over.
func (o *Orchestrator) failConnect(generation uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != generation {
		return
	}
	o.teardownLocked()
	o.setStateLocked(StateError)
}

// markError records a lost connection detected outside Connect.
func (o *Orchestrator) markError(generation uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != generation {
		return
	}
	o.setStateLocked(StateError)
	o.logger.Warn("transport connection lost", "scope", o.scope)
}

func (o *Orchestrator) currentGeneration() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation
}

// teardownLocked cancels the subscription and refresh loop, bumps the
// generation so in-flight reconciliations discard themselves, and
// drops the replica. Callers hold o.mu.
func (o *Orchestrator) teardownLocked() {
	if o.cancelSub != nil {
		o.cancelSub()
		o.cancelSub = nil
	}
	if o.stopRefresh != nil {
		close(o.stopRefresh)
		o.stopRefresh = nil
	}
	o.generation++
	o.cache.clear()
}

// setStateLocked records a transition and schedules the observer.
// Callers hold o.mu.
func (o *Orchestrator) setStateLocked(state State) {
	if o.state == state {
		return
	}
	o.state = state
	if o.onState != nil {
		// Observer runs outside the lock.
		go o.onState(state)
	}
}
