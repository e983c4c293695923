// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/loomchat/loom/lib/clock"
	"github.com/loomchat/loom/lib/codec"
	"github.com/loomchat/loom/lib/jointoken"
	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/schema"
	"github.com/loomchat/loom/transport"
)

// maxBodySize caps request bodies. Entity content is chat-scale JSON;
// anything past this is abuse or a bug.
const maxBodySize = 1 << 20

// API is the sync service's HTTP surface: entity reads and writes,
// join token issuance, and the room signaling endpoint.
type API struct {
	store       *Store
	broadcaster *Broadcaster
	tokens      *jointoken.Issuer
	rooms       transport.Joiner
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *Metrics
}

// APIConfig holds the collaborators for creating an API.
type APIConfig struct {
	// Store is the entity store. Required.
	Store *Store

	// Broadcaster announces entity changes after durable writes.
	// Required.
	Broadcaster *Broadcaster

	// Tokens issues room join tokens. Required.
	Tokens *jointoken.Issuer

	// Rooms answers signaling joins. Required.
	Rooms transport.Joiner

	// Clock stamps envelope emission times. Required.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger

	// Metrics, when non-nil, counts requests and exposes /metrics.
	Metrics *Metrics
}

// NewAPI validates the config and returns an API.
func NewAPI(config APIConfig) (*API, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("api: Store is required")
	}
	if config.Broadcaster == nil {
		return nil, fmt.Errorf("api: Broadcaster is required")
	}
	if config.Tokens == nil {
		return nil, fmt.Errorf("api: Tokens is required")
	}
	if config.Rooms == nil {
		return nil, fmt.Errorf("api: Rooms is required")
	}
	if config.Clock == nil {
		return nil, fmt.Errorf("api: Clock is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("api: Logger is required")
	}
	return &API{
		store:       config.Store,
		broadcaster: config.Broadcaster,
		tokens:      config.Tokens,
		rooms:       config.Rooms,
		clock:       config.Clock,
		logger:      config.Logger,
		metrics:     config.Metrics,
	}, nil
}

// Router builds the chi router for the API.
func (a *API) Router() *chi.Mux {
	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Recoverer)

	router.Get("/healthz", a.handleHealth)
	if a.metrics != nil {
		router.Handle("/metrics", a.metrics.Handler())
	}

	router.Route("/v1", func(router chi.Router) {
		router.Get("/entities/{id}", a.handleGetEntity)
		router.Put("/entities/{id}", a.handlePutEntity)
		router.Get("/spaces/{space}/entities", a.handleListEntities)
		router.Post("/spaces/{space}/entities", a.handleCreateEntity)
		router.Post("/token", a.handleToken)
		router.Post("/rooms/{scope}/join", a.handleRoomJoin)
	})
	return router
}

func (a *API) handleHealth(writer http.ResponseWriter, _ *http.Request) {
	writer.Header().Set("Content-Type", "application/json")
	writer.Write([]byte(`{"status":"ok"}`))
}

func (a *API) handleGetEntity(writer http.ResponseWriter, request *http.Request) {
	id, err := ref.ParseEntityID(chi.URLParam(request, "id"))
	if err != nil {
		a.writeError(writer, http.StatusBadRequest, err)
		return
	}

	entity, err := a.store.Get(request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		// A missing entity is an answer, not a fault: clients probe
		// for IDs learned from envelopes that may have been deleted.
		a.count(func(m *Metrics) { m.NotFound.Inc() })
		a.writeError(writer, http.StatusNotFound, fmt.Errorf("no entity %s", id))
		return
	}
	if err != nil {
		a.logger.Error("fetching entity", "entity", id, "error", err)
		a.writeError(writer, http.StatusInternalServerError, errors.New("internal error"))
		return
	}

	a.count(func(m *Metrics) { m.Fetches.Inc() })
	a.writeJSON(writer, http.StatusOK, entity)
}

func (a *API) handleListEntities(writer http.ResponseWriter, request *http.Request) {
	space, err := ref.ParseSpaceID(chi.URLParam(request, "space"))
	if err != nil {
		a.writeError(writer, http.StatusBadRequest, err)
		return
	}

	entities, err := a.store.List(request.Context(), space)
	if err != nil {
		a.logger.Error("listing entities", "space", space, "error", err)
		a.writeError(writer, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	if entities == nil {
		entities = []schema.Entity{}
	}

	a.count(func(m *Metrics) { m.Lists.Inc() })
	a.writeJSON(writer, http.StatusOK, entities)
}

// entityWrite is the request body for entity creation and update. The
// server owns IDs and freshness stamps, so neither is accepted here.
type entityWrite struct {
	Kind    schema.Kind     `json:"kind"`
	Space   ref.SpaceID     `json:"space"`
	Content json.RawMessage `json:"content"`
}

func (a *API) handlePutEntity(writer http.ResponseWriter, request *http.Request) {
	id, err := ref.ParseEntityID(chi.URLParam(request, "id"))
	if err != nil {
		a.writeError(writer, http.StatusBadRequest, err)
		return
	}
	a.upsertEntity(writer, request, id)
}

func (a *API) handleCreateEntity(writer http.ResponseWriter, request *http.Request) {
	a.upsertEntity(writer, request, ref.EntityID{})
}

// upsertEntity performs the durable-write-then-broadcast sequence. The
// write commits first; the envelope is best effort after it.
func (a *API) upsertEntity(writer http.ResponseWriter, request *http.Request, id ref.EntityID) {
	var body entityWrite
	if err := decodeJSON(request, &body); err != nil {
		a.writeError(writer, http.StatusBadRequest, err)
		return
	}
	if id.IsZero() {
		// POST create: the space comes from the URL.
		space, err := ref.ParseSpaceID(chi.URLParam(request, "space"))
		if err != nil {
			a.writeError(writer, http.StatusBadRequest, err)
			return
		}
		body.Space = space
	}

	entity, created, err := a.store.Upsert(request.Context(), schema.Entity{
		ID:      id,
		Kind:    body.Kind,
		Space:   body.Space,
		Content: body.Content,
	})
	if err != nil {
		a.writeError(writer, http.StatusBadRequest, err)
		return
	}

	a.count(func(m *Metrics) { m.Upserts.Inc() })
	a.broadcaster.Announce(entity, created, a.clock.Now())

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	a.writeJSON(writer, status, entity)
}

// tokenRequest asks for a join token. Authentication of the caller is
// out of scope here; production deployments put this endpoint behind
// the app's session layer.
type tokenRequest struct {
	Scope    ref.SpaceID       `json:"scope"`
	Identity ref.ParticipantID `json:"identity"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (a *API) handleToken(writer http.ResponseWriter, request *http.Request) {
	var body tokenRequest
	if err := decodeJSON(request, &body); err != nil {
		a.writeError(writer, http.StatusBadRequest, err)
		return
	}
	if body.Scope.IsZero() || body.Identity.IsZero() {
		a.writeError(writer, http.StatusBadRequest, errors.New("scope and identity are required"))
		return
	}

	token, err := a.tokens.Issue(body.Scope, body.Identity)
	if err != nil {
		a.logger.Error("issuing join token", "scope", body.Scope, "error", err)
		a.writeError(writer, http.StatusInternalServerError, errors.New("internal error"))
		return
	}

	a.count(func(m *Metrics) { m.TokensIssued.Inc() })
	a.writeJSON(writer, http.StatusOK, tokenResponse{Token: token})
}

// handleRoomJoin is the signaling endpoint: one CBOR round trip
// carrying the offer in and the answer out.
func (a *API) handleRoomJoin(writer http.ResponseWriter, request *http.Request) {
	scope, err := ref.ParseSpaceID(chi.URLParam(request, "scope"))
	if err != nil {
		a.writeError(writer, http.StatusBadRequest, err)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(request.Body, maxBodySize))
	if err != nil {
		a.writeError(writer, http.StatusBadRequest, err)
		return
	}
	var joinRequest transport.JoinRequest
	if err := codec.Unmarshal(raw, &joinRequest); err != nil {
		a.writeError(writer, http.StatusBadRequest, fmt.Errorf("decoding join request: %w", err))
		return
	}

	response, err := a.rooms.Join(request.Context(), scope, joinRequest)
	if err != nil {
		a.logger.Warn("room join failed", "scope", scope, "error", err)
		a.writeError(writer, http.StatusForbidden, errors.New("join rejected"))
		return
	}

	a.count(func(m *Metrics) { m.RoomJoins.Inc() })
	payload, err := codec.Marshal(response)
	if err != nil {
		a.logger.Error("encoding join response", "scope", scope, "error", err)
		a.writeError(writer, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	writer.Header().Set("Content-Type", "application/cbor")
	writer.Write(payload)
}

func (a *API) count(fn func(*Metrics)) {
	if a.metrics != nil {
		fn(a.metrics)
	}
}

func (a *API) writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(value); err != nil {
		a.logger.Error("writing response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeError(writer http.ResponseWriter, status int, err error) {
	a.writeJSON(writer, status, errorResponse{Error: err.Error()})
}

func decodeJSON(request *http.Request, value any) error {
	decoder := json.NewDecoder(io.LimitReader(request.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}
