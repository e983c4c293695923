// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is the HTTP client for the sync service: entity
// fetches and writes against the REST surface, and join token
// acquisition for the room transport.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/schema"
)

// maxResponseSize caps response bodies read from the service.
const maxResponseSize = 8 << 20

// NotFoundError reports a fetch for an entity the server has no row
// for. It is a definitive answer, distinct from transient transport or
// server failures.
type NotFoundError struct {
	ID ref.EntityID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("entity %s not found", e.ID)
}

// Remote talks to one sync service instance.
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote creates a Remote for the service at baseURL. httpClient
// may be nil for a default client with a 30 second timeout.
func NewRemote(baseURL string, httpClient *http.Client) *Remote {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Remote{baseURL: baseURL, client: httpClient}
}

// Fetch returns the entity with the given ID. A server 404 yields a
// [*NotFoundError]; any other failure is transient from the caller's
// point of view.
func (r *Remote) Fetch(ctx context.Context, id ref.EntityID) (schema.Entity, error) {
	var entity schema.Entity
	err := r.getJSON(ctx, "/v1/entities/"+url.PathEscape(id.String()), &entity)
	if err != nil {
		var httpErr *httpError
		if errors.As(err, &httpErr) && httpErr.status == http.StatusNotFound {
			return schema.Entity{}, &NotFoundError{ID: id}
		}
		return schema.Entity{}, fmt.Errorf("fetching entity %s: %w", id, err)
	}
	return entity, nil
}

// FetchAll returns every entity in the given space.
func (r *Remote) FetchAll(ctx context.Context, space ref.SpaceID) ([]schema.Entity, error) {
	var entities []schema.Entity
	path := "/v1/spaces/" + url.PathEscape(space.String()) + "/entities"
	if err := r.getJSON(ctx, path, &entities); err != nil {
		return nil, fmt.Errorf("fetching entities in %s: %w", space, err)
	}
	return entities, nil
}

// entityWrite mirrors the server's write body.
type entityWrite struct {
	Kind    schema.Kind     `json:"kind"`
	Space   ref.SpaceID     `json:"space"`
	Content json.RawMessage `json:"content"`
}

// Upsert writes the entity under its ID and returns the stored form,
// with the server-assigned freshness stamp.
func (r *Remote) Upsert(ctx context.Context, entity schema.Entity) (schema.Entity, error) {
	if entity.ID.IsZero() {
		return schema.Entity{}, fmt.Errorf("upserting entity: zero ID")
	}
	body, err := json.Marshal(entityWrite{
		Kind:    entity.Kind,
		Space:   entity.Space,
		Content: entity.Content,
	})
	if err != nil {
		return schema.Entity{}, fmt.Errorf("encoding entity %s: %w", entity.ID, err)
	}

	path := "/v1/entities/" + url.PathEscape(entity.ID.String())
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return schema.Entity{}, fmt.Errorf("upserting entity %s: %w", entity.ID, err)
	}
	request.Header.Set("Content-Type", "application/json")

	var stored schema.Entity
	if err := r.doJSON(request, &stored); err != nil {
		return schema.Entity{}, fmt.Errorf("upserting entity %s: %w", entity.ID, err)
	}
	return stored, nil
}

// Create writes a new entity into space, letting the server mint its
// ID, and returns the stored form.
func (r *Remote) Create(ctx context.Context, space ref.SpaceID, kind schema.Kind, content json.RawMessage) (schema.Entity, error) {
	body, err := json.Marshal(entityWrite{Kind: kind, Content: content})
	if err != nil {
		return schema.Entity{}, fmt.Errorf("encoding new entity: %w", err)
	}

	path := "/v1/spaces/" + url.PathEscape(space.String()) + "/entities"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return schema.Entity{}, fmt.Errorf("creating entity: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	var stored schema.Entity
	if err := r.doJSON(request, &stored); err != nil {
		return schema.Entity{}, fmt.Errorf("creating entity in %s: %w", space, err)
	}
	return stored, nil
}

// TokenSource obtains join tokens from the service's token endpoint,
// satisfying [transport.TokenSource]. The identity the tokens are
// minted for is fixed at construction.
type TokenSource struct {
	remote   *Remote
	identity ref.ParticipantID
}

// NewTokenSource creates a TokenSource minting tokens for identity
// through the service's token endpoint.
func NewTokenSource(remote *Remote, identity ref.ParticipantID) *TokenSource {
	return &TokenSource{remote: remote, identity: identity}
}

// Credentials requests a join token for scope.
func (s *TokenSource) Credentials(ctx context.Context, scope ref.SpaceID) (string, error) {
	body, err := json.Marshal(map[string]string{
		"scope":    scope.String(),
		"identity": s.identity.String(),
	})
	if err != nil {
		return "", fmt.Errorf("encoding token request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.remote.baseURL+"/v1/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("requesting join token: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	var response struct {
		Token string `json:"token"`
	}
	if err := s.remote.doJSON(request, &response); err != nil {
		return "", fmt.Errorf("requesting join token for %s: %w", scope, err)
	}
	return response.Token, nil
}

// httpError carries a non-2xx status with the server's error body.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.status, e.body)
}

func (r *Remote) getJSON(ctx context.Context, path string, value any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return err
	}
	return r.doJSON(request, value)
}

func (r *Remote) doJSON(request *http.Request, value any) error {
	response, err := r.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return err
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return &httpError{status: response.StatusCode, body: errorBody(raw)}
	}
	if err := json.Unmarshal(raw, value); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorBody extracts the service's error message, falling back to the
// raw body when it is not the expected JSON shape.
func errorBody(raw []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return string(raw)
}
