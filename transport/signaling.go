// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/loomchat/loom/lib/codec"
	"github.com/loomchat/loom/lib/ref"
)

// JoinRequest is the signaling request a client sends to join a
// space's room: a join token and a complete SDP offer with all ICE
// candidates gathered (vanilla ICE, one round trip).
type JoinRequest struct {
	Token    string `cbor:"token"`
	OfferSDP string `cbor:"offer_sdp"`
}

// JoinResponse carries the server's complete SDP answer.
type JoinResponse struct {
	// ConnectionID identifies this membership for log correlation.
	ConnectionID string `cbor:"connection_id"`
	AnswerSDP    string `cbor:"answer_sdp"`
}

// rosterFrame is one CBOR message on the "roster" data channel: the
// full participant roster after a join or leave. Snapshots rather than
// deltas, so a lost frame heals on the next change.
type rosterFrame struct {
	Type         string              `cbor:"type"`
	Participants []ref.ParticipantID `cbor:"participants"`
}

// rosterFrameType is the Type value of a roster snapshot frame.
const rosterFrameType = "roster"

// Joiner performs the signaling round trip that turns an SDP offer
// into an answer. The production implementation is [HTTPJoiner];
// in-process tests hand the RoomServer itself to the binding.
type Joiner interface {
	Join(ctx context.Context, scope ref.SpaceID, request JoinRequest) (JoinResponse, error)
}

// HTTPJoiner signals through the sync service's join endpoint
// (POST {base}/v1/rooms/{scope}/join, CBOR request and response).
type HTTPJoiner struct {
	// BaseURL is the sync service base URL, without trailing slash.
	BaseURL string

	// Client is the HTTP client to use. Nil means
	// http.DefaultClient.
	Client *http.Client
}

// Join implements Joiner over HTTP.
func (j *HTTPJoiner) Join(ctx context.Context, scope ref.SpaceID, request JoinRequest) (JoinResponse, error) {
	body, err := codec.Marshal(request)
	if err != nil {
		return JoinResponse{}, fmt.Errorf("encoding join request: %w", err)
	}

	joinURL := j.BaseURL + "/v1/rooms/" + url.PathEscape(scope.String()) + "/join"
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL, bytes.NewReader(body))
	if err != nil {
		return JoinResponse{}, fmt.Errorf("building join request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/cbor")

	client := j.Client
	if client == nil {
		client = http.DefaultClient
	}
	httpResponse, err := client.Do(httpRequest)
	if err != nil {
		return JoinResponse{}, fmt.Errorf("signaling request: %w", err)
	}
	defer httpResponse.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResponse.Body, 1<<20))
	if err != nil {
		return JoinResponse{}, fmt.Errorf("reading join response: %w", err)
	}

	if httpResponse.StatusCode != http.StatusOK {
		return JoinResponse{}, fmt.Errorf("join rejected with status %d: %s",
			httpResponse.StatusCode, bytes.TrimSpace(payload))
	}

	var response JoinResponse
	if err := codec.Unmarshal(payload, &response); err != nil {
		return JoinResponse{}, fmt.Errorf("decoding join response: %w", err)
	}
	return response, nil
}
