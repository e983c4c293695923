// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/loomchat/loom/lib/codec"
	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/schema"
)

// Compile-time interface check.
var _ Binding = (*WebRTCBinding)(nil)

// channelOpenTimeout is the maximum time to wait for the "sync" data
// channel to open after the SDP answer is applied.
const channelOpenTimeout = 10 * time.Second

// WebRTCBindingConfig holds the parameters for creating a
// WebRTCBinding.
type WebRTCBindingConfig struct {
	// Tokens obtains join credentials per scope. Required.
	Tokens TokenSource

	// Joiner performs the signaling round trip. Required. Production
	// uses an HTTPJoiner against the sync service; in-process setups
	// pass the RoomServer directly.
	Joiner Joiner

	// STUNServers lists STUN URLs for ICE gathering. Empty means
	// host candidates only.
	STUNServers []string

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger
}

// WebRTCBinding is the production client Binding: one PeerConnection
// to the room server per connected scope, with ordered "sync" and
// "roster" data channels opened by this side.
type WebRTCBinding struct {
	tokens TokenSource
	joiner Joiner
	logger *slog.Logger
	ice    []webrtc.ICEServer
	fanout *fanout

	mu         sync.Mutex
	scope      ref.SpaceID
	connection *webrtc.PeerConnection
	connected  bool
	roster     []ref.ParticipantID
}

// NewWebRTCBinding creates a WebRTCBinding.
func NewWebRTCBinding(config WebRTCBindingConfig) (*WebRTCBinding, error) {
	if config.Tokens == nil {
		return nil, fmt.Errorf("transport: WebRTCBindingConfig.Tokens is required")
	}
	if config.Joiner == nil {
		return nil, fmt.Errorf("transport: WebRTCBindingConfig.Joiner is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var ice []webrtc.ICEServer
	if len(config.STUNServers) > 0 {
		ice = []webrtc.ICEServer{{URLs: config.STUNServers}}
	}

	return &WebRTCBinding{
		tokens: config.Tokens,
		joiner: config.Joiner,
		logger: logger,
		ice:    ice,
		fanout: newFanout(logger),
	}, nil
}

// Connect joins the room for scope. See [Binding.Connect] for the
// idempotence and teardown contract. The join is one signaling round
// trip: gather all ICE candidates, send the complete offer with the
// join token, apply the returned answer, wait for the sync channel.
func (b *WebRTCBinding) Connect(ctx context.Context, scope ref.SpaceID) error {
	if scope.IsZero() {
		return &ConnectionError{Scope: scope, Reason: "zero scope"}
	}

	b.mu.Lock()
	if b.scope == scope && b.connected {
		b.mu.Unlock()
		return nil
	}
	hasPrevious := b.connection != nil
	b.mu.Unlock()

	// Sequential teardown before the new join: a dangling
	// subscription to the old room must not outlive the scope switch.
	if hasPrevious {
		b.Disconnect()
	}

	token, err := b.tokens.Credentials(ctx, scope)
	if err != nil {
		return &ConnectionError{Scope: scope, Reason: "obtaining join token", Err: err}
	}

	connection, err := b.newPeerConnection()
	if err != nil {
		return &ConnectionError{Scope: scope, Reason: "creating PeerConnection", Err: err}
	}

	// Register the pending connection so inbound roster frames have a
	// home and Disconnect can abort a half-built connect.
	b.mu.Lock()
	b.scope = scope
	b.connection = connection
	b.connected = false
	b.mu.Unlock()

	if err := b.establish(ctx, scope, connection, token); err != nil {
		b.teardown(connection)
		return err
	}

	b.mu.Lock()
	if b.connection != connection {
		// A concurrent Disconnect won the race; the connection we
		// just built is already obsolete.
		b.mu.Unlock()
		connection.Close()
		return &ConnectionError{Scope: scope, Reason: "connection torn down during establishment"}
	}
	b.connected = true
	b.mu.Unlock()

	b.logger.Info("room connection established", "scope", scope)
	return nil
}

// establish runs the data channel setup and signaling round trip.
func (b *WebRTCBinding) establish(ctx context.Context, scope ref.SpaceID, connection *webrtc.PeerConnection, token string) error {
	ordered := true

	syncChannel, err := connection.CreateDataChannel("sync", &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return &ConnectionError{Scope: scope, Reason: "creating sync channel", Err: err}
	}
	rosterChannel, err := connection.CreateDataChannel("roster", &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return &ConnectionError{Scope: scope, Reason: "creating roster channel", Err: err}
	}

	syncChannel.OnMessage(func(message webrtc.DataChannelMessage) {
		b.fanout.deliverRaw(message.Data)
	})
	rosterChannel.OnMessage(func(message webrtc.DataChannelMessage) {
		b.handleRosterFrame(connection, message.Data)
	})

	syncOpen := make(chan struct{})
	syncChannel.OnOpen(func() { close(syncOpen) })

	connection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		b.handleICEState(connection, scope, state)
	})

	offer, err := connection.CreateOffer(nil)
	if err != nil {
		return &ConnectionError{Scope: scope, Reason: "creating SDP offer", Err: err}
	}

	gatherComplete := webrtc.GatheringCompletePromise(connection)
	if err := connection.SetLocalDescription(offer); err != nil {
		return &ConnectionError{Scope: scope, Reason: "setting local description", Err: err}
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return &ConnectionError{Scope: scope, Reason: fmt.Sprintf("ICE gathering timed out after %s", iceGatherTimeout)}
	case <-ctx.Done():
		return &ConnectionError{Scope: scope, Reason: "ICE gathering", Err: ctx.Err()}
	}

	response, err := b.joiner.Join(ctx, scope, JoinRequest{
		Token:    token,
		OfferSDP: connection.LocalDescription().SDP,
	})
	if err != nil {
		return &ConnectionError{Scope: scope, Reason: "signaling join", Err: err}
	}

	answer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  response.AnswerSDP,
	}
	if err := connection.SetRemoteDescription(answer); err != nil {
		return &ConnectionError{Scope: scope, Reason: "setting remote description", Err: err}
	}

	select {
	case <-syncOpen:
	case <-time.After(channelOpenTimeout):
		return &ConnectionError{Scope: scope, Reason: fmt.Sprintf("sync channel did not open within %s", channelOpenTimeout)}
	case <-ctx.Done():
		return &ConnectionError{Scope: scope, Reason: "waiting for sync channel", Err: ctx.Err()}
	}
	return nil
}

// Disconnect tears down the current connection, if any. Never fails.
func (b *WebRTCBinding) Disconnect() {
	b.mu.Lock()
	connection := b.connection
	b.scope = ref.SpaceID{}
	b.connection = nil
	b.connected = false
	b.roster = nil
	b.mu.Unlock()

	if connection != nil {
		connection.Close()
	}
}

// Subscribe registers an envelope listener. See [Binding.Subscribe].
func (b *WebRTCBinding) Subscribe(fn func(schema.Envelope)) (cancel func()) {
	return b.fanout.subscribe(fn)
}

// OnRoster registers a roster listener. See [Binding.OnRoster].
func (b *WebRTCBinding) OnRoster(fn func([]ref.ParticipantID)) (cancel func()) {
	return b.fanout.onRoster(fn)
}

// Connected reports whether the binding holds a live room connection.
func (b *WebRTCBinding) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Scope returns the connected room's scope, or the zero SpaceID.
func (b *WebRTCBinding) Scope() ref.SpaceID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scope
}

// Participants returns the last roster pushed by the room server.
func (b *WebRTCBinding) Participants() []ref.ParticipantID {
	b.mu.Lock()
	defer b.mu.Unlock()
	roster := make([]ref.ParticipantID, len(b.roster))
	copy(roster, b.roster)
	return roster
}

// handleRosterFrame decodes a roster snapshot. connection guards
// against stale frames from a torn-down PeerConnection racing a new
// connect.
func (b *WebRTCBinding) handleRosterFrame(connection *webrtc.PeerConnection, raw []byte) {
	var frame rosterFrame
	if err := codec.Unmarshal(raw, &frame); err != nil {
		b.logger.Warn("dropping malformed roster frame", "error", err)
		return
	}
	if frame.Type != rosterFrameType {
		b.logger.Debug("skipping roster frame of unknown type", "type", frame.Type)
		return
	}

	b.mu.Lock()
	if b.connection != connection {
		b.mu.Unlock()
		return
	}
	b.roster = frame.Participants
	b.mu.Unlock()

	b.fanout.deliverRoster(frame.Participants)
}

// handleICEState marks the binding disconnected when its current
// PeerConnection fails or closes. No automatic reconnect: the caller
// observes Connected() and decides.
func (b *WebRTCBinding) handleICEState(connection *webrtc.PeerConnection, scope ref.SpaceID, state webrtc.ICEConnectionState) {
	switch state {
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		b.mu.Lock()
		current := b.connection == connection
		if current {
			b.connected = false
			b.roster = nil
		}
		b.mu.Unlock()

		if current {
			b.logger.Warn("room connection lost",
				"scope", scope,
				"ice_state", state.String(),
			)
		}
	}
}

// teardown aborts a half-built connection, clearing the binding state
// only if it still points at this connection.
func (b *WebRTCBinding) teardown(connection *webrtc.PeerConnection) {
	b.mu.Lock()
	if b.connection == connection {
		b.scope = ref.SpaceID{}
		b.connection = nil
		b.connected = false
		b.roster = nil
	}
	b.mu.Unlock()
	connection.Close()
}

// newPeerConnection creates a pion PeerConnection with the configured
// ICE servers. Loopback candidates are enabled so same-machine and
// test deployments work without STUN.
func (b *WebRTCBinding) newPeerConnection() (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: b.ice})
}
