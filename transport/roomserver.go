// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/loomchat/loom/lib/codec"
	"github.com/loomchat/loom/lib/jointoken"
	"github.com/loomchat/loom/lib/ref"
)

// Compile-time interface checks.
var (
	_ Publisher = (*RoomServer)(nil)
	_ Joiner    = (*RoomServer)(nil)
)

// iceGatherTimeout is the maximum time to wait for ICE candidate
// gathering to complete before the SDP answer is considered failed.
const iceGatherTimeout = 15 * time.Second

// RoomServerConfig holds the parameters for creating a RoomServer.
type RoomServerConfig struct {
	// Tokens verifies join tokens. Required.
	Tokens *jointoken.Issuer

	// STUNServers lists STUN URLs for ICE gathering. Empty means
	// host candidates only.
	STUNServers []string

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger
}

// RoomServer is the production realtime channel: one room per space,
// one WebRTC PeerConnection per member, ordered data channels "sync"
// (change envelopes) and "roster" (presence snapshots). It implements
// Publisher for the broadcaster and Joiner for signaling.
//
// Joins use a single signaling round trip: the client's request
// carries a complete SDP offer, the response carries the complete
// answer (vanilla ICE). The join token binds the membership to a
// verified participant identity, which is what the presence roster
// reports.
type RoomServer struct {
	tokens *jointoken.Issuer
	logger *slog.Logger
	ice    []webrtc.ICEServer

	mu    sync.Mutex
	rooms map[ref.SpaceID]map[string]*roomMember
}

// roomMember is one established membership: a PeerConnection and the
// two inbound data channels the client opened on it. Channel fields
// are nil until the client's channels arrive via OnDataChannel.
type roomMember struct {
	connectionID string
	identity     ref.ParticipantID
	connection   *webrtc.PeerConnection

	mu            sync.Mutex
	syncChannel   *webrtc.DataChannel
	rosterChannel *webrtc.DataChannel
}

// NewRoomServer creates a RoomServer.
func NewRoomServer(config RoomServerConfig) (*RoomServer, error) {
	if config.Tokens == nil {
		return nil, fmt.Errorf("transport: RoomServerConfig.Tokens is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var ice []webrtc.ICEServer
	if len(config.STUNServers) > 0 {
		ice = []webrtc.ICEServer{{URLs: config.STUNServers}}
	}

	return &RoomServer{
		tokens: config.Tokens,
		logger: logger,
		ice:    ice,
		rooms:  make(map[ref.SpaceID]map[string]*roomMember),
	}, nil
}

// Join verifies the token, answers the SDP offer, and registers the
// new membership in scope's room. The first roster push to the new
// member happens once its roster channel opens.
func (s *RoomServer) Join(ctx context.Context, scope ref.SpaceID, request JoinRequest) (JoinResponse, error) {
	identity, err := s.tokens.Verify(request.Token, scope)
	if err != nil {
		return JoinResponse{}, fmt.Errorf("verifying join token: %w", err)
	}

	connection, err := s.newPeerConnection()
	if err != nil {
		return JoinResponse{}, fmt.Errorf("creating PeerConnection: %w", err)
	}

	member := &roomMember{
		connectionID: uuid.NewString(),
		identity:     identity,
		connection:   connection,
	}

	connection.OnDataChannel(func(channel *webrtc.DataChannel) {
		s.handleMemberChannel(scope, member, channel)
	})
	connection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.handleMemberICEState(scope, member, state)
	})

	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  request.OfferSDP,
	}
	if err := connection.SetRemoteDescription(offer); err != nil {
		connection.Close()
		return JoinResponse{}, fmt.Errorf("setting remote description: %w", err)
	}

	answer, err := connection.CreateAnswer(nil)
	if err != nil {
		connection.Close()
		return JoinResponse{}, fmt.Errorf("creating SDP answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(connection)
	if err := connection.SetLocalDescription(answer); err != nil {
		connection.Close()
		return JoinResponse{}, fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		connection.Close()
		return JoinResponse{}, fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		connection.Close()
		return JoinResponse{}, ctx.Err()
	}

	s.mu.Lock()
	if s.rooms[scope] == nil {
		s.rooms[scope] = make(map[string]*roomMember)
	}
	s.rooms[scope][member.connectionID] = member
	s.mu.Unlock()

	s.logger.Info("room join answered",
		"scope", scope,
		"identity", identity,
		"connection_id", member.connectionID,
	)

	return JoinResponse{
		ConnectionID: member.connectionID,
		AnswerSDP:    connection.LocalDescription().SDP,
	}, nil
}

// Publish sends payload on the "sync" channel of every member of
// scope's room. Delivery is best-effort: per-member send failures are
// logged and skipped, never propagated: a slow or closing member
// must not fail the broadcast for the rest of the room.
func (s *RoomServer) Publish(scope ref.SpaceID, payload []byte) error {
	if scope.IsZero() {
		return fmt.Errorf("transport: publish to zero scope")
	}

	for _, member := range s.members(scope) {
		if err := member.sendSync(payload); err != nil {
			s.logger.Warn("sync publish to member failed",
				"scope", scope,
				"identity", member.identity,
				"connection_id", member.connectionID,
				"error", err,
			)
		}
	}
	return nil
}

// Participants returns the deduplicated roster of scope's room.
func (s *RoomServer) Participants(scope ref.SpaceID) []ref.ParticipantID {
	return dedupeRoster(s.members(scope))
}

// Close tears down every room and PeerConnection.
func (s *RoomServer) Close() error {
	s.mu.Lock()
	var all []*roomMember
	for _, room := range s.rooms {
		for _, member := range room {
			all = append(all, member)
		}
	}
	s.rooms = make(map[ref.SpaceID]map[string]*roomMember)
	s.mu.Unlock()

	for _, member := range all {
		member.connection.Close()
	}
	return nil
}

// members snapshots scope's membership under the lock.
func (s *RoomServer) members(scope ref.SpaceID) []*roomMember {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]*roomMember, 0, len(s.rooms[scope]))
	for _, member := range s.rooms[scope] {
		members = append(members, member)
	}
	return members
}

// handleMemberChannel captures the client-opened data channels by
// label. When the roster channel opens, the whole room gets a fresh
// roster push so the new member starts with a complete snapshot.
func (s *RoomServer) handleMemberChannel(scope ref.SpaceID, member *roomMember, channel *webrtc.DataChannel) {
	switch channel.Label() {
	case "sync":
		member.mu.Lock()
		member.syncChannel = channel
		member.mu.Unlock()
	case "roster":
		member.mu.Lock()
		member.rosterChannel = channel
		member.mu.Unlock()
		channel.OnOpen(func() {
			s.broadcastRoster(scope)
		})
	default:
		s.logger.Debug("ignoring unexpected data channel",
			"scope", scope,
			"label", channel.Label(),
			"connection_id", member.connectionID,
		)
	}
}

// handleMemberICEState removes members whose connection failed or
// closed and pushes the shrunken roster to the survivors.
func (s *RoomServer) handleMemberICEState(scope ref.SpaceID, member *roomMember, state webrtc.ICEConnectionState) {
	switch state {
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		s.mu.Lock()
		current, present := s.rooms[scope][member.connectionID]
		if present && current == member {
			delete(s.rooms[scope], member.connectionID)
			if len(s.rooms[scope]) == 0 {
				delete(s.rooms, scope)
			}
		}
		s.mu.Unlock()

		if present {
			member.connection.Close()
			s.logger.Info("room member disconnected",
				"scope", scope,
				"identity", member.identity,
				"connection_id", member.connectionID,
				"ice_state", state.String(),
			)
			s.broadcastRoster(scope)
		}
	}
}

// broadcastRoster pushes the current roster snapshot to every member
// of scope's room on the "roster" channel.
func (s *RoomServer) broadcastRoster(scope ref.SpaceID) {
	members := s.members(scope)
	frame, err := codec.Marshal(rosterFrame{
		Type:         rosterFrameType,
		Participants: dedupeRoster(members),
	})
	if err != nil {
		s.logger.Error("encoding roster frame failed", "scope", scope, "error", err)
		return
	}

	for _, member := range members {
		if err := member.sendRoster(frame); err != nil {
			s.logger.Debug("roster push to member failed",
				"scope", scope,
				"connection_id", member.connectionID,
				"error", err,
			)
		}
	}
}

// newPeerConnection creates a pion PeerConnection with the configured
// ICE servers. Loopback candidates are enabled so same-machine and
// test deployments work without STUN.
func (s *RoomServer) newPeerConnection() (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: s.ice})
}

func (m *roomMember) sendSync(payload []byte) error {
	m.mu.Lock()
	channel := m.syncChannel
	m.mu.Unlock()
	return sendOnOpenChannel(channel, payload)
}

func (m *roomMember) sendRoster(payload []byte) error {
	m.mu.Lock()
	channel := m.rosterChannel
	m.mu.Unlock()
	return sendOnOpenChannel(channel, payload)
}

func sendOnOpenChannel(channel *webrtc.DataChannel, payload []byte) error {
	if channel == nil {
		return fmt.Errorf("data channel not yet established")
	}
	if channel.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("data channel state %s", channel.ReadyState())
	}
	return channel.Send(payload)
}

func dedupeRoster(members []*roomMember) []ref.ParticipantID {
	seen := make(map[ref.ParticipantID]struct{})
	roster := make([]ref.ParticipantID, 0, len(members))
	for _, member := range members {
		if _, dup := seen[member.identity]; dup {
			continue
		}
		seen[member.identity] = struct{}{}
		roster = append(roster, member.identity)
	}
	return roster
}
