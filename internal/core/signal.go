// Package core defines the seams between the engine's components: the
// signaling transport, the media device source and the error vocabulary.
// Adapters own the resources behind these interfaces and must close them.
package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/hiredeck/callkit/internal/domain"
)

// Frame is a raw signaling payload.
type Frame []byte

// SignalTransport is the persistent bidirectional connection to the
// signaling server. Incoming is closed when the transport drops; the
// transport never reconnects on its own.
type SignalTransport interface {
	Connect(ctx context.Context) error
	Send(Frame) error
	Incoming() <-chan Frame
	Close() error
}

// JoinAck is the server snapshot returned from a successful join.
type JoinAck struct {
	RoomID       domain.RoomID
	Name         domain.RoomName
	Settings     domain.RoomSettings
	Participants map[domain.ParticipantID]*domain.Participant
	ChatHistory  []domain.ChatMessage
}

// RoomInfo is the answer to a room query.
type RoomInfo struct {
	RoomID           domain.RoomID
	Name             domain.RoomName
	ParticipantCount int
	MaxParticipants  int
}

type SignalState string

const (
	SignalConnected    SignalState = "connected"
	SignalDisconnected SignalState = "disconnected"
)

// EventSink receives decoded server events in arrival order. Exactly one
// sink is registered per channel; the room session fans events out to its
// own subscribers.
type EventSink interface {
	OnParticipantJoined(*domain.Participant)
	OnParticipantLeft(domain.ParticipantID)
	OnOffer(sdp webrtc.SessionDescription, from domain.ParticipantID)
	OnAnswer(sdp webrtc.SessionDescription, from domain.ParticipantID)
	OnIceCandidate(cand webrtc.ICECandidateInit, from domain.ParticipantID)
	OnChatMessage(domain.ChatMessage)
	OnMediaToggle(id domain.ParticipantID, kind TrackKind, enabled bool)
	OnScreenShareToggle(id domain.ParticipantID, sharing bool)
	OnSignalStateChange(SignalState)
	OnSignalError(error)
}

// SignalRelay is the registry-facing slice of the signaling channel:
// point-to-point fire-and-forget relays addressed to one participant.
type SignalRelay interface {
	SendOffer(sdp webrtc.SessionDescription, to domain.ParticipantID) error
	SendAnswer(sdp webrtc.SessionDescription, to domain.ParticipantID) error
	SendIceCandidate(cand webrtc.ICECandidateInit, to domain.ParticipantID) error
}

// Signaler is the full client API over the signaling server. It has no
// WebRTC knowledge beyond carrying SDP and candidate payloads.
type Signaler interface {
	SignalRelay

	// Connect opens the transport and resolves once the server acknowledges
	// the connection with this client's participant id.
	Connect(ctx context.Context) error
	SelfID() domain.ParticipantID

	CreateRoom(ctx context.Context, name domain.RoomName, settings domain.RoomSettings, host *domain.Participant) (domain.RoomID, error)
	JoinRoom(ctx context.Context, id domain.RoomID, p *domain.Participant) (*JoinAck, error)
	RoomInfo(ctx context.Context, id domain.RoomID) (*RoomInfo, error)

	SendChatMessage(text string) error
	NotifyAudioToggle(enabled bool) error
	NotifyVideoToggle(enabled bool) error
	NotifyScreenShare(sharing bool) error

	// LeaveRoom is best-effort notify; it does not wait for an ack.
	LeaveRoom() error

	SetSink(EventSink)
	Close() error
}
