// Package session holds the room session orchestrator: one instance per
// call, tying the signaling channel, the local media manager and the peer
// link registry together behind a single UI-facing API.
package session

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hiredeck/callkit/internal/config"
	"github.com/hiredeck/callkit/internal/core"
	"github.com/hiredeck/callkit/internal/domain"
	"github.com/hiredeck/callkit/internal/media"
	"github.com/hiredeck/callkit/internal/rtc"
)

type sessionState int

const (
	stateCreated sessionState = iota
	stateJoining
	stateJoined
	stateLeft
)

// ParticipantInfo is the caller's identity when joining or creating a room.
type ParticipantInfo struct {
	Name   string
	Avatar string
	Role   string
}

// RoomSession is one attempt to participate in one room. Its lifecycle is
// created, joined, left; left is terminal, a failed Join also ends in left.
// Retrying a call means building a fresh session.
type RoomSession struct {
	cfg    *config.Config
	signal core.Signaler
	media  *media.Manager
	links  *rtc.Registry
	events *emitter

	mu     sync.Mutex
	state  sessionState
	room   *domain.Room
	selfID domain.ParticipantID
	isHost bool
}

// New wires a session from its three components. The registry doubles as
// the track swapper behind the media manager, so a screen share swap reaches
// every live link.
func New(cfg *config.Config, signaler core.Signaler, devices core.MediaDevices) (*RoomSession, error) {
	s := &RoomSession{
		cfg:    cfg,
		signal: signaler,
		events: newEmitter(),
	}

	retry := rtc.RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, Backoff: cfg.Retry.Backoff}
	links, err := rtc.NewRegistry(cfg.WebRTCConfiguration(), retry, devices, signaler, s.localTracks)
	if err != nil {
		return nil, err
	}
	s.links = links
	s.media = media.NewManager(devices, links)

	links.OnRemoteStream(s.events.remoteStream)
	links.OnStateChange(s.events.connectionState)
	links.OnError(s.events.emitError)
	signaler.SetSink(s)

	return s, nil
}

// Subscribe registers a set of event hooks and returns the function that
// removes them again.
func (s *RoomSession) Subscribe(h Hooks) func() {
	return s.events.subscribe(h)
}

func (s *RoomSession) localTracks() []core.MediaTrack {
	if st := s.media.Stream(); st != nil {
		return st.Tracks()
	}
	return nil
}

// Join connects to the signaling server, creates the room when roomID is
// empty or joins the existing one, then starts local capture and prepares a
// peer link per already-present participant. Any failure tears the session
// down and leaves it in the terminal state.
func (s *RoomSession) Join(ctx context.Context, roomID domain.RoomID, info ParticipantInfo) error {
	s.mu.Lock()
	if s.state != stateCreated {
		s.mu.Unlock()
		return core.ErrSessionClosed
	}
	s.state = stateJoining
	s.mu.Unlock()

	if err := s.join(ctx, roomID, info); err != nil {
		s.teardown()
		return err
	}

	// Leave may have run while join was in flight; the session is torn down
	// then and must not come back as joined.
	if err := s.completeJoin(); err != nil {
		s.teardown()
		return err
	}
	return nil
}

// completeJoin moves the session to joined, unless something else already
// moved it out of the joining phase.
func (s *RoomSession) completeJoin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateJoining {
		return core.ErrSessionClosed
	}
	s.state = stateJoined
	return nil
}

func (s *RoomSession) join(ctx context.Context, roomID domain.RoomID, info ParticipantInfo) error {
	self, err := domain.NewParticipant(info.Name, info.Avatar, info.Role)
	if err != nil {
		return err
	}

	joinCtx, cancel := context.WithTimeout(ctx, s.cfg.JoinTimeout)
	defer cancel()

	if err := s.signal.Connect(joinCtx); err != nil {
		return err
	}
	self.ID = s.signal.SelfID()

	var room *domain.Room
	if roomID == "" {
		self.IsHost = true
		settings := domain.DefaultRoomSettings()
		id, err := s.signal.CreateRoom(joinCtx, domain.RoomName(info.Name+"'s room"), settings, self)
		if err != nil {
			return err
		}
		room = domain.NewRoom(id, domain.RoomName(info.Name+"'s room"), settings)
		room.Participants[self.ID] = self
		s.mu.Lock()
		s.isHost = true
		s.mu.Unlock()
	} else {
		ack, err := s.signal.JoinRoom(joinCtx, roomID, self)
		if err != nil {
			return err
		}
		room = domain.NewRoom(ack.RoomID, ack.Name, ack.Settings)
		for id, p := range ack.Participants {
			room.Participants[id] = p
		}
		for _, msg := range ack.ChatHistory {
			s.events.chatMessage(msg)
		}
	}

	s.mu.Lock()
	s.room = room
	s.selfID = self.ID
	s.mu.Unlock()

	mediaCtx, cancelMedia := context.WithTimeout(ctx, s.cfg.MediaStartTimeout)
	defer cancelMedia()
	if _, err := s.media.StartLocalStream(mediaCtx, s.cfg.StreamConstraints()); err != nil {
		return err
	}

	// Everyone already in the room will send us an offer; open a responder
	// link per snapshot entry so early candidates have a home.
	for id := range room.Participants {
		if id == self.ID {
			continue
		}
		if _, err := s.links.CreateLink(id, rtc.RoleResponder); err != nil {
			return err
		}
	}

	log.Info().
		Str("module", "session").
		Str("room", string(room.ID)).
		Str("self", string(self.ID)).
		Bool("host", self.IsHost).
		Msg("joined room")
	return nil
}

// Leave ends the call. It is idempotent and safe to invoke mid-join.
func (s *RoomSession) Leave() error {
	s.mu.Lock()
	if s.state == stateLeft {
		s.mu.Unlock()
		return nil
	}
	s.state = stateLeft
	s.mu.Unlock()

	_ = s.signal.LeaveRoom()
	s.teardown()
	log.Info().Str("module", "session").Msg("left room")
	return nil
}

func (s *RoomSession) teardown() {
	s.links.CloseAll()
	s.media.Release()
	_ = s.signal.Close()

	s.mu.Lock()
	s.state = stateLeft
	if s.room != nil {
		s.room.Participants = make(map[domain.ParticipantID]*domain.Participant)
	}
	s.mu.Unlock()
}

// SendChatMessage relays a chat line to the room.
func (s *RoomSession) SendChatMessage(text string) error {
	if !s.joined() {
		return core.ErrNotConnected
	}
	return s.signal.SendChatMessage(text)
}

// SetAudioEnabled toggles the local microphone track and reports the
// effective state to the room and to subscribers.
func (s *RoomSession) SetAudioEnabled(enabled bool) (bool, error) {
	res, err := s.media.ToggleAudio(enabled)
	if err != nil {
		return false, err
	}
	s.setSelfFlag(func(p *domain.Participant) { p.AudioEnabled = res })
	if err := s.signal.NotifyAudioToggle(res); err != nil {
		return res, err
	}
	s.events.mediaState(s.SelfID(), core.TrackAudio, res)
	return res, nil
}

// SetVideoEnabled toggles the local camera track and reports the effective
// state to the room and to subscribers.
func (s *RoomSession) SetVideoEnabled(enabled bool) (bool, error) {
	res, err := s.media.ToggleVideo(enabled)
	if err != nil {
		return false, err
	}
	s.setSelfFlag(func(p *domain.Participant) { p.VideoEnabled = res })
	if err := s.signal.NotifyVideoToggle(res); err != nil {
		return res, err
	}
	s.events.mediaState(s.SelfID(), core.TrackVideo, res)
	return res, nil
}

// SetScreenSharing starts or stops the display capture, swapping the
// outbound video track in place on every link.
func (s *RoomSession) SetScreenSharing(ctx context.Context, sharing bool) error {
	if !s.joined() {
		return core.ErrNotConnected
	}
	if sharing {
		if _, err := s.media.StartScreenShare(ctx); err != nil {
			return err
		}
	} else {
		if err := s.media.StopScreenShare(); err != nil {
			return err
		}
	}
	effective := s.media.ScreenSharing()
	s.setSelfFlag(func(p *domain.Participant) { p.ScreenSharing = effective })
	if err := s.signal.NotifyScreenShare(effective); err != nil {
		return err
	}
	s.events.screenShare(s.SelfID(), effective)
	return nil
}

// ScreenSharing reports whether the display capture is live.
func (s *RoomSession) ScreenSharing() bool { return s.media.ScreenSharing() }

func (s *RoomSession) SelfID() domain.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// Participants returns a snapshot of the current roster, the local
// participant included.
func (s *RoomSession) Participants() []*domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return nil
	}
	out := make([]*domain.Participant, 0, len(s.room.Participants))
	for _, p := range s.room.Participants {
		out = append(out, p)
	}
	return out
}

// Room returns the joined room, nil before a successful join.
func (s *RoomSession) Room() *domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// RoomInfo queries the server for a room without joining it.
func (s *RoomSession) RoomInfo(ctx context.Context, id domain.RoomID) (*core.RoomInfo, error) {
	return s.signal.RoomInfo(ctx, id)
}

// ConnectionStats returns the raw WebRTC stats report for one peer link.
func (s *RoomSession) ConnectionStats(pid domain.ParticipantID) (webrtc.StatsReport, error) {
	return s.links.Stats(pid)
}

func (s *RoomSession) joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateJoined
}

func (s *RoomSession) setSelfFlag(fn func(*domain.Participant)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return
	}
	if p, ok := s.room.Participants[s.selfID]; ok {
		fn(p)
	}
}

// EventSink implementation. The signaling channel delivers events here in
// arrival order; each handler updates the roster and fans out.

func (s *RoomSession) OnParticipantJoined(p *domain.Participant) {
	s.mu.Lock()
	if s.state == stateLeft || s.room == nil {
		s.mu.Unlock()
		return
	}
	s.room.Participants[p.ID] = p
	host := s.isHost
	s.mu.Unlock()

	// The host offers toward every newcomer; guests answer the offers the
	// host relays, so the link set always mirrors the roster.
	role := rtc.RoleResponder
	if host {
		role = rtc.RoleInitiator
	}
	if _, err := s.links.CreateLink(p.ID, role); err != nil {
		s.events.emitError(&core.PeerConnectionError{ParticipantID: p.ID, Err: err})
	}
	s.events.participantJoined(p)
}

func (s *RoomSession) OnParticipantLeft(id domain.ParticipantID) {
	s.mu.Lock()
	if s.room != nil {
		delete(s.room.Participants, id)
	}
	s.mu.Unlock()

	s.links.CloseLink(id)
	s.events.participantLeft(id)
}

func (s *RoomSession) OnOffer(sdp webrtc.SessionDescription, from domain.ParticipantID) {
	if err := s.links.HandleOffer(sdp, from); err != nil {
		s.events.emitError(&core.PeerConnectionError{ParticipantID: from, Err: err})
	}
}

func (s *RoomSession) OnAnswer(sdp webrtc.SessionDescription, from domain.ParticipantID) {
	if err := s.links.HandleAnswer(sdp, from); err != nil {
		s.events.emitError(&core.PeerConnectionError{ParticipantID: from, Err: err})
	}
}

func (s *RoomSession) OnIceCandidate(cand webrtc.ICECandidateInit, from domain.ParticipantID) {
	if err := s.links.HandleIceCandidate(cand, from); err != nil {
		s.events.emitError(&core.PeerConnectionError{ParticipantID: from, Err: err})
	}
}

func (s *RoomSession) OnChatMessage(msg domain.ChatMessage) {
	s.events.chatMessage(msg)
}

func (s *RoomSession) OnMediaToggle(id domain.ParticipantID, kind core.TrackKind, enabled bool) {
	s.mu.Lock()
	if s.room != nil {
		if p, ok := s.room.Participants[id]; ok {
			switch kind {
			case core.TrackAudio:
				p.AudioEnabled = enabled
			case core.TrackVideo:
				p.VideoEnabled = enabled
			}
		}
	}
	s.mu.Unlock()
	s.events.mediaState(id, kind, enabled)
}

func (s *RoomSession) OnScreenShareToggle(id domain.ParticipantID, sharing bool) {
	s.mu.Lock()
	if s.room != nil {
		if p, ok := s.room.Participants[id]; ok {
			p.ScreenSharing = sharing
		}
	}
	s.mu.Unlock()
	s.events.screenShare(id, sharing)
}

func (s *RoomSession) OnSignalStateChange(state core.SignalState) {
	if state == core.SignalDisconnected && s.joined() {
		log.Warn().Str("module", "session").Msg("signaling connection lost")
		s.events.connectionState("", webrtc.PeerConnectionStateDisconnected)
	}
}

func (s *RoomSession) OnSignalError(err error) {
	s.events.emitError(err)
}
