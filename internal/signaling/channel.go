package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hiredeck/callkit/internal/core"
	"github.com/hiredeck/callkit/internal/domain"
)

// Channel is the typed signaling client. One Channel serves one room
// session; requests with a server response (connect, create, join, info)
// are resolved by matching the next message of the awaited type, everything
// else is fire-and-forget.
type Channel struct {
	tr   core.SignalTransport
	sink core.EventSink

	mu     sync.Mutex
	waiter *waiter
	selfID domain.ParticipantID
	roomID domain.RoomID
	closed bool
}

type waiter struct {
	types []MessageType
	ch    chan core.Frame
}

func NewChannel(tr core.SignalTransport) *Channel {
	return &Channel{tr: tr}
}

// SetSink registers the single event consumer. Must be called before
// Connect; the dispatch loop reads it without locking afterwards.
func (c *Channel) SetSink(sink core.EventSink) { c.sink = sink }

func (c *Channel) SelfID() domain.ParticipantID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// Connect opens the transport and blocks until the server acknowledges the
// connection with this client's participant id.
func (c *Channel) Connect(ctx context.Context) error {
	w := c.expect(MsgConnected)
	if err := c.tr.Connect(ctx); err != nil {
		c.clear(w)
		return &core.SignalingConnectionError{Err: err}
	}
	go c.dispatch()

	frame, err := c.wait(ctx, w)
	if err != nil {
		return &core.SignalingConnectionError{Err: err}
	}
	var p connectedPayload
	if err := json.Unmarshal(frame, &p); err != nil {
		return &core.SignalingConnectionError{Err: err}
	}
	c.mu.Lock()
	c.selfID = domain.ParticipantID(p.ParticipantID)
	c.mu.Unlock()
	log.Info().Str("module", "signaling").Str("self", p.ParticipantID).Msg("connected")
	return nil
}

func (c *Channel) CreateRoom(ctx context.Context, name domain.RoomName, settings domain.RoomSettings, host *domain.Participant) (domain.RoomID, error) {
	frame, err := c.request(ctx, createRoomPayload{
		Type:            MsgCreateRoom,
		Name:            string(name),
		MaxParticipants: settings.MaxParticipants,
		Settings:        settingsToJSON(settings),
		Participant:     participantToJSON(host),
	}, MsgRoomCreated, MsgRoomError)
	if err != nil {
		return "", err
	}
	if t, _ := messageType(frame); t == MsgRoomError {
		return "", roomError(frame)
	}
	var p roomCreatedPayload
	if err := json.Unmarshal(frame, &p); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.roomID = domain.RoomID(p.RoomID)
	c.mu.Unlock()
	return domain.RoomID(p.RoomID), nil
}

func (c *Channel) JoinRoom(ctx context.Context, id domain.RoomID, part *domain.Participant) (*core.JoinAck, error) {
	frame, err := c.request(ctx, joinRoomPayload{
		Type:        MsgJoinRoom,
		RoomID:      string(id),
		Participant: participantToJSON(part),
	}, MsgRoomJoined, MsgRoomError)
	if err != nil {
		return nil, err
	}
	if t, _ := messageType(frame); t == MsgRoomError {
		return nil, roomError(frame)
	}
	var p roomJoinedPayload
	if err := json.Unmarshal(frame, &p); err != nil {
		return nil, err
	}

	ack := &core.JoinAck{
		RoomID:       domain.RoomID(p.RoomID),
		Name:         domain.RoomName(p.Name),
		Settings:     settingsFromJSON(p.Settings),
		Participants: make(map[domain.ParticipantID]*domain.Participant, len(p.Participants)),
	}
	for pid, pj := range p.Participants {
		part := participantFromJSON(pj)
		if part.ID == "" {
			part.ID = domain.ParticipantID(pid)
		}
		ack.Participants[part.ID] = part
	}
	for _, cj := range p.ChatHistory {
		ack.ChatHistory = append(ack.ChatHistory, chatFromJSON(cj))
	}

	c.mu.Lock()
	c.roomID = ack.RoomID
	c.mu.Unlock()
	return ack, nil
}

func (c *Channel) RoomInfo(ctx context.Context, id domain.RoomID) (*core.RoomInfo, error) {
	frame, err := c.request(ctx, roomInfoRequestPayload{Type: MsgGetRoomInfo, RoomID: string(id)}, MsgRoomInfo, MsgRoomError)
	if err != nil {
		return nil, err
	}
	if t, _ := messageType(frame); t == MsgRoomError {
		return nil, roomError(frame)
	}
	var p roomInfoPayload
	if err := json.Unmarshal(frame, &p); err != nil {
		return nil, err
	}
	return &core.RoomInfo{
		RoomID:           domain.RoomID(p.RoomID),
		Name:             domain.RoomName(p.Name),
		ParticipantCount: p.ParticipantCount,
		MaxParticipants:  p.MaxParticipants,
	}, nil
}

func (c *Channel) SendOffer(sdp webrtc.SessionDescription, to domain.ParticipantID) error {
	return c.sendJSON(sdpPayload{Type: MsgOffer, SDP: sdp.SDP, To: string(to)})
}

func (c *Channel) SendAnswer(sdp webrtc.SessionDescription, to domain.ParticipantID) error {
	return c.sendJSON(sdpPayload{Type: MsgAnswer, SDP: sdp.SDP, To: string(to)})
}

func (c *Channel) SendIceCandidate(cand webrtc.ICECandidateInit, to domain.ParticipantID) error {
	p := candidatePayload{
		Type:          MsgIceCandidate,
		Candidate:     cand.Candidate,
		SDPMLineIndex: cand.SDPMLineIndex,
		To:            string(to),
	}
	if cand.SDPMid != nil {
		p.SDPMid = *cand.SDPMid
	}
	return c.sendJSON(p)
}

func (c *Channel) SendChatMessage(text string) error {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()
	if roomID == "" {
		return core.ErrNotConnected
	}
	return c.sendJSON(chatMessagePayload{
		Type: MsgChatMessage,
		chatJSON: chatJSON{
			RoomID:    string(roomID),
			Message:   text,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (c *Channel) NotifyAudioToggle(enabled bool) error {
	return c.sendJSON(togglePayload{Type: MsgToggleAudio, Enabled: enabled})
}

func (c *Channel) NotifyVideoToggle(enabled bool) error {
	return c.sendJSON(togglePayload{Type: MsgToggleVideo, Enabled: enabled})
}

func (c *Channel) NotifyScreenShare(sharing bool) error {
	t := MsgStartScreenShare
	if !sharing {
		t = MsgStopScreenShare
	}
	return c.sendJSON(screenSharePayload{Type: t, Sharing: sharing})
}

// LeaveRoom is best-effort: the frame is queued and the room association
// dropped without waiting for the server.
func (c *Channel) LeaveRoom() error {
	c.mu.Lock()
	roomID := c.roomID
	c.roomID = ""
	c.mu.Unlock()
	if roomID == "" {
		return nil
	}
	return c.sendJSON(leaveRoomPayload{Type: MsgLeaveRoom, RoomID: string(roomID)})
}

func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.tr.Close()
}

func (c *Channel) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	return c.tr.Send(b)
}

// request sends a frame and blocks for the matching response. The waiter
// is registered before the send so a response delivered concurrently with
// the send cannot slip past the dispatch loop.
func (c *Channel) request(ctx context.Context, payload any, types ...MessageType) (core.Frame, error) {
	w := c.expect(types...)
	if err := c.sendJSON(payload); err != nil {
		c.clear(w)
		return nil, err
	}
	return c.wait(ctx, w)
}

// expect registers a one-shot waiter for the given message types. The
// session serializes requests, so at most one waiter exists at a time.
func (c *Channel) expect(types ...MessageType) *waiter {
	w := &waiter{types: types, ch: make(chan core.Frame, 1)}
	c.mu.Lock()
	c.waiter = w
	c.mu.Unlock()
	return w
}

func (c *Channel) clear(w *waiter) {
	c.mu.Lock()
	if c.waiter == w {
		c.waiter = nil
	}
	c.mu.Unlock()
}

func (c *Channel) wait(ctx context.Context, w *waiter) (core.Frame, error) {
	defer c.clear(w)
	select {
	case frame, ok := <-w.ch:
		if !ok {
			return nil, errors.New("connection closed")
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dispatch routes inbound frames: to the pending waiter when the type
// matches, otherwise to the event sink. Runs until the transport drops.
func (c *Channel) dispatch() {
	for frame := range c.tr.Incoming() {
		t, err := messageType(frame)
		if err != nil {
			log.Warn().Err(err).Str("module", "signaling").Msg("bad json frame")
			continue
		}
		if c.resolveWaiter(t, frame) {
			continue
		}
		c.route(t, frame)
	}

	c.mu.Lock()
	if c.waiter != nil {
		close(c.waiter.ch)
		c.waiter = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if c.sink != nil && !closed {
		c.sink.OnSignalStateChange(core.SignalDisconnected)
	}
}

func (c *Channel) resolveWaiter(t MessageType, frame core.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiter == nil {
		return false
	}
	for _, wt := range c.waiter.types {
		if wt == t {
			c.waiter.ch <- frame
			c.waiter = nil
			return true
		}
	}
	return false
}

func (c *Channel) route(t MessageType, frame core.Frame) {
	if c.sink == nil {
		return
	}
	switch t {
	case MsgParticipantJoined:
		var pj participantJSON
		if err := json.Unmarshal(frame, &pj); err != nil {
			log.Warn().Err(err).Str("module", "signaling").Msg("bad participant payload")
			return
		}
		c.sink.OnParticipantJoined(participantFromJSON(pj))

	case MsgParticipantLeft:
		var p struct {
			ParticipantID string `json:"participantId"`
		}
		if err := json.Unmarshal(frame, &p); err != nil {
			return
		}
		c.sink.OnParticipantLeft(domain.ParticipantID(p.ParticipantID))

	case MsgOffer, MsgAnswer:
		var p sdpPayload
		if err := json.Unmarshal(frame, &p); err != nil {
			return
		}
		sdp := webrtc.SessionDescription{SDP: p.SDP, Type: webrtc.SDPTypeOffer}
		if t == MsgAnswer {
			sdp.Type = webrtc.SDPTypeAnswer
		}
		from := domain.ParticipantID(p.From)
		if t == MsgOffer {
			c.sink.OnOffer(sdp, from)
		} else {
			c.sink.OnAnswer(sdp, from)
		}

	case MsgIceCandidate:
		var p candidatePayload
		if err := json.Unmarshal(frame, &p); err != nil {
			return
		}
		cand := webrtc.ICECandidateInit{
			Candidate:     p.Candidate,
			SDPMLineIndex: p.SDPMLineIndex,
		}
		if p.SDPMid != "" {
			cand.SDPMid = &p.SDPMid
		}
		c.sink.OnIceCandidate(cand, domain.ParticipantID(p.From))

	case MsgChatMessage:
		var p chatMessagePayload
		if err := json.Unmarshal(frame, &p); err != nil {
			return
		}
		c.sink.OnChatMessage(chatFromJSON(p.chatJSON))

	case MsgAudioToggled, MsgVideoToggled:
		var p togglePayload
		if err := json.Unmarshal(frame, &p); err != nil {
			return
		}
		kind := core.TrackAudio
		if t == MsgVideoToggled {
			kind = core.TrackVideo
		}
		c.sink.OnMediaToggle(domain.ParticipantID(p.ParticipantID), kind, p.Enabled)

	case MsgScreenShareToggle:
		var p screenSharePayload
		if err := json.Unmarshal(frame, &p); err != nil {
			return
		}
		c.sink.OnScreenShareToggle(domain.ParticipantID(p.ParticipantID), p.Sharing)

	case MsgRoomError:
		c.sink.OnSignalError(roomError(frame))

	default:
		log.Warn().Str("module", "signaling").Str("type", string(t)).Msg("unknown signal")
	}
}

func roomError(frame core.Frame) error {
	var p roomErrorPayload
	if err := json.Unmarshal(frame, &p); err != nil {
		return &core.RoomError{Reason: "malformed room error"}
	}
	return &core.RoomError{Reason: p.Error}
}

func participantToJSON(p *domain.Participant) participantJSON {
	return participantJSON{
		ID:            string(p.ID),
		Name:          p.Name,
		Avatar:        p.Avatar,
		Role:          p.Role,
		IsHost:        p.IsHost,
		AudioEnabled:  p.AudioEnabled,
		VideoEnabled:  p.VideoEnabled,
		ScreenSharing: p.ScreenSharing,
	}
}

func participantFromJSON(pj participantJSON) *domain.Participant {
	return &domain.Participant{
		ID:            domain.ParticipantID(pj.ID),
		Name:          pj.Name,
		Avatar:        pj.Avatar,
		Role:          pj.Role,
		IsHost:        pj.IsHost,
		AudioEnabled:  pj.AudioEnabled,
		VideoEnabled:  pj.VideoEnabled,
		ScreenSharing: pj.ScreenSharing,
	}
}

func settingsToJSON(s domain.RoomSettings) settingsJSON {
	return settingsJSON{
		Video:           s.Video,
		Audio:           s.Audio,
		Chat:            s.Chat,
		ScreenShare:     s.ScreenShare,
		MaxParticipants: s.MaxParticipants,
	}
}

func settingsFromJSON(s settingsJSON) domain.RoomSettings {
	return domain.RoomSettings{
		Video:           s.Video,
		Audio:           s.Audio,
		Chat:            s.Chat,
		ScreenShare:     s.ScreenShare,
		MaxParticipants: s.MaxParticipants,
	}
}

func chatFromJSON(cj chatJSON) domain.ChatMessage {
	ts, err := time.Parse(time.RFC3339, cj.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}
	return domain.ChatMessage{
		ID:              cj.ID,
		RoomID:          domain.RoomID(cj.RoomID),
		ParticipantID:   domain.ParticipantID(cj.ParticipantID),
		ParticipantName: cj.ParticipantName,
		Text:            cj.Message,
		Timestamp:       ts,
	}
}
