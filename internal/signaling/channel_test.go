package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/hiredeck/callkit/internal/core"
	"github.com/hiredeck/callkit/internal/domain"
)

// fakeTransport feeds frames in and records frames out, no sockets involved.
type fakeTransport struct {
	in   chan core.Frame
	sent chan core.Frame

	mu     sync.Mutex
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:   make(chan core.Frame, 16),
		sent: make(chan core.Frame, 16),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error { return nil }

func (f *fakeTransport) Send(fr core.Frame) error {
	f.sent <- fr
	return nil
}

func (f *fakeTransport) Incoming() <-chan core.Frame { return f.in }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.in)
	}
	return nil
}

type sdpEvent struct {
	sdp  webrtc.SessionDescription
	from domain.ParticipantID
}

type candEvent struct {
	cand webrtc.ICECandidateInit
	from domain.ParticipantID
}

type toggleEvent struct {
	id      domain.ParticipantID
	kind    core.TrackKind
	enabled bool
}

// sinkRecorder captures routed events on buffered channels.
type sinkRecorder struct {
	joined chan *domain.Participant
	left   chan domain.ParticipantID
	offers chan sdpEvent
	cands  chan candEvent
	chats  chan domain.ChatMessage
	states chan core.SignalState
	errs   chan error

	toggles chan toggleEvent
	shares  chan toggleEvent
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{
		joined:  make(chan *domain.Participant, 8),
		left:    make(chan domain.ParticipantID, 8),
		offers:  make(chan sdpEvent, 8),
		cands:   make(chan candEvent, 8),
		chats:   make(chan domain.ChatMessage, 8),
		states:  make(chan core.SignalState, 8),
		errs:    make(chan error, 8),
		toggles: make(chan toggleEvent, 8),
		shares:  make(chan toggleEvent, 8),
	}
}

func (r *sinkRecorder) OnParticipantJoined(p *domain.Participant)  { r.joined <- p }
func (r *sinkRecorder) OnParticipantLeft(id domain.ParticipantID)  { r.left <- id }
func (r *sinkRecorder) OnChatMessage(msg domain.ChatMessage)       { r.chats <- msg }
func (r *sinkRecorder) OnSignalStateChange(state core.SignalState) { r.states <- state }
func (r *sinkRecorder) OnSignalError(err error)                    { r.errs <- err }

func (r *sinkRecorder) OnOffer(sdp webrtc.SessionDescription, from domain.ParticipantID) {
	r.offers <- sdpEvent{sdp, from}
}

func (r *sinkRecorder) OnAnswer(sdp webrtc.SessionDescription, from domain.ParticipantID) {}

func (r *sinkRecorder) OnIceCandidate(cand webrtc.ICECandidateInit, from domain.ParticipantID) {
	r.cands <- candEvent{cand, from}
}

func (r *sinkRecorder) OnMediaToggle(id domain.ParticipantID, kind core.TrackKind, enabled bool) {
	r.toggles <- toggleEvent{id, kind, enabled}
}

func (r *sinkRecorder) OnScreenShareToggle(id domain.ParticipantID, sharing bool) {
	r.shares <- toggleEvent{id: id, enabled: sharing}
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func connectedChannel(t *testing.T) (*Channel, *fakeTransport, *sinkRecorder) {
	t.Helper()
	tr := newFakeTransport()
	sink := newSinkRecorder()
	ch := NewChannel(tr)
	ch.SetSink(sink)

	tr.in <- core.Frame(`{"type":"connected","participantId":"self-1"}`)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return ch, tr, sink
}

func TestConnectResolvesSelfID(t *testing.T) {
	ch, _, _ := connectedChannel(t)
	if got := ch.SelfID(); got != "self-1" {
		t.Fatalf("self id: got %q", got)
	}
}

func TestCreateRoomServerError(t *testing.T) {
	ch, tr, _ := connectedChannel(t)

	go func() {
		<-tr.sent
		tr.in <- core.Frame(`{"type":"room-error","error":"room limit reached"}`)
	}()

	host := &domain.Participant{ID: "self-1", Name: "ada", IsHost: true}
	_, err := ch.CreateRoom(context.Background(), "standup", domain.DefaultRoomSettings(), host)
	var roomErr *core.RoomError
	if !errors.As(err, &roomErr) {
		t.Fatalf("want RoomError, got %v", err)
	}
	if roomErr.Reason != "room limit reached" {
		t.Fatalf("reason: got %q", roomErr.Reason)
	}
}

func TestJoinRoomBuildsSnapshot(t *testing.T) {
	ch, tr, _ := connectedChannel(t)

	go func() {
		<-tr.sent
		tr.in <- core.Frame(`{
			"type": "room-joined",
			"roomId": "r1",
			"name": "standup",
			"settings": {"video": true, "audio": true, "chat": true, "screenShare": true, "maxParticipants": 10},
			"participants": {
				"p1": {"id": "p1", "name": "ada", "is_host": true},
				"self-1": {"id": "self-1", "name": "brin"}
			},
			"chatHistory": [
				{"id": "m1", "roomId": "r1", "participant_id": "p1", "participant_name": "ada", "message": "hi", "timestamp": "2026-01-02T15:04:05Z"}
			]
		}`)
	}()

	me := &domain.Participant{ID: "self-1", Name: "brin"}
	ack, err := ch.JoinRoom(context.Background(), "r1", me)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if ack.RoomID != "r1" || ack.Name != "standup" {
		t.Fatalf("room identity: %+v", ack)
	}
	if len(ack.Participants) != 2 {
		t.Fatalf("got %d participants, want 2", len(ack.Participants))
	}
	if !ack.Participants["p1"].IsHost {
		t.Fatal("host flag lost in snapshot")
	}
	if len(ack.ChatHistory) != 1 || ack.ChatHistory[0].Text != "hi" {
		t.Fatalf("chat history: %+v", ack.ChatHistory)
	}
}

// syncReplyTransport answers a request on the incoming channel before Send
// returns, the tightest ordering the server can produce. The trailing
// participant-left frame proves the dispatch loop has consumed the reply by
// the time Send returns.
type syncReplyTransport struct {
	*fakeTransport
	reply   func(core.Frame) core.Frame
	flushed chan domain.ParticipantID
}

func (s *syncReplyTransport) Send(fr core.Frame) error {
	if r := s.reply(fr); r != nil {
		s.in <- r
		s.in <- core.Frame(`{"type":"participant-left","participantId":"sync"}`)
		<-s.flushed
	}
	return nil
}

func TestImmediateReplyResolvesRequest(t *testing.T) {
	sink := newSinkRecorder()
	tr := &syncReplyTransport{
		fakeTransport: newFakeTransport(),
		flushed:       sink.left,
		reply: func(fr core.Frame) core.Frame {
			if mt, _ := messageType(fr); mt == MsgCreateRoom {
				return core.Frame(`{"type":"room-created","roomId":"r1"}`)
			}
			return nil
		},
	}
	ch := NewChannel(tr)
	ch.SetSink(sink)

	tr.in <- core.Frame(`{"type":"connected","participantId":"self-1"}`)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	host := &domain.Participant{ID: "self-1", Name: "ada", IsHost: true}
	id, err := ch.CreateRoom(ctx, "standup", domain.DefaultRoomSettings(), host)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if id != "r1" {
		t.Fatalf("room id: got %q", id)
	}
}

func TestJoinRoomContextTimeout(t *testing.T) {
	ch, tr, _ := connectedChannel(t)
	go func() { <-tr.sent }() // server never answers

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ch.JoinRoom(ctx, "r1", &domain.Participant{ID: "self-1", Name: "brin"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestEventRouting(t *testing.T) {
	_, tr, sink := connectedChannel(t)

	tr.in <- core.Frame(`{"type":"participant-joined","id":"p7","name":"cleo","video_enabled":true}`)
	p := recv(t, sink.joined, "participant-joined")
	if p.ID != "p7" || p.Name != "cleo" || !p.VideoEnabled {
		t.Fatalf("participant: %+v", p)
	}

	tr.in <- core.Frame(`{"type":"offer","sdp":"v=0","from":"p7"}`)
	off := recv(t, sink.offers, "offer")
	if off.from != "p7" || off.sdp.Type != webrtc.SDPTypeOffer {
		t.Fatalf("offer: %+v", off)
	}

	tr.in <- core.Frame(`{"type":"ice-candidate","candidate":"candidate:0","sdpMid":"0","from":"p7"}`)
	cand := recv(t, sink.cands, "candidate")
	if cand.from != "p7" || cand.cand.SDPMid == nil || *cand.cand.SDPMid != "0" {
		t.Fatalf("candidate: %+v", cand)
	}

	tr.in <- core.Frame(`{"type":"participant-audio-toggle","participantId":"p7","enabled":false}`)
	tog := recv(t, sink.toggles, "audio toggle")
	if tog.id != "p7" || tog.kind != core.TrackAudio || tog.enabled {
		t.Fatalf("toggle: %+v", tog)
	}

	tr.in <- core.Frame(`{"type":"participant-left","participantId":"p7"}`)
	if id := recv(t, sink.left, "participant-left"); id != "p7" {
		t.Fatalf("left: %q", id)
	}
}

func TestTransportDropReportsDisconnect(t *testing.T) {
	_, tr, sink := connectedChannel(t)

	close(tr.in)
	if got := recv(t, sink.states, "state change"); got != core.SignalDisconnected {
		t.Fatalf("state: got %q", got)
	}
}

func TestCloseSuppressesDisconnectEvent(t *testing.T) {
	ch, _, sink := connectedChannel(t)

	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case s := <-sink.states:
		t.Fatalf("unexpected state change %q after deliberate close", s)
	case <-time.After(100 * time.Millisecond):
	}
}
