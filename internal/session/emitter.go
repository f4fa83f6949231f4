package session

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/hiredeck/callkit/internal/core"
	"github.com/hiredeck/callkit/internal/domain"
	"github.com/hiredeck/callkit/internal/rtc"
)

// Hooks is one subscriber's view of the session. Every field is optional.
// Multiple subscribers may be registered; a new Subscribe never replaces an
// earlier one.
type Hooks struct {
	OnParticipantJoined func(*domain.Participant)
	OnParticipantLeft   func(domain.ParticipantID)

	OnRemoteStream func(domain.ParticipantID, *rtc.RemoteStream)

	// OnConnectionStateChange reports per-peer transport transitions. An
	// empty participant id means the signaling connection itself.
	OnConnectionStateChange func(domain.ParticipantID, webrtc.PeerConnectionState)

	OnChatMessage func(domain.ChatMessage)

	// OnMediaStateChange reports effective track enablement, both for the
	// local participant (after a toggle) and for remotes (relayed).
	OnMediaStateChange func(domain.ParticipantID, core.TrackKind, bool)
	OnScreenShare      func(domain.ParticipantID, bool)

	OnError func(error)
}

type emitter struct {
	mu   sync.RWMutex
	subs map[int]Hooks
	next int
}

func newEmitter() *emitter {
	return &emitter{subs: make(map[int]Hooks)}
}

func (e *emitter) subscribe(h Hooks) func() {
	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = h
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *emitter) each(fn func(Hooks)) {
	e.mu.RLock()
	subs := make([]Hooks, 0, len(e.subs))
	for _, h := range e.subs {
		subs = append(subs, h)
	}
	e.mu.RUnlock()
	for _, h := range subs {
		fn(h)
	}
}

func (e *emitter) participantJoined(p *domain.Participant) {
	e.each(func(h Hooks) {
		if h.OnParticipantJoined != nil {
			h.OnParticipantJoined(p)
		}
	})
}

func (e *emitter) participantLeft(id domain.ParticipantID) {
	e.each(func(h Hooks) {
		if h.OnParticipantLeft != nil {
			h.OnParticipantLeft(id)
		}
	})
}

func (e *emitter) remoteStream(id domain.ParticipantID, s *rtc.RemoteStream) {
	e.each(func(h Hooks) {
		if h.OnRemoteStream != nil {
			h.OnRemoteStream(id, s)
		}
	})
}

func (e *emitter) connectionState(id domain.ParticipantID, s webrtc.PeerConnectionState) {
	e.each(func(h Hooks) {
		if h.OnConnectionStateChange != nil {
			h.OnConnectionStateChange(id, s)
		}
	})
}

func (e *emitter) chatMessage(msg domain.ChatMessage) {
	e.each(func(h Hooks) {
		if h.OnChatMessage != nil {
			h.OnChatMessage(msg)
		}
	})
}

func (e *emitter) mediaState(id domain.ParticipantID, kind core.TrackKind, enabled bool) {
	e.each(func(h Hooks) {
		if h.OnMediaStateChange != nil {
			h.OnMediaStateChange(id, kind, enabled)
		}
	})
}

func (e *emitter) screenShare(id domain.ParticipantID, sharing bool) {
	e.each(func(h Hooks) {
		if h.OnScreenShare != nil {
			h.OnScreenShare(id, sharing)
		}
	})
}

func (e *emitter) emitError(err error) {
	e.each(func(h Hooks) {
		if h.OnError != nil {
			h.OnError(err)
		}
	})
}
