// Package rtc owns one peer connection per remote participant, drives the
// offer/answer/ICE exchange through the signaling relay, and tracks the
// per-link connection state.
package rtc

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hiredeck/callkit/internal/core"
	"github.com/hiredeck/callkit/internal/domain"
)

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// RemoteStream collects the remote tracks received from one participant.
type RemoteStream struct {
	id string

	mu     sync.RWMutex
	tracks []*webrtc.TrackRemote
}

func (s *RemoteStream) ID() string { return s.id }

func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *RemoteStream) add(t *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// Release drops the track references. The transport side is torn down by
// closing the owning peer connection.
func (s *RemoteStream) Release() {
	s.mu.Lock()
	s.tracks = nil
	s.mu.Unlock()
}

// Link is the engine's handle on one peer connection. Exclusively owned by
// the registry; destroyed when the participant leaves or the session ends.
type Link struct {
	pid  domain.ParticipantID
	role Role
	pc   *webrtc.PeerConnection

	mu          sync.Mutex
	pending     []webrtc.ICECandidateInit
	remoteSet   bool
	videoSender *webrtc.RTPSender
	remote      *RemoteStream
	closed      bool
	attempts    int
	retryTimer  *time.Timer
}

func (l *Link) Participant() domain.ParticipantID { return l.pid }
func (l *Link) Role() Role                        { return l.role }

// State reports the underlying transport state: new, connecting, connected,
// disconnected, failed or closed.
func (l *Link) State() webrtc.PeerConnectionState { return l.pc.ConnectionState() }

// Remote returns the stream received from this participant, nil until the
// first remote track arrived.
func (l *Link) Remote() *RemoteStream {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remote
}

// PendingCandidates reports how many remote candidates await the remote
// description.
func (l *Link) PendingCandidates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Link) resetAttempts() {
	l.mu.Lock()
	l.attempts = 0
	l.mu.Unlock()
}

func (l *Link) attachLocal(tracks []core.MediaTrack) error {
	for _, t := range tracks {
		sender, err := l.pc.AddTrack(t.Local())
		if err != nil {
			return err
		}
		if t.Kind() == core.TrackVideo {
			l.mu.Lock()
			l.videoSender = sender
			l.mu.Unlock()
		}
	}
	return nil
}

func (l *Link) createOfferAndSet(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := l.pc.CreateOffer(opts)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (l *Link) createAnswerAndSet() (webrtc.SessionDescription, error) {
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

// setRemoteDescription applies the remote SDP and flushes every candidate
// that outraced it. Candidates arriving before this point are buffered, not
// dropped: dropping them makes connections fail silently behind NAT.
func (l *Link) setRemoteDescription(sdp webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}
	l.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, cand := range pending {
		if err := l.pc.AddICECandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("peer", string(l.pid)).Msg("flush buffered candidate")
		}
	}
	return nil
}

func (l *Link) addIceCandidate(cand webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if !l.remoteSet {
		l.pending = append(l.pending, cand)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.pc.AddICECandidate(cand)
}

// replaceVideoTrack swaps the outbound video sender's track in place. A
// closed link or a link without a video sender is a no-op, not an error.
func (l *Link) replaceVideoTrack(t webrtc.TrackLocal) error {
	l.mu.Lock()
	sender := l.videoSender
	closed := l.closed
	l.mu.Unlock()
	if closed || sender == nil {
		return nil
	}
	return sender.ReplaceTrack(t)
}

func (l *Link) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	timer := l.retryTimer
	l.retryTimer = nil
	remote := l.remote
	l.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if remote != nil {
		remote.Release()
	}
	if err := l.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", string(l.pid)).Msg("close error")
		return
	}
	log.Info().Str("module", "rtc").Str("peer", string(l.pid)).Msg("link closed")
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
