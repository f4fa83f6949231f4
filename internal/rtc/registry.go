package rtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hiredeck/callkit/internal/core"
	"github.com/hiredeck/callkit/internal/domain"
)

// RetryPolicy bounds how an initiator link recovers from a failed state:
// a fresh ICE-restart offer under exponential backoff. Responder links stay
// terminal and wait for the remote side to re-offer.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Registry owns every peer link of one room session. The set of links
// always equals the known remote participants; no participant maps to more
// than one link at a time.
type Registry struct {
	api   *webrtc.API
	cfg   webrtc.Configuration
	relay core.SignalRelay
	local func() []core.MediaTrack
	retry RetryPolicy

	onRemoteStream func(domain.ParticipantID, *RemoteStream)
	onStateChange  func(domain.ParticipantID, webrtc.PeerConnectionState)
	onError        func(error)

	mu     sync.Mutex
	links  map[domain.ParticipantID]*Link
	closed bool
}

// NewRegistry builds the pion API from the codecs the media source
// produces, or the defaults when there is no source.
func NewRegistry(cfg webrtc.Configuration, retry RetryPolicy, devices core.MediaDevices, relay core.SignalRelay, local func() []core.MediaTrack) (*Registry, error) {
	me := &webrtc.MediaEngine{}
	if devices != nil {
		if err := devices.ConfigureEngine(me); err != nil {
			return nil, fmt.Errorf("configure media engine: %w", err)
		}
	} else if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	return &Registry{
		api:   webrtc.NewAPI(webrtc.WithMediaEngine(me)),
		cfg:   cfg,
		relay: relay,
		local: local,
		retry: retry,
		links: make(map[domain.ParticipantID]*Link),
	}, nil
}

func (r *Registry) OnRemoteStream(fn func(domain.ParticipantID, *RemoteStream)) {
	r.onRemoteStream = fn
}
func (r *Registry) OnStateChange(fn func(domain.ParticipantID, webrtc.PeerConnectionState)) {
	r.onStateChange = fn
}
func (r *Registry) OnError(fn func(error)) { r.onError = fn }

// CreateLink instantiates the peer connection for one remote participant,
// attaches the current local tracks, and, for the initiator role, sends the
// first offer. Trickle ICE: candidates are relayed as they are gathered.
func (r *Registry) CreateLink(pid domain.ParticipantID, role Role) (*Link, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, core.ErrSessionClosed
	}
	if l, ok := r.links[pid]; ok {
		r.mu.Unlock()
		return l, nil
	}
	r.mu.Unlock()

	pc, err := r.api.NewPeerConnection(r.cfg)
	if err != nil {
		return nil, &core.PeerConnectionError{ParticipantID: pid, Err: err}
	}
	l := &Link{pid: pid, role: role, pc: pc}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if err := r.relay.SendIceCandidate(cand.ToJSON(), pid); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("peer", string(pid)).Msg("relay candidate")
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("peer", string(pid)).
			Str("kind", track.Kind().String()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		l.mu.Lock()
		if l.remote == nil {
			l.remote = &RemoteStream{id: track.StreamID()}
		}
		remote := l.remote
		l.mu.Unlock()
		remote.add(track)
		if r.onRemoteStream != nil {
			r.onRemoteStream(pid, remote)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		r.handleStateChange(l, s)
	})

	if r.local != nil {
		if err := l.attachLocal(r.local()); err != nil {
			_ = pc.Close()
			return nil, &core.PeerConnectionError{ParticipantID: pid, Err: err}
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		l.close()
		return nil, core.ErrSessionClosed
	}
	r.links[pid] = l
	r.mu.Unlock()

	if role == RoleInitiator {
		offer, err := l.createOfferAndSet(false)
		if err != nil {
			r.CloseLink(pid)
			return nil, &core.PeerConnectionError{ParticipantID: pid, Err: err}
		}
		if err := r.relay.SendOffer(offer, pid); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("peer", string(pid)).Msg("relay offer")
		}
	}

	log.Info().Str("module", "rtc").Str("peer", string(pid)).Str("role", string(role)).Msg("link created")
	return l, nil
}

// HandleOffer answers a remote offer. The link is created lazily when the
// offer outran the participant-joined notification; the transport does not
// guarantee that ordering.
func (r *Registry) HandleOffer(sdp webrtc.SessionDescription, from domain.ParticipantID) error {
	l, err := r.CreateLink(from, RoleResponder)
	if err != nil {
		return err
	}
	if err := l.setRemoteDescription(sdp); err != nil {
		return &core.PeerConnectionError{ParticipantID: from, Err: err}
	}
	answer, err := l.createAnswerAndSet()
	if err != nil {
		return &core.PeerConnectionError{ParticipantID: from, Err: err}
	}
	if err := r.relay.SendAnswer(answer, from); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Str("peer", string(from)).Msg("relay answer")
	}
	return nil
}

// HandleAnswer applies a remote answer. Unknown links mean a stale or
// duplicate message: logged and ignored.
func (r *Registry) HandleAnswer(sdp webrtc.SessionDescription, from domain.ParticipantID) error {
	l, ok := r.get(from)
	if !ok {
		log.Warn().Str("module", "rtc").Str("peer", string(from)).Msg("answer for unknown link")
		return nil
	}
	if err := l.setRemoteDescription(sdp); err != nil {
		return &core.PeerConnectionError{ParticipantID: from, Err: err}
	}
	return nil
}

// HandleIceCandidate routes a remote candidate to its link. A candidate
// may legitimately outrace the whole handshake; the link buffers it until
// the remote description lands.
func (r *Registry) HandleIceCandidate(cand webrtc.ICECandidateInit, from domain.ParticipantID) error {
	l, ok := r.get(from)
	if !ok {
		var err error
		l, err = r.CreateLink(from, RoleResponder)
		if err != nil {
			return err
		}
	}
	if err := l.addIceCandidate(cand); err != nil {
		return &core.PeerConnectionError{ParticipantID: from, Err: err}
	}
	return nil
}

// CloseLink tears one link down and forgets it.
func (r *Registry) CloseLink(pid domain.ParticipantID) {
	r.mu.Lock()
	l, ok := r.links[pid]
	delete(r.links, pid)
	r.mu.Unlock()
	if ok {
		l.close()
	}
}

// CloseAll tears down every link. The registry accepts no new links after.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	links := make([]*Link, 0, len(r.links))
	for _, l := range r.links {
		links = append(links, l)
	}
	r.links = make(map[domain.ParticipantID]*Link)
	r.mu.Unlock()

	for _, l := range links {
		l.close()
	}
}

// ReplaceOutboundVideoTrack swaps the outbound video on every live link in
// one pass. A link closing mid-pass is a no-op, not an error.
func (r *Registry) ReplaceOutboundVideoTrack(t core.MediaTrack) {
	r.mu.Lock()
	links := make([]*Link, 0, len(r.links))
	for _, l := range r.links {
		links = append(links, l)
	}
	r.mu.Unlock()

	for _, l := range links {
		if err := l.replaceVideoTrack(t.Local()); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("peer", string(l.pid)).Msg("replace video track")
		}
	}
}

// Participants lists the ids currently holding a link.
func (r *Registry) Participants() []domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ParticipantID, 0, len(r.links))
	for pid := range r.links {
		out = append(out, pid)
	}
	return out
}

func (r *Registry) Get(pid domain.ParticipantID) (*Link, bool) { return r.get(pid) }

func (r *Registry) get(pid domain.ParticipantID) (*Link, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[pid]
	return l, ok
}

// Stats returns pion's stats report for one link.
func (r *Registry) Stats(pid domain.ParticipantID) (webrtc.StatsReport, error) {
	l, ok := r.get(pid)
	if !ok {
		return nil, &core.PeerConnectionError{ParticipantID: pid, Err: fmt.Errorf("no link")}
	}
	return l.pc.GetStats(), nil
}

// handleStateChange fans a peer state transition out to the subscriber and
// the retry machinery. A link that reaches connected earns its full retry
// budget back.
func (r *Registry) handleStateChange(l *Link, s webrtc.PeerConnectionState) {
	log.Info().Str("module", "rtc").Str("peer", string(l.pid)).Str("state", s.String()).Msg("peer state")
	if r.onStateChange != nil {
		r.onStateChange(l.pid, s)
	}
	switch s {
	case webrtc.PeerConnectionStateConnected:
		l.resetAttempts()
	case webrtc.PeerConnectionStateFailed:
		r.handleFailure(l)
	}
}

// handleFailure applies the retry policy. Errors here never propagate to
// the room session; the worst case is one degraded participant.
func (r *Registry) handleFailure(l *Link) {
	if l.isClosed() {
		return
	}
	if l.role != RoleInitiator {
		r.reportFailed(l, fmt.Errorf("connection failed"))
		return
	}

	l.mu.Lock()
	l.attempts++
	attempt := l.attempts
	l.mu.Unlock()

	if attempt > r.retry.MaxAttempts {
		r.reportFailed(l, fmt.Errorf("connection failed after %d retries", r.retry.MaxAttempts))
		return
	}

	delay := r.retry.Backoff << (attempt - 1)
	log.Warn().
		Str("module", "rtc").
		Str("peer", string(l.pid)).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("link failed, scheduling ICE restart")

	timer := time.AfterFunc(delay, func() {
		if l.isClosed() {
			return
		}
		offer, err := l.createOfferAndSet(true)
		if err != nil {
			r.reportFailed(l, err)
			return
		}
		if err := r.relay.SendOffer(offer, l.pid); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("peer", string(l.pid)).Msg("relay restart offer")
		}
	})

	l.mu.Lock()
	if l.retryTimer != nil {
		l.retryTimer.Stop()
	}
	l.retryTimer = timer
	l.mu.Unlock()
}

func (r *Registry) reportFailed(l *Link, err error) {
	if r.onError != nil {
		r.onError(&core.PeerConnectionError{ParticipantID: l.pid, Err: err})
	}
}
