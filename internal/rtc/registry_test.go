package rtc

import (
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/hiredeck/callkit/internal/core"
	"github.com/hiredeck/callkit/internal/domain"
	"github.com/hiredeck/callkit/internal/media"
)

type relayedSDP struct {
	sdp webrtc.SessionDescription
	to  domain.ParticipantID
}

// fakeRelay records what the registry pushes toward the signaling server.
type fakeRelay struct {
	offers  chan relayedSDP
	answers chan relayedSDP
	cands   chan webrtc.ICECandidateInit
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		offers:  make(chan relayedSDP, 32),
		answers: make(chan relayedSDP, 32),
		cands:   make(chan webrtc.ICECandidateInit, 64),
	}
}

func (f *fakeRelay) SendOffer(sdp webrtc.SessionDescription, to domain.ParticipantID) error {
	f.offers <- relayedSDP{sdp, to}
	return nil
}

func (f *fakeRelay) SendAnswer(sdp webrtc.SessionDescription, to domain.ParticipantID) error {
	f.answers <- relayedSDP{sdp, to}
	return nil
}

func (f *fakeRelay) SendIceCandidate(cand webrtc.ICECandidateInit, to domain.ParticipantID) error {
	f.cands <- cand
	return nil
}

func newRegistry(t *testing.T, relay *fakeRelay, local func() []core.MediaTrack) *Registry {
	t.Helper()
	r, err := NewRegistry(webrtc.Configuration{}, RetryPolicy{MaxAttempts: 3, Backoff: 10 * time.Millisecond}, nil, relay, local)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(r.CloseAll)
	return r
}

// remoteOffer builds a genuine SDP offer from a throwaway peer connection.
func remoteOffer(t *testing.T) webrtc.SessionDescription {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("helper pc: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo); err != nil {
		t.Fatalf("add transceiver: %v", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		t.Fatalf("add transceiver: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local: %v", err)
	}
	return offer
}

func awaitSDP(t *testing.T, ch <-chan relayedSDP, what string) relayedSDP {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestInitiatorLinkSendsOffer(t *testing.T) {
	relay := newFakeRelay()
	r := newRegistry(t, relay, nil)

	l, err := r.CreateLink("p1", RoleInitiator)
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	if l.Role() != RoleInitiator {
		t.Fatalf("role: %q", l.Role())
	}

	got := awaitSDP(t, relay.offers, "initial offer")
	if got.to != "p1" || got.sdp.Type != webrtc.SDPTypeOffer {
		t.Fatalf("offer: to=%q type=%v", got.to, got.sdp.Type)
	}

	// A second create for the same participant reuses the link.
	again, err := r.CreateLink("p1", RoleInitiator)
	if err != nil {
		t.Fatalf("recreate link: %v", err)
	}
	if again != l {
		t.Fatal("duplicate link for one participant")
	}
	select {
	case <-relay.offers:
		t.Fatal("duplicate create sent a second offer")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResponderLinkStaysQuiet(t *testing.T) {
	relay := newFakeRelay()
	r := newRegistry(t, relay, nil)

	if _, err := r.CreateLink("p1", RoleResponder); err != nil {
		t.Fatalf("create link: %v", err)
	}
	select {
	case <-relay.offers:
		t.Fatal("responder link sent an offer")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCandidateBeforeOfferIsBufferedThenFlushed(t *testing.T) {
	relay := newFakeRelay()
	r := newRegistry(t, relay, nil)

	mid := "0"
	cand := webrtc.ICECandidateInit{
		Candidate: "candidate:3993071618 1 udp 2122260223 10.0.0.5 51234 typ host",
		SDPMid:    &mid,
	}

	// The candidate outran both participant-joined and the offer. The
	// registry must create the link and hold the candidate.
	if err := r.HandleIceCandidate(cand, "p1"); err != nil {
		t.Fatalf("early candidate: %v", err)
	}
	l, ok := r.Get("p1")
	if !ok {
		t.Fatal("candidate did not create a link")
	}
	if l.Role() != RoleResponder {
		t.Fatalf("lazy link role: %q", l.Role())
	}
	if n := l.PendingCandidates(); n != 1 {
		t.Fatalf("pending candidates: %d", n)
	}

	if err := r.HandleOffer(remoteOffer(t), "p1"); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if n := l.PendingCandidates(); n != 0 {
		t.Fatalf("buffer not flushed: %d pending", n)
	}

	ans := awaitSDP(t, relay.answers, "answer")
	if ans.to != "p1" || ans.sdp.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer: to=%q type=%v", ans.to, ans.sdp.Type)
	}
}

func TestHandleOfferCreatesLinkAndAnswers(t *testing.T) {
	relay := newFakeRelay()
	r := newRegistry(t, relay, nil)

	if err := r.HandleOffer(remoteOffer(t), "p2"); err != nil {
		t.Fatalf("offer: %v", err)
	}
	ans := awaitSDP(t, relay.answers, "answer")
	if ans.to != "p2" {
		t.Fatalf("answer addressed to %q", ans.to)
	}
	if _, ok := r.Get("p2"); !ok {
		t.Fatal("no link after offer")
	}
}

func TestHandleAnswerForUnknownPeerIsIgnored(t *testing.T) {
	relay := newFakeRelay()
	r := newRegistry(t, relay, nil)

	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}
	if err := r.HandleAnswer(sdp, "ghost"); err != nil {
		t.Fatalf("stale answer must be ignored, got %v", err)
	}
	if len(r.Participants()) != 0 {
		t.Fatal("stale answer created a link")
	}
}

func TestCloseLinkAllowsRecreation(t *testing.T) {
	relay := newFakeRelay()
	r := newRegistry(t, relay, nil)

	l, err := r.CreateLink("p1", RoleResponder)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	r.CloseLink("p1")
	if !l.isClosed() {
		t.Fatal("link not closed")
	}
	if _, ok := r.Get("p1"); ok {
		t.Fatal("closed link still registered")
	}

	// e.g. the participant rejoined
	fresh, err := r.CreateLink("p1", RoleResponder)
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if fresh == l {
		t.Fatal("closed link was reused")
	}
}

func TestCloseAllRejectsNewLinks(t *testing.T) {
	relay := newFakeRelay()
	r := newRegistry(t, relay, nil)

	if _, err := r.CreateLink("p1", RoleResponder); err != nil {
		t.Fatalf("create: %v", err)
	}
	r.CloseAll()
	if len(r.Participants()) != 0 {
		t.Fatal("links survived CloseAll")
	}
	if _, err := r.CreateLink("p2", RoleResponder); !errors.Is(err, core.ErrSessionClosed) {
		t.Fatalf("want ErrSessionClosed, got %v", err)
	}
}

func TestRecoveredLinkRegainsRetryBudget(t *testing.T) {
	relay := newFakeRelay()
	r := newRegistry(t, relay, nil)

	l, err := r.CreateLink("p1", RoleInitiator)
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	awaitSDP(t, relay.offers, "initial offer")

	fails := make(chan error, 1)
	r.OnError(func(err error) { fails <- err })

	// Earlier failures drained the budget, then the link recovered.
	l.mu.Lock()
	l.attempts = r.retry.MaxAttempts
	l.mu.Unlock()
	r.handleStateChange(l, webrtc.PeerConnectionStateConnected)

	l.mu.Lock()
	attempts := l.attempts
	l.mu.Unlock()
	if attempts != 0 {
		t.Fatalf("attempts after recovery: %d", attempts)
	}

	// The next failure schedules an ICE restart instead of going terminal.
	r.handleStateChange(l, webrtc.PeerConnectionStateFailed)
	restart := awaitSDP(t, relay.offers, "restart offer")
	if restart.to != "p1" || restart.sdp.Type != webrtc.SDPTypeOffer {
		t.Fatalf("restart offer: to=%q type=%v", restart.to, restart.sdp.Type)
	}
	select {
	case err := <-fails:
		t.Fatalf("link went terminal: %v", err)
	default:
	}
}

func TestReplaceOutboundVideoTrack(t *testing.T) {
	camera, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "cam", "capture")
	if err != nil {
		t.Fatalf("camera track: %v", err)
	}
	local := func() []core.MediaTrack {
		return []core.MediaTrack{media.NewStaticTrack(core.TrackVideo, camera)}
	}

	relay := newFakeRelay()
	r := newRegistry(t, relay, local)

	l, err := r.CreateLink("p1", RoleInitiator)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if l.videoSender == nil {
		t.Fatal("no video sender recorded")
	}
	if got := l.videoSender.Track().ID(); got != "cam" {
		t.Fatalf("initial sender track: %q", got)
	}

	screen, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "capture")
	if err != nil {
		t.Fatalf("screen track: %v", err)
	}
	r.ReplaceOutboundVideoTrack(media.NewStaticTrack(core.TrackVideo, screen))
	if got := l.videoSender.Track().ID(); got != "screen" {
		t.Fatalf("sender track after swap: %q", got)
	}

	// Swapping back must land on the original camera track, by identity.
	r.ReplaceOutboundVideoTrack(media.NewStaticTrack(core.TrackVideo, camera))
	if got := l.videoSender.Track(); got != webrtc.TrackLocal(camera) {
		t.Fatalf("sender track after restore: %v", got.ID())
	}

	// Swapping after close is a no-op, not a panic.
	r.CloseLink("p1")
	r.ReplaceOutboundVideoTrack(media.NewStaticTrack(core.TrackVideo, screen))
}

func TestCloseReleasesRemoteStream(t *testing.T) {
	relay := newFakeRelay()
	r := newRegistry(t, relay, nil)

	l, err := r.CreateLink("p1", RoleResponder)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Stand in for a received track; only the reference matters here.
	remote := &RemoteStream{id: "stream-1"}
	remote.add(&webrtc.TrackRemote{})
	l.mu.Lock()
	l.remote = remote
	l.mu.Unlock()

	r.CloseLink("p1")
	if n := len(remote.Tracks()); n != 0 {
		t.Fatalf("remote stream kept %d track references after close", n)
	}
}

func TestStatsUnknownPeer(t *testing.T) {
	relay := newFakeRelay()
	r := newRegistry(t, relay, nil)

	_, err := r.Stats("ghost")
	var pcErr *core.PeerConnectionError
	if !errors.As(err, &pcErr) {
		t.Fatalf("want PeerConnectionError, got %v", err)
	}
}
