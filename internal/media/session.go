package media

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hiredeck/callkit/internal/core"
)

// Manager owns the local media session: one capture stream per room
// session, its enablement flags, and the camera/screen substitution state.
// Only the manager mutates local tracks; peer links hold them attach-only.
type Manager struct {
	devices core.MediaDevices
	swapper core.TrackSwapper

	mu       sync.Mutex
	local    core.MediaStream
	screen   core.MediaStream
	camera   core.MediaTrack
	sharing  bool
	released bool
}

func NewManager(devices core.MediaDevices, swapper core.TrackSwapper) *Manager {
	return &Manager{devices: devices, swapper: swapper}
}

// StartLocalStream acquires the capture devices. The context bounds the
// wait so a hung driver cannot stall the join forever.
func (m *Manager) StartLocalStream(ctx context.Context, c core.StreamConstraints) (core.MediaStream, error) {
	type result struct {
		s   core.MediaStream
		err error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := m.devices.OpenUserMedia(c)
		ch <- result{s, err}
	}()

	var s core.MediaStream
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, &core.MediaAccessError{Err: r.err}
		}
		s = r.s
	case <-ctx.Done():
		// The capture goroutine releases a late stream itself.
		go func() {
			if r := <-ch; r.err == nil {
				stopAll(r.s)
			}
		}()
		return nil, &core.MediaAccessError{Err: ctx.Err()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		stopAll(s)
		return nil, core.ErrSessionClosed
	}
	m.local = s
	if vts := s.VideoTracks(); len(vts) > 0 {
		m.camera = vts[0]
	}
	log.Info().Str("module", "media").Int("tracks", len(s.Tracks())).Msg("local stream started")
	return s, nil
}

// Stream returns the local capture stream, nil before StartLocalStream.
func (m *Manager) Stream() core.MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

// ToggleAudio flips the enabled flag on the local audio track and returns
// the resulting state. ErrNoLocalStream before the stream exists.
func (m *Manager) ToggleAudio(enabled bool) (bool, error) {
	return m.toggle(core.TrackAudio, enabled)
}

// ToggleVideo is ToggleAudio for the video track; the audio track's state
// is never touched.
func (m *Manager) ToggleVideo(enabled bool) (bool, error) {
	return m.toggle(core.TrackVideo, enabled)
}

func (m *Manager) toggle(kind core.TrackKind, enabled bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil {
		return false, core.ErrNoLocalStream
	}
	var tracks []core.MediaTrack
	if kind == core.TrackAudio {
		tracks = m.local.AudioTracks()
	} else {
		tracks = m.local.VideoTracks()
	}
	if len(tracks) == 0 {
		return false, core.ErrNoLocalStream
	}
	for _, t := range tracks {
		t.SetEnabled(enabled)
	}
	return tracks[0].Enabled(), nil
}

// StartScreenShare acquires a display stream and substitutes its video
// track into every live link's outbound video sender, in place, without
// renegotiation. When the capture ends from the outside (OS stop-sharing
// control) the manager swaps back automatically.
func (m *Manager) StartScreenShare(ctx context.Context) (core.MediaStream, error) {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return nil, core.ErrSessionClosed
	}
	if m.sharing {
		s := m.screen
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := m.devices.OpenDisplayMedia(core.StreamConstraints{
		Video: &core.VideoConstraints{MaxWidth: 1920, MaxHeight: 1080, MaxFrameRate: 30},
	})
	if err != nil {
		return nil, &core.ScreenShareError{Err: err}
	}
	vts := s.VideoTracks()
	if len(vts) == 0 {
		stopAll(s)
		return nil, &core.ScreenShareError{Err: core.ErrNoLocalStream}
	}
	track := vts[0]

	m.mu.Lock()
	m.screen = s
	m.sharing = true
	m.mu.Unlock()

	m.swapper.ReplaceOutboundVideoTrack(track)
	track.OnEnded(func() {
		log.Info().Str("module", "media").Msg("screen capture ended by source")
		_ = m.StopScreenShare()
	})
	log.Info().Str("module", "media").Msg("screen share started")
	return s, nil
}

// StopScreenShare swaps the senders back to the original camera track. If
// the camera track was stopped or disabled meanwhile, outbound video stays
// off.
func (m *Manager) StopScreenShare() error {
	m.mu.Lock()
	if !m.sharing {
		m.mu.Unlock()
		return nil
	}
	m.sharing = false
	screen := m.screen
	m.screen = nil
	camera := m.camera
	m.mu.Unlock()

	if screen != nil {
		stopAll(screen)
	}
	if camera != nil && !camera.Stopped() && camera.Enabled() {
		m.swapper.ReplaceOutboundVideoTrack(camera)
	}
	log.Info().Str("module", "media").Msg("screen share stopped")
	return nil
}

func (m *Manager) ScreenSharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sharing
}

// Release stops every capture track. Idempotent; after Release the manager
// rejects new captures, so device locks cannot leak.
func (m *Manager) Release() {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return
	}
	m.released = true
	m.sharing = false
	local, screen := m.local, m.screen
	m.local, m.screen, m.camera = nil, nil, nil
	m.mu.Unlock()

	if local != nil {
		stopAll(local)
	}
	if screen != nil {
		stopAll(screen)
	}
	log.Info().Str("module", "media").Msg("released capture devices")
}

func stopAll(s core.MediaStream) {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
