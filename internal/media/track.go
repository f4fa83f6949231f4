// Package media owns the local capture session: acquiring device streams,
// track enablement, and screen-share substitution across peer links.
package media

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/hiredeck/callkit/internal/core"
)

// stream is a plain track collection implementing core.MediaStream.
type stream struct {
	tracks []core.MediaTrack
}

func NewStream(tracks ...core.MediaTrack) core.MediaStream {
	return &stream{tracks: tracks}
}

func (s *stream) Tracks() []core.MediaTrack { return s.tracks }

func (s *stream) AudioTracks() []core.MediaTrack { return s.byKind(core.TrackAudio) }
func (s *stream) VideoTracks() []core.MediaTrack { return s.byKind(core.TrackVideo) }

func (s *stream) byKind(kind core.TrackKind) []core.MediaTrack {
	var out []core.MediaTrack
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// StaticTrack adapts any pion local track into a core.MediaTrack. Used for
// non-device sources and as the fake capture track in tests.
type StaticTrack struct {
	kind  core.TrackKind
	local webrtc.TrackLocal

	mu      sync.RWMutex
	enabled bool
	stopped bool
	onEnded func()
}

func NewStaticTrack(kind core.TrackKind, local webrtc.TrackLocal) *StaticTrack {
	return &StaticTrack{kind: kind, local: local, enabled: true}
}

func (t *StaticTrack) ID() string               { return t.local.ID() }
func (t *StaticTrack) Kind() core.TrackKind     { return t.kind }
func (t *StaticTrack) Local() webrtc.TrackLocal { return t.local }

func (t *StaticTrack) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func (t *StaticTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *StaticTrack) Stopped() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stopped
}

func (t *StaticTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *StaticTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

// EndTrack simulates the source terminating the track (e.g. the OS-level
// "stop sharing" control) and fires the registered hook.
func (t *StaticTrack) EndTrack() {
	t.mu.Lock()
	t.stopped = true
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}
