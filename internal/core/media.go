package core

import "github.com/pion/webrtc/v4"

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// MediaTrack is one local capture track. Tracks are shared read-only with
// every peer link that attached them; only the media manager may flip the
// enabled flag, stop the track or swap it out of senders.
type MediaTrack interface {
	ID() string
	Kind() TrackKind

	Enabled() bool
	SetEnabled(bool)

	// Stopped reports whether the underlying device track was closed.
	Stopped() bool
	Stop()

	// OnEnded fires when the track terminates outside our control, e.g. the
	// OS-level "stop sharing" button on a display capture.
	OnEnded(func())

	// Local is the pion track attached to peer connection senders.
	Local() webrtc.TrackLocal
}

// MediaStream groups the tracks acquired by one capture request.
type MediaStream interface {
	Tracks() []MediaTrack
	AudioTracks() []MediaTrack
	VideoTracks() []MediaTrack
}

// VideoConstraints request a resolution and frame-rate window. All values
// are best-effort; drivers degrade silently when a bound is unsupported.
type VideoConstraints struct {
	MinWidth, IdealWidth, MaxWidth    int
	MinHeight, IdealHeight, MaxHeight int
	MinFrameRate, IdealFrameRate      float32
	MaxFrameRate                      float32
}

// AudioConstraints toggle processing applied at the capture source.
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

type StreamConstraints struct {
	Video *VideoConstraints
	Audio *AudioConstraints
}

// MediaDevices abstracts capture device access so tests can inject a fake
// source and the engine package stays free of driver imports.
type MediaDevices interface {
	OpenUserMedia(StreamConstraints) (MediaStream, error)
	OpenDisplayMedia(StreamConstraints) (MediaStream, error)

	// ConfigureEngine registers the codecs this source produces on the
	// media engine used to build peer connections.
	ConfigureEngine(*webrtc.MediaEngine) error
}

// TrackSwapper applies an in-place outbound video substitution across all
// live peer links, without renegotiation.
type TrackSwapper interface {
	ReplaceOutboundVideoTrack(MediaTrack)
}
