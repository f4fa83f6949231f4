package media

import (
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/hiredeck/callkit/internal/core"
)

// Devices is the capture backend over pion/mediadevices. Drivers register
// through blank imports at the binary level (camera, microphone, screen),
// keeping this package driver-free and testable.
type Devices struct {
	codec *mediadevices.CodecSelector
}

func NewDevices() (*Devices, error) {
	vp8Params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vp8Params.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &Devices{
		codec: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vp8Params),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (d *Devices) ConfigureEngine(me *webrtc.MediaEngine) error {
	d.codec.Populate(me)
	return nil
}

func (d *Devices) OpenUserMedia(c core.StreamConstraints) (core.MediaStream, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: d.codec}
	if c.Video != nil {
		vc := *c.Video
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			applyVideoConstraints(mc, vc)
		}
	}
	if c.Audio != nil {
		// Echo cancellation / noise suppression / auto gain are best-effort
		// and silently unsupported by the current drivers.
		constraints.Audio = func(mc *mediadevices.MediaTrackConstraints) {}
	}

	s, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, err
	}
	return wrapDeviceStream(s), nil
}

func (d *Devices) OpenDisplayMedia(c core.StreamConstraints) (core.MediaStream, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Codec: d.codec,
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			if c.Video != nil {
				applyVideoConstraints(mc, *c.Video)
			}
		},
	}

	s, err := mediadevices.GetDisplayMedia(constraints)
	if err != nil {
		return nil, err
	}
	return wrapDeviceStream(s), nil
}

func applyVideoConstraints(mc *mediadevices.MediaTrackConstraints, vc core.VideoConstraints) {
	if vc.IdealWidth > 0 {
		mc.Width = prop.IntRanged{Min: vc.MinWidth, Ideal: vc.IdealWidth, Max: vc.MaxWidth}
	}
	if vc.IdealHeight > 0 {
		mc.Height = prop.IntRanged{Min: vc.MinHeight, Ideal: vc.IdealHeight, Max: vc.MaxHeight}
	}
	if vc.IdealFrameRate > 0 {
		mc.FrameRate = prop.FloatRanged{Min: vc.MinFrameRate, Ideal: vc.IdealFrameRate, Max: vc.MaxFrameRate}
	}
}

func wrapDeviceStream(s mediadevices.MediaStream) core.MediaStream {
	tracks := s.GetTracks()
	out := make([]core.MediaTrack, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, newDeviceTrack(t))
	}
	return NewStream(out...)
}

// deviceTrack adapts a mediadevices track. The enabled flag is advisory:
// it is relayed through signaling so remote tiles can grey out, while the
// device keeps producing frames.
type deviceTrack struct {
	t mediadevices.Track

	mu      sync.RWMutex
	enabled bool
	stopped bool
	onEnded func()
}

func newDeviceTrack(t mediadevices.Track) *deviceTrack {
	dt := &deviceTrack{t: t, enabled: true}
	t.OnEnded(func(error) {
		dt.mu.Lock()
		dt.stopped = true
		fn := dt.onEnded
		dt.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	return dt
}

func (dt *deviceTrack) ID() string { return dt.t.ID() }

func (dt *deviceTrack) Kind() core.TrackKind {
	if dt.t.Kind() == webrtc.RTPCodecTypeAudio {
		return core.TrackAudio
	}
	return core.TrackVideo
}

func (dt *deviceTrack) Local() webrtc.TrackLocal { return dt.t }

func (dt *deviceTrack) Enabled() bool {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return dt.enabled
}

func (dt *deviceTrack) SetEnabled(enabled bool) {
	dt.mu.Lock()
	dt.enabled = enabled
	dt.mu.Unlock()
}

func (dt *deviceTrack) Stopped() bool {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return dt.stopped
}

func (dt *deviceTrack) Stop() {
	dt.mu.Lock()
	if dt.stopped {
		dt.mu.Unlock()
		return
	}
	dt.stopped = true
	dt.mu.Unlock()
	_ = dt.t.Close()
}

func (dt *deviceTrack) OnEnded(fn func()) {
	dt.mu.Lock()
	dt.onEnded = fn
	dt.mu.Unlock()
}
