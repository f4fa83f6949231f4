package core

import (
	"errors"
	"fmt"

	"github.com/hiredeck/callkit/internal/domain"
)

var (
	// ErrNotConnected is returned for operations that need a live signaling
	// connection before Connect succeeded.
	ErrNotConnected = errors.New("signaling not connected")

	// ErrNoLocalStream is the sentinel for media toggles issued before the
	// local stream exists. Not a failure: the toggle simply had no effect.
	ErrNoLocalStream = errors.New("no local stream")

	// ErrSessionClosed is returned for operations on a left session.
	ErrSessionClosed = errors.New("session closed")

	ErrBackpressure = errors.New("backpressure")
)

// MediaAccessError: capture permission denied or no device present.
// Fatal to joining; the call is aborted.
type MediaAccessError struct {
	Err error
}

func (e *MediaAccessError) Error() string { return fmt.Sprintf("media access: %v", e.Err) }
func (e *MediaAccessError) Unwrap() error { return e.Err }

// SignalingConnectionError: the signaling transport is unreachable or
// dropped. Surfaced once; no automatic retry.
type SignalingConnectionError struct {
	Err error
}

func (e *SignalingConnectionError) Error() string { return fmt.Sprintf("signaling: %v", e.Err) }
func (e *SignalingConnectionError) Unwrap() error { return e.Err }

// RoomError: the server rejected a create or join request.
type RoomError struct {
	Reason string
}

func (e *RoomError) Error() string { return fmt.Sprintf("room error: %s", e.Reason) }

// PeerConnectionError: a single link degraded terminally. Scoped to one
// participant; the rest of the call is unaffected.
type PeerConnectionError struct {
	ParticipantID domain.ParticipantID
	Err           error
}

func (e *PeerConnectionError) Error() string {
	return fmt.Sprintf("peer %s: %v", e.ParticipantID, e.Err)
}
func (e *PeerConnectionError) Unwrap() error { return e.Err }

// ScreenShareError: display capture failed or the picker was cancelled.
// The screen-share flag reverts; the camera track stays live.
type ScreenShareError struct {
	Err error
}

func (e *ScreenShareError) Error() string { return fmt.Sprintf("screen share: %v", e.Err) }
func (e *ScreenShareError) Unwrap() error { return e.Err }
