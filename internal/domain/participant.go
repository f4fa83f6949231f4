package domain

import "errors"

const MaxNameLen = 64

var (
	ErrNameEmpty   = errors.New("participant name empty")
	ErrNameTooLong = errors.New("participant name too long")
)

type ParticipantID string

// Participant is one room member as the server reports it. Media flags are
// the last relayed state, not a guarantee of what is actually flowing.
type Participant struct {
	ID            ParticipantID `json:"id"`
	Name          string        `json:"name"`
	Avatar        string        `json:"avatar"`
	Role          string        `json:"role"`
	IsHost        bool          `json:"is_host"`
	AudioEnabled  bool          `json:"audio_enabled"`
	VideoEnabled  bool          `json:"video_enabled"`
	ScreenSharing bool          `json:"screen_sharing"`
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(name, avatar, role string) (*Participant, error) {
	if len(name) == 0 {
		return nil, ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	return &Participant{
		Name:         name,
		Avatar:       avatar,
		Role:         role,
		AudioEnabled: true,
		VideoEnabled: true,
	}, nil
}
