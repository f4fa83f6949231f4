// Package domain contains entity without logic, just meta-data
package domain

type (
	RoomID   string
	RoomName string
)

// RoomSettings are the feature flags a room was created with. The server is
// authoritative; the client only keeps a projection.
type RoomSettings struct {
	Video           bool `json:"video"`
	Audio           bool `json:"audio"`
	Chat            bool `json:"chat"`
	ScreenShare     bool `json:"screenShare"`
	MaxParticipants int  `json:"maxParticipants"`
}

// DefaultRoomSettings mirrors what the signaling server assumes when a
// create request carries no settings.
func DefaultRoomSettings() RoomSettings {
	return RoomSettings{
		Video:           true,
		Audio:           true,
		Chat:            true,
		ScreenShare:     true,
		MaxParticipants: 10,
	}
}

// Room is the local projection of a server-side room.
type Room struct {
	ID           RoomID
	Name         RoomName
	Settings     RoomSettings
	Participants map[ParticipantID]*Participant
}

func NewRoom(id RoomID, name RoomName, settings RoomSettings) *Room {
	return &Room{
		ID:           id,
		Name:         name,
		Settings:     settings,
		Participants: make(map[ParticipantID]*Participant),
	}
}
