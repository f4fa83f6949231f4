package domain

import "time"

// ChatMessage is an immutable relayed message. The engine never persists
// chat; history shown at join time comes from the server snapshot.
type ChatMessage struct {
	ID              string        `json:"id"`
	RoomID          RoomID        `json:"room_id"`
	ParticipantID   ParticipantID `json:"participant_id"`
	ParticipantName string        `json:"participant_name"`
	Text            string        `json:"message"`
	Timestamp       time.Time     `json:"timestamp"`
}
