// Package signaling is the typed client for the room signaling server. It
// owns connectivity and message (de)serialization and has no WebRTC
// knowledge beyond carrying SDP and candidate payloads opaquely.
package signaling

import "encoding/json"

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	// server → client on accept
	MsgConnected MessageType = "connected"

	// room lifecycle
	MsgCreateRoom  MessageType = "create-room"
	MsgRoomCreated MessageType = "room-created"
	MsgJoinRoom    MessageType = "join-room"
	MsgRoomJoined  MessageType = "room-joined"
	MsgRoomError   MessageType = "room-error"
	MsgLeaveRoom   MessageType = "leave-room"

	// roster
	MsgParticipantJoined MessageType = "participant-joined"
	MsgParticipantLeft   MessageType = "participant-left"

	// point-to-point WebRTC relay
	MsgOffer        MessageType = "offer"
	MsgAnswer       MessageType = "answer"
	MsgIceCandidate MessageType = "ice-candidate"

	// chat, broadcast to the room
	MsgChatMessage MessageType = "chat-message"

	// media-state relay
	MsgToggleAudio       MessageType = "toggle-audio"
	MsgToggleVideo       MessageType = "toggle-video"
	MsgStartScreenShare  MessageType = "start-screen-share"
	MsgStopScreenShare   MessageType = "stop-screen-share"
	MsgAudioToggled      MessageType = "participant-audio-toggle"
	MsgVideoToggled      MessageType = "participant-video-toggle"
	MsgScreenShareToggle MessageType = "participant-screen-share"

	// room queries
	MsgGetRoomInfo MessageType = "get-room-info"
	MsgRoomInfo    MessageType = "room-info"
)

// envelope is decoded first to pick the payload struct.
type envelope struct {
	Type MessageType `json:"type"`
}

func messageType(data []byte) (MessageType, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

type participantJSON struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Avatar        string `json:"avatar"`
	Role          string `json:"role"`
	IsHost        bool   `json:"is_host"`
	AudioEnabled  bool   `json:"audio_enabled"`
	VideoEnabled  bool   `json:"video_enabled"`
	ScreenSharing bool   `json:"screen_sharing"`
}

type settingsJSON struct {
	Video           bool `json:"video"`
	Audio           bool `json:"audio"`
	Chat            bool `json:"chat"`
	ScreenShare     bool `json:"screenShare"`
	MaxParticipants int  `json:"maxParticipants"`
}

type chatJSON struct {
	ID              string `json:"id"`
	RoomID          string `json:"roomId"`
	ParticipantID   string `json:"participant_id"`
	ParticipantName string `json:"participant_name"`
	Message         string `json:"message"`
	Timestamp       string `json:"timestamp"`
}

type connectedPayload struct {
	Type          MessageType `json:"type"`
	ParticipantID string      `json:"participantId"`
}

type createRoomPayload struct {
	Type            MessageType     `json:"type"`
	Name            string          `json:"name"`
	MaxParticipants int             `json:"maxParticipants"`
	Settings        settingsJSON    `json:"settings"`
	Participant     participantJSON `json:"participant"`
}

type roomCreatedPayload struct {
	Type   MessageType `json:"type"`
	RoomID string      `json:"roomId"`
}

type joinRoomPayload struct {
	Type        MessageType     `json:"type"`
	RoomID      string          `json:"roomId"`
	Participant participantJSON `json:"participant"`
}

type roomJoinedPayload struct {
	Type         MessageType                `json:"type"`
	RoomID       string                     `json:"roomId"`
	Name         string                     `json:"name"`
	Participants map[string]participantJSON `json:"participants"`
	Settings     settingsJSON               `json:"settings"`
	ChatHistory  []chatJSON                 `json:"chatHistory,omitempty"`
}

type roomErrorPayload struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}

type sdpPayload struct {
	Type MessageType `json:"type"`
	SDP  string      `json:"sdp"`
	To   string      `json:"to,omitempty"`
	From string      `json:"from,omitempty"`
}

type candidatePayload struct {
	Type          MessageType `json:"type"`
	Candidate     string      `json:"candidate"`
	SDPMid        string      `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16     `json:"sdpMLineIndex,omitempty"`
	To            string      `json:"to,omitempty"`
	From          string      `json:"from,omitempty"`
}

type chatMessagePayload struct {
	Type MessageType `json:"type"`
	chatJSON
}

type togglePayload struct {
	Type          MessageType `json:"type"`
	ParticipantID string      `json:"participantId,omitempty"`
	Enabled       bool        `json:"enabled"`
}

type screenSharePayload struct {
	Type          MessageType `json:"type"`
	ParticipantID string      `json:"participantId,omitempty"`
	Sharing       bool        `json:"sharing"`
}

type leaveRoomPayload struct {
	Type   MessageType `json:"type"`
	RoomID string      `json:"roomId"`
}

type roomInfoRequestPayload struct {
	Type   MessageType `json:"type"`
	RoomID string      `json:"roomId"`
}

type roomInfoPayload struct {
	Type             MessageType `json:"type"`
	RoomID           string      `json:"roomId"`
	Name             string      `json:"name"`
	ParticipantCount int         `json:"participantCount"`
	MaxParticipants  int         `json:"maxParticipants"`
}
