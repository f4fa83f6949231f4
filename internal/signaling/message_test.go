package signaling

import (
	"encoding/json"
	"testing"
)

func TestMessageType(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		want    MessageType
		wantErr bool
	}{
		{name: "connected ack", raw: `{"type":"connected","participantId":"p1"}`, want: MsgConnected},
		{name: "offer relay", raw: `{"type":"offer","sdp":"v=0","from":"p2"}`, want: MsgOffer},
		{name: "unknown type passes through", raw: `{"type":"shrug"}`, want: MessageType("shrug")},
		{name: "missing type decodes empty", raw: `{"sdp":"v=0"}`, want: ""},
		{name: "malformed json", raw: `{"type":`, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := messageType([]byte(tc.raw))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got type %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("messageType: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRoomJoinedDecode(t *testing.T) {
	raw := `{
		"type": "room-joined",
		"roomId": "r1",
		"name": "standup",
		"settings": {"video": true, "audio": true, "chat": false, "screenShare": true, "maxParticipants": 4},
		"participants": {
			"p1": {"id": "p1", "name": "ada", "is_host": true, "audio_enabled": true, "video_enabled": true},
			"p2": {"id": "p2", "name": "brin", "audio_enabled": false, "video_enabled": true}
		},
		"chatHistory": [
			{"id": "m1", "roomId": "r1", "participant_id": "p1", "participant_name": "ada", "message": "hi", "timestamp": "2026-01-02T15:04:05Z"}
		]
	}`

	var p roomJoinedPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.RoomID != "r1" || p.Name != "standup" {
		t.Fatalf("room identity: got %q %q", p.RoomID, p.Name)
	}
	if p.Settings.MaxParticipants != 4 || p.Settings.Chat {
		t.Fatalf("settings not decoded: %+v", p.Settings)
	}
	if len(p.Participants) != 2 {
		t.Fatalf("got %d participants, want 2", len(p.Participants))
	}
	if !p.Participants["p1"].IsHost {
		t.Fatal("host flag lost")
	}
	if p.Participants["p2"].AudioEnabled {
		t.Fatal("muted flag lost")
	}
	if len(p.ChatHistory) != 1 || p.ChatHistory[0].Message != "hi" {
		t.Fatalf("chat history: %+v", p.ChatHistory)
	}
}

func TestCandidateDecodeWithoutMid(t *testing.T) {
	raw := `{"type":"ice-candidate","candidate":"candidate:1 1 UDP 2122252543 10.0.0.1 50000 typ host","from":"p2"}`
	var p candidatePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.SDPMid != "" || p.SDPMLineIndex != nil {
		t.Fatalf("absent fields must stay zero, got mid=%q idx=%v", p.SDPMid, p.SDPMLineIndex)
	}
	if p.From != "p2" {
		t.Fatalf("from: got %q", p.From)
	}
}
