// Package signaltest runs an in-process signaling server speaking the same
// wire protocol as the production one. Tests point a transport at URL() and
// exercise real create, join, relay and broadcast flows over websockets.
package signaltest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Server struct {
	http *httptest.Server

	mu      sync.Mutex
	clients map[string]*client
	rooms   map[string]*room
}

type client struct {
	id     string
	conn   *websocket.Conn
	roomID string

	writeMu sync.Mutex
}

type room struct {
	id              string
	name            string
	maxParticipants int
	settings        map[string]any
	members         map[string]map[string]any
	chat            []map[string]any
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func New() *Server {
	s := &Server{
		clients: make(map[string]*client),
		rooms:   make(map[string]*room),
	}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", s.handleWS)
	s.http = httptest.NewServer(r)
	return s
}

// URL is the ws:// endpoint clients dial.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws"
}

func (s *Server) Close() {
	s.mu.Lock()
	for _, cl := range s.clients {
		_ = cl.conn.Close()
	}
	s.mu.Unlock()
	s.http.Close()
}

// RoomCount reports how many rooms currently exist.
func (s *Server) RoomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func (s *Server) handleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	cl := &client{id: uuid.NewString(), conn: ws}
	s.mu.Lock()
	s.clients[cl.id] = cl
	s.mu.Unlock()

	cl.send(map[string]any{"type": "connected", "participantId": cl.id})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		s.handle(cl, msg)
	}

	s.drop(cl)
}

func (s *Server) handle(cl *client, msg map[string]any) {
	switch msg["type"] {
	case "create-room":
		s.createRoom(cl, msg)
	case "join-room":
		s.joinRoom(cl, msg)
	case "leave-room":
		s.leaveRoom(cl)
	case "offer", "answer", "ice-candidate":
		s.relay(cl, msg)
	case "chat-message":
		s.chat(cl, msg)
	case "toggle-audio":
		s.toggle(cl, "audio_enabled", "participant-audio-toggle", msg)
	case "toggle-video":
		s.toggle(cl, "video_enabled", "participant-video-toggle", msg)
	case "start-screen-share", "stop-screen-share":
		s.screenShare(cl, msg["type"] == "start-screen-share")
	case "get-room-info":
		s.roomInfo(cl, msg)
	}
}

func (s *Server) createRoom(cl *client, msg map[string]any) {
	part, _ := msg["participant"].(map[string]any)
	if part == nil {
		part = map[string]any{}
	}
	part["id"] = cl.id
	part["is_host"] = true

	settings, _ := msg["settings"].(map[string]any)
	maxP := 10
	if n, ok := msg["maxParticipants"].(float64); ok && n > 0 {
		maxP = int(n)
	}

	r := &room{
		id:              uuid.NewString()[:8],
		name:            str(msg["name"]),
		maxParticipants: maxP,
		settings:        settings,
		members:         map[string]map[string]any{cl.id: part},
	}

	s.mu.Lock()
	s.rooms[r.id] = r
	cl.roomID = r.id
	s.mu.Unlock()

	cl.send(map[string]any{"type": "room-created", "roomId": r.id})
}

func (s *Server) joinRoom(cl *client, msg map[string]any) {
	s.mu.Lock()
	r, ok := s.rooms[str(msg["roomId"])]
	if !ok {
		s.mu.Unlock()
		cl.send(map[string]any{"type": "room-error", "error": "room not found"})
		return
	}
	if len(r.members) >= r.maxParticipants {
		s.mu.Unlock()
		cl.send(map[string]any{"type": "room-error", "error": "room is full"})
		return
	}

	part, _ := msg["participant"].(map[string]any)
	if part == nil {
		part = map[string]any{}
	}
	part["id"] = cl.id
	r.members[cl.id] = part
	cl.roomID = r.id

	snapshot := make(map[string]any, len(r.members))
	for id, m := range r.members {
		snapshot[id] = m
	}
	chat := append([]map[string]any(nil), r.chat...)
	others := s.roomPeersLocked(r, cl.id)
	s.mu.Unlock()

	cl.send(map[string]any{
		"type":         "room-joined",
		"roomId":       r.id,
		"name":         r.name,
		"participants": snapshot,
		"settings":     r.settings,
		"chatHistory":  chat,
	})

	joined := map[string]any{"type": "participant-joined"}
	for k, v := range part {
		joined[k] = v
	}
	for _, peer := range others {
		peer.send(joined)
	}
}

func (s *Server) leaveRoom(cl *client) {
	s.mu.Lock()
	r := s.rooms[cl.roomID]
	if r == nil {
		s.mu.Unlock()
		return
	}
	delete(r.members, cl.id)
	cl.roomID = ""
	if len(r.members) == 0 {
		delete(s.rooms, r.id)
	}
	others := s.roomPeersLocked(r, cl.id)
	s.mu.Unlock()

	for _, peer := range others {
		peer.send(map[string]any{"type": "participant-left", "participantId": cl.id})
	}
}

// relay forwards an SDP or candidate message to its addressee, stamping the
// sender id.
func (s *Server) relay(cl *client, msg map[string]any) {
	to := str(msg["to"])
	s.mu.Lock()
	target := s.clients[to]
	s.mu.Unlock()
	if target == nil {
		return
	}
	msg["from"] = cl.id
	delete(msg, "to")
	target.send(msg)
}

func (s *Server) chat(cl *client, msg map[string]any) {
	s.mu.Lock()
	r := s.rooms[cl.roomID]
	if r == nil {
		s.mu.Unlock()
		return
	}
	name := ""
	if m := r.members[cl.id]; m != nil {
		name = str(m["name"])
	}
	out := map[string]any{
		"type":             "chat-message",
		"id":               uuid.NewString(),
		"roomId":           r.id,
		"participant_id":   cl.id,
		"participant_name": name,
		"message":          str(msg["message"]),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}
	r.chat = append(r.chat, out)
	peers := s.roomPeersLocked(r, "")
	s.mu.Unlock()

	for _, peer := range peers {
		peer.send(out)
	}
}

func (s *Server) toggle(cl *client, field, outType string, msg map[string]any) {
	enabled, _ := msg["enabled"].(bool)
	s.mu.Lock()
	r := s.rooms[cl.roomID]
	if r == nil {
		s.mu.Unlock()
		return
	}
	if m := r.members[cl.id]; m != nil {
		m[field] = enabled
	}
	others := s.roomPeersLocked(r, cl.id)
	s.mu.Unlock()

	for _, peer := range others {
		peer.send(map[string]any{"type": outType, "participantId": cl.id, "enabled": enabled})
	}
}

func (s *Server) screenShare(cl *client, sharing bool) {
	s.mu.Lock()
	r := s.rooms[cl.roomID]
	if r == nil {
		s.mu.Unlock()
		return
	}
	if m := r.members[cl.id]; m != nil {
		m["screen_sharing"] = sharing
	}
	others := s.roomPeersLocked(r, cl.id)
	s.mu.Unlock()

	for _, peer := range others {
		peer.send(map[string]any{"type": "participant-screen-share", "participantId": cl.id, "sharing": sharing})
	}
}

func (s *Server) roomInfo(cl *client, msg map[string]any) {
	s.mu.Lock()
	r, ok := s.rooms[str(msg["roomId"])]
	s.mu.Unlock()
	if !ok {
		cl.send(map[string]any{"type": "room-error", "error": "room not found"})
		return
	}
	cl.send(map[string]any{
		"type":             "room-info",
		"roomId":           r.id,
		"name":             r.name,
		"participantCount": len(r.members),
		"maxParticipants":  r.maxParticipants,
	})
}

func (s *Server) drop(cl *client) {
	s.leaveRoom(cl)
	s.mu.Lock()
	delete(s.clients, cl.id)
	s.mu.Unlock()
	_ = cl.conn.Close()
}

// roomPeersLocked collects the connected clients of a room, skipping the
// given id. Caller holds s.mu.
func (s *Server) roomPeersLocked(r *room, skip string) []*client {
	out := make([]*client, 0, len(r.members))
	for id := range r.members {
		if id == skip {
			continue
		}
		if peer := s.clients[id]; peer != nil {
			out = append(out, peer)
		}
	}
	return out
}

func (cl *client) send(v any) {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	_ = cl.conn.WriteJSON(v)
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
