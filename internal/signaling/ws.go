package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hiredeck/callkit/internal/core"
)

const writeWait = 5 * time.Second

// WSTransport implements core.SignalTransport over a gorilla websocket.
// Reads and writes run on dedicated pumps; Send never blocks past the
// buffered queue and reports backpressure instead.
type WSTransport struct {
	url        string
	readLimit  int64
	pingPeriod time.Duration

	conn     *websocket.Conn
	send     chan core.Frame
	incoming chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func NewWSTransport(url string, readLimit int64, pingPeriod time.Duration) *WSTransport {
	return &WSTransport{
		url:        url,
		readLimit:  readLimit,
		pingPeriod: pingPeriod,
		send:       make(chan core.Frame, 32),
		incoming:   make(chan core.Frame, 32),
	}
}

func (t *WSTransport) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.url, err)
	}
	t.conn = conn
	t.conn.SetReadLimit(t.readLimit)

	pongWait := t.pingPeriod + t.pingPeriod/9
	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go t.writePump()
	go t.readPump()
	return nil
}

func (t *WSTransport) Send(f core.Frame) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return errors.New("transport closed")
	}
	select {
	case t.send <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (t *WSTransport) Incoming() <-chan core.Frame { return t.incoming }

func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.send)
	t.mu.Unlock()
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

func (t *WSTransport) writePump() {
	ticker := time.NewTicker(t.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-t.send:
			if !ok {
				_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = t.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signaling.ws").Msg("writePump set deadline")
				return
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signaling.ws").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("module", "signaling.ws").Msg("writePump ping error")
				return
			}
		}
	}
}

func (t *WSTransport) readPump() {
	defer func() {
		_ = t.Close()
		close(t.incoming)
	}()

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.RLock()
			closed := t.closed
			t.mu.RUnlock()
			if !closed {
				log.Warn().Err(err).Str("module", "signaling.ws").Msg("readPump read error")
			}
			return
		}
		t.incoming <- data
	}
}
