package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mackeh/WardClaw/internal/notifications"
)

// Timing for the websocket keepalive cycle. Pings go out well inside
// the pong deadline so a healthy client never times out.
const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingEvery  = (wsPongWait * 9) / 10
	wsOutboxSize = 64
	wsReadLimit  = 512
)

// WSEvent is a single message sent to WebSocket clients. Type is the
// notification event name ("approval.requested", "audit.logged", …) or
// "status" for hub housekeeping.
type WSEvent struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// EventStatus is the hub's own event type for connection housekeeping.
const EventStatus = "status"

// Hub fans events out to every connected WebSocket client. A session
// that cannot keep up loses messages rather than blocking the rest.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*wsSession]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[*wsSession]struct{})}
}

// Broadcast stamps evt if the caller did not and queues it on every
// session.
func (h *Hub) Broadcast(evt WSEvent) {
	if evt.Timestamp == "" {
		evt.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		s.queue(data)
	}
}

// ClientCount returns the number of active connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Notifier adapts the hub into a notifications.Notifier so dispatcher
// events stream to connected clients.
func (h *Hub) Notifier() notifications.Notifier {
	return hubNotifier{hub: h}
}

type hubNotifier struct {
	hub *Hub
}

func (n hubNotifier) Send(_ context.Context, p notifications.Payload) error {
	n.hub.Broadcast(WSEvent{
		Type:      string(p.Event),
		Timestamp: p.Timestamp.UTC().Format(time.RFC3339),
		Data:      p,
	})
	return nil
}

func (n hubNotifier) Handles(notifications.Event) bool { return true }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The server binds to loopback by default; auth happens in the
		// middleware before the upgrade.
		return true
	},
}

// ServeWS upgrades the request and runs the session until the client
// goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := &wsSession{
		conn:   conn,
		outbox: make(chan []byte, wsOutboxSize),
	}
	h.attach(s)
	slog.Debug("websocket client connected", "remote", conn.RemoteAddr().String())

	welcome, _ := json.Marshal(WSEvent{
		Type:      EventStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      map[string]any{"message": "connected", "clients": h.ClientCount()},
	})
	s.queue(welcome)

	go s.writeLoop()
	go func() {
		s.readLoop()
		h.detach(s)
		slog.Debug("websocket client disconnected", "remote", conn.RemoteAddr().String())
	}()
}

func (h *Hub) attach(s *wsSession) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
}

// detach removes the session under the lock and only then closes its
// outbox, so a concurrent Broadcast can never queue on a closed
// channel.
func (h *Hub) detach(s *wsSession) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	close(s.outbox)
}

// wsSession is one connected client. The outbox decouples broadcasts
// from the client's read speed.
type wsSession struct {
	conn   *websocket.Conn
	outbox chan []byte
}

// queue drops the message when the outbox is full so one slow client
// cannot stall a broadcast.
func (s *wsSession) queue(msg []byte) {
	select {
	case s.outbox <- msg:
	default:
	}
}

func (s *wsSession) writeLoop() {
	ping := time.NewTicker(wsPingEvery)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.outbox:
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards anything the client sends; the stream is one-way.
// Returning means the connection is gone.
func (s *wsSession) readLoop() {
	defer s.conn.Close()

	s.conn.SetReadLimit(wsReadLimit)
	s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
