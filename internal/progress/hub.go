// Package progress broadcasts live scan telemetry to websocket clients so a
// long-running session can be watched from a browser or a small dashboard
// script. The hub is fed from engine events by the CLI layer; it never
// touches the scan core.
package progress

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Telemetry is read-only and carries no key material, so any local
	// origin may attach.
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Snapshot is one telemetry frame. It carries cursor integers and counts
// only; nothing sensitive ever enters the hub.
type Snapshot struct {
	SessionID        string `json:"session_id"`
	Backend          string `json:"backend"`
	Scanned          uint64 `json:"scanned"`
	Total            uint64 `json:"total"`
	Matches          int    `json:"matches"`
	Skipped          uint64 `json:"skipped"`
	FingerprintIndex int    `json:"fingerprint_index"`
	TimestampOffset  uint64 `json:"timestamp_offset"`
	Done             bool   `json:"done"`
	SentAt           int64  `json:"sent_at"`
}

// Hub maintains the set of attached clients and fans frames out to them.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	mu sync.Mutex
}

// NewHub builds an idle hub. Run must be called before frames flow.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 10),
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run pumps registrations and broadcasts until the context ends. Slow
// clients are dropped rather than allowed to stall the scan's event path.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a raw frame for every attached client. Drops the frame
// when the hub's buffer is full: telemetry must never backpressure a scan.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
	}
}

// BroadcastSnapshot stamps and sends one telemetry frame.
func (h *Hub) BroadcastSnapshot(s Snapshot) {
	s.SentAt = time.Now().Unix()
	b, err := json.Marshal(s)
	if err != nil {
		log.Printf("progress: failed to encode snapshot: %v", err)
		return
	}
	h.Broadcast(b)
}

// ClientCount reports attached clients, for diagnostics.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// client is a middleman between one websocket connection and the hub.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error { _ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })
	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("progress: client read: %v", err)
			}
			break
		}
		// Clients only listen; inbound messages just keep the connection
		// alive.
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(50 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				return
			}

			// Drain frames queued behind this one into the same message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if _, err := w.Write([]byte("\n")); err != nil {
					return
				}
				if _, err := w.Write(<-c.send); err != nil {
					return
				}
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades the request and attaches the peer to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("progress: failed to upgrade to websocket: %v", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, 256)}
	c.hub.register <- c

	go c.writePump()
	go c.readPump()
}
