package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/resspec/resspec/orchestrator"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

// Hub fans pipeline events out to websocket subscribers. A subscriber may
// pass ?user_id= to receive only its own analyses.
type Hub struct {
	mu       sync.Mutex
	clients  map[*subscriber]struct{}
	closed   bool
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

type subscriber struct {
	conn   *websocket.Conn
	userID string
	send   chan orchestrator.Event
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients: make(map[*subscriber]struct{}),
		log:     log.WithField("component", "hub"),
		upgrader: websocket.Upgrader{
			// the front-end is served from a different origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Publish never blocks; a subscriber whose buffer is full misses the event.
func (h *Hub) Publish(e orchestrator.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.userID != "" && c.userID != e.UserID {
			continue
		}
		select {
		case c.send <- e:
		default:
			h.log.WithField("kind", e.Kind).Warn("subscriber too slow, event dropped")
		}
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &subscriber{conn: conn, userID: r.URL.Query().Get("user_id"), send: make(chan orchestrator.Event, sendBuffer)}
	if !h.add(c) {
		_ = conn.Close()
		return
	}

	go h.writeLoop(c)
	// the read loop only notices the peer going away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (h *Hub) add(c *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) writeLoop(c *subscriber) {
	defer c.conn.Close()
	for e := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(e); err != nil {
			h.log.WithError(err).Debug("websocket write failed")
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(writeWait))
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Len reports the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
