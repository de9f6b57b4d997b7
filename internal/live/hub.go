// Package live broadcasts notifications to websocket subscribers. It is the
// delivery surface for the domain Notifier port: each notification goes out
// as one JSON frame to every connected client.
package live

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Notification is the frame sent to subscribers.
type Notification struct {
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Category string    `json:"category"`
	SentAt   time.Time `json:"sentAt"`
}

// Hub tracks websocket subscribers and fans notifications out to them.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	// writeMu serializes frame writes. The websocket library allows at most
	// one writer per connection, so concurrent Notify calls must take turns.
	writeMu sync.Mutex
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the client goes away. Subscribers are read-drained; anything they send is
// discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	subscribers := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("subscriber connected", "subscribers", subscribers)

	go h.drain(conn)
}

func (h *Hub) drain(conn *websocket.Conn) {
	defer h.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		conn.Close()
	}
	h.mu.Unlock()
}

// Notify implements the domain Notifier port. Slow or broken subscribers are
// dropped rather than blocking the caller.
func (h *Hub) Notify(ctx context.Context, title, body, category string) {
	frame := Notification{
		Title:    title,
		Body:     body,
		Category: category,
		SentAt:   time.Now().UTC(),
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			h.logger.Warn("dropping subscriber", "error", err)
			h.drop(conn)
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	for conn := range h.conns {
		conn.Close()
		delete(h.conns, conn)
	}
	h.mu.Unlock()
}
