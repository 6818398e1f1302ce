// Package web serves the coordinator's live dashboard: a websocket hub
// that fans out iteration/phase events to connected viewers. Grounded on
// the teacher's internal/web.Hub (client registry, message envelope,
// broadcast/heartbeat loop idioms), adapted from the ham-radio status feed
// to election iteration events and stripped of the original's per-client
// admin/masking split (spec 4.8 has no authorization tiers).
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// envelope is the wire shape sent to every connected client.
type envelope struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Hub tracks connected dashboard clients and broadcasts iteration/phase
// events to all of them. It implements coordinator.EventSink.
type Hub struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	lastSnapshot envelope
}

// NewHub constructs an empty Hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{log: log, clients: make(map[*websocket.Conn]struct{})}
}

// Publish implements coordinator.EventSink: it fans event/payload out to
// every connected client and remembers it as the snapshot sent to new
// arrivals.
func (h *Hub) Publish(event string, payload map[string]any) {
	env := envelope{Event: event, Data: payload, Timestamp: time.Now().UnixMilli()}
	b, err := json.Marshal(env)
	if err != nil {
		h.log.Warn("failed to marshal dashboard event", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.lastSnapshot = env
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		go func(conn *websocket.Conn) {
			if err := conn.Write(context.Background(), websocket.MessageText, b); err != nil {
				h.log.Debug("dashboard write failed, dropping client", zap.Error(err))
				h.remove(conn)
			}
		}(c)
	}
}

// Handler upgrades incoming requests to websocket connections and
// registers them as dashboard clients.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			http.Error(w, "websocket_accept_failed", http.StatusInternalServerError)
			return
		}

		h.mu.Lock()
		h.clients[c] = struct{}{}
		snap := h.lastSnapshot
		clientCount := len(h.clients)
		h.mu.Unlock()
		h.log.Info("dashboard client connected", zap.Int("total", clientCount))

		if snap.Event != "" {
			if b, err := json.Marshal(snap); err == nil {
				_ = c.Write(context.Background(), websocket.MessageText, b)
			}
		}

		go func() {
			defer func() {
				h.remove(c)
				c.Close(websocket.StatusNormalClosure, "")
			}()
			for {
				if _, _, err := c.Read(context.Background()); err != nil {
					return
				}
			}
		}()
	}
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// HeartbeatLoop periodically re-emits the last snapshot so clients that
// missed an event (or just connected during a quiet phase) stay current.
// It blocks until ctx is cancelled.
func (h *Hub) HeartbeatLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.RLock()
			snap := h.lastSnapshot
			h.mu.RUnlock()
			if snap.Event == "" {
				continue
			}
			b, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			h.mu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()
			for _, c := range clients {
				go func(conn *websocket.Conn) { _ = conn.Write(context.Background(), websocket.MessageText, b) }(c)
			}
		}
	}
}
