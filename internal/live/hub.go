// Package live pushes session snapshots to connected browsers over WebSocket.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/pricefinder/pricefinder/internal/domain"
	"github.com/pricefinder/pricefinder/internal/session"
)

const writeTimeout = 5 * time.Second

// Conn is the subset of *websocket.Conn the hub writes to.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Frame is a server-to-client message.
type Frame struct {
	Type    string        `json:"type"`
	Session *session.View `json:"session,omitempty"`
	Phase   string        `json:"phase,omitempty"`
	Reply   string        `json:"reply,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Hub tracks active sockets per client and tab.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[string]Conn),
	}
}

// GetActive returns the active connection for a client and tab.
func (h *Hub) GetActive(clientID, tabID string) Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if tabs, ok := h.active[clientID]; ok {
		return tabs[tabID]
	}
	return nil
}

// Count returns the number of sockets open for clientID.
func (h *Hub) Count(clientID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[clientID])
}

// Register adds a connection for a client/tab, closing any socket it replaces.
func (h *Hub) Register(clientID, tabID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[clientID]; !exists {
		h.active[clientID] = make(map[string]Conn)
	}

	if existing, exists := h.active[clientID][tabID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	h.active[clientID][tabID] = conn
	slog.Info("Live socket registered", "client_id", clientID, "tab_id", tabID)
}

// Unregister removes a connection if it is still the current one for the tab.
func (h *Hub) Unregister(clientID, tabID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if tabs, ok := h.active[clientID]; ok {
		if current, exists := tabs[tabID]; exists && current == conn {
			delete(tabs, tabID)
			if len(tabs) == 0 {
				delete(h.active, clientID)
			}
			slog.Info("Live socket unregistered", "client_id", clientID, "tab_id", tabID)
		}
	}
}

// CloseClient terminates every socket of a client.
func (h *Hub) CloseClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tabs, ok := h.active[clientID]
	if !ok {
		return
	}
	for tid, conn := range tabs {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		slog.Info("Live socket closed", "client_id", clientID, "tab_id", tid)
	}
	delete(h.active, clientID)
}

// CloseAll terminates every registered socket. http.Server.Shutdown does
// not track hijacked connections, so the server calls this on exit.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]string, 0, len(h.active))
	for id := range h.active {
		clients = append(clients, id)
	}
	h.mu.RUnlock()

	for _, id := range clients {
		h.CloseClient(id)
	}
}

// Broadcast sends a snapshot of rec to every socket of its client. It is
// shaped to be used as a session.Observer.
func (h *Hub) Broadcast(rec *domain.SessionRecord) {
	view := session.NewView(rec)
	h.Send(rec.ClientID, Frame{Type: "snapshot", Session: &view})
}

// Send writes f to every socket of clientID. Write failures are logged and
// left for the read loop to clean up.
func (h *Hub) Send(clientID string, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		slog.Error("Failed to encode live frame", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]Conn, 0, len(h.active[clientID]))
	for _, c := range h.active[clientID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := c.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("Live socket write failed", "client_id", clientID, "error", err)
		}
		cancel()
	}
}
