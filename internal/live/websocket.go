package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/pricefinder/pricefinder/internal/chat"
	"github.com/pricefinder/pricefinder/internal/identity"
	"github.com/pricefinder/pricefinder/internal/session"
)

// inbound is a client-to-server frame.
type inbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Handler serves GET /ws/session.
type Handler struct {
	registry      *session.Registry
	controller    *chat.Controller
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a WebSocket handler.
func NewHandler(registry *session.Registry, controller *chat.Controller, hub *Hub, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		registry:      registry,
		controller:    controller,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "client_id", clientID, "tab_id", tabID, "ip", r.RemoteAddr)

	if clientID == "" {
		http.Error(w, "missing client identity", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	entry, err := h.registry.Get(r.Context(), clientID)
	if err != nil {
		slog.Error("Failed to load session for socket", "client_id", clientID, "error", err)
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "client_id", clientID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "client_id", clientID)
		}
	}()

	h.hub.Register(clientID, tabID, ws)
	defer h.hub.Unregister(clientID, tabID, ws)

	view := session.NewView(entry.Snapshot())
	if err := writeFrame(r.Context(), ws, Frame{Type: "snapshot", Session: &view}); err != nil {
		slog.Debug("Failed to send initial snapshot", "error", err)
		return
	}

	h.readLoop(r.Context(), ws, clientID)
	slog.Info("Live session ended", "client_id", clientID, "tab_id", tabID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, clientID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "client_id", clientID)
			} else {
				slog.Debug("WebSocket read error", "error", err, "client_id", clientID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			_ = writeFrame(ctx, ws, Frame{Type: "error", Error: "invalid frame"})
			continue
		}

		switch msg.Type {
		case "ping":
			if err := writeFrame(ctx, ws, Frame{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case "message", "search":
			// Turns run detached from the socket so a disconnect does not
			// abort an agent call already in flight.
			go h.runTurn(context.WithoutCancel(ctx), clientID, msg)
		case "clear":
			if _, err := h.registry.Reset(context.WithoutCancel(ctx), clientID); err != nil {
				h.hub.Send(clientID, Frame{Type: "error", Error: errorText(err)})
			}
		default:
			_ = writeFrame(ctx, ws, Frame{Type: "error", Error: "unknown frame type"})
		}
	}
}

func (h *Handler) runTurn(ctx context.Context, clientID string, msg inbound) {
	entry, err := h.registry.Get(ctx, clientID)
	if err != nil {
		h.hub.Send(clientID, Frame{Type: "error", Error: "failed to load session"})
		return
	}

	var out *chat.TurnOutcome
	if msg.Type == "search" {
		out, err = h.controller.Search(ctx, entry, msg.Content)
	} else {
		out, err = h.controller.Send(ctx, entry, msg.Content)
	}
	if err != nil {
		h.hub.Send(clientID, Frame{Type: "error", Error: errorText(err)})
		return
	}
	h.hub.Send(clientID, Frame{Type: "turn", Phase: string(out.Phase), Reply: out.Reply})
}

func errorText(err error) string {
	switch {
	case errors.Is(err, session.ErrTurnInProgress):
		return "turn in progress"
	case errors.Is(err, chat.ErrEmptyMessage):
		return "message is required"
	default:
		return "internal error"
	}
}

func writeFrame(ctx context.Context, ws *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
