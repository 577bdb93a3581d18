package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

const (
	historyLimit  = 50
	maxFrameBytes = 16 << 10
	errorReply    = "Desculpe, não consegui processar sua mensagem agora. Pode repetir, por favor?"
)

// Handler manages web chat connections. Each message runs one synchronous turn.
type Handler struct {
	turns   conversation.TurnProcessor
	history conversation.TurnStore
	logger  *logging.Logger

	mu       sync.Mutex
	sessions map[string]*wsConn // sessionID -> active connection
}

type wsConn struct {
	conn *websocket.Conn
	// turn serializes turns of one connection with a replacing connection's turns.
	turn *sync.Mutex
}

// InboundMessage is what the widget sends.
type InboundMessage struct {
	Type string `json:"type"` // "message", "ping"
	Text string `json:"text"`
}

// OutboundMessage is what we send to the widget.
type OutboundMessage struct {
	Type      string                   `json:"type"` // "message", "typing", "history", "session", "pong", "error"
	Text      string                   `json:"text,omitempty"`
	Role      string                   `json:"role,omitempty"`
	SessionID string                   `json:"session_id,omitempty"`
	Timestamp string                   `json:"timestamp,omitempty"`
	Tokens    *conversation.TokenUsage `json:"tokens,omitempty"`
	Messages  []HistoryMessage         `json:"messages,omitempty"`
}

// HistoryMessage is a simplified message for history responses.
type HistoryMessage struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// NewHandler creates a web chat handler. history may be nil.
func NewHandler(turns conversation.TurnProcessor, history conversation.TurnStore, logger *logging.Logger) *Handler {
	if turns == nil {
		panic("webchat: turn processor required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		turns:    turns,
		history:  history,
		logger:   logger,
		sessions: make(map[string]*wsConn),
	}
}

// HandleWebSocket upgrades to WebSocket and handles real-time messaging.
// GET /chat/ws?session=<id>
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		conn.MaxPayloadBytes = maxFrameBytes
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	ctx := r.Context()
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger := h.logger.WithSession(sessionID)

	wsc := h.register(sessionID, conn)
	defer h.unregister(sessionID, wsc)

	_ = websocket.JSON.Send(conn, OutboundMessage{Type: "session", SessionID: sessionID})

	first := true
	if history := h.loadHistory(ctx, sessionID, logger); len(history) > 0 {
		first = false
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "history", Messages: history})
	}

	logger.Info("webchat: connection opened")

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			logger.Debug("webchat: connection closed", "error", err)
			return
		}

		if msg.Type == "ping" {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "pong"})
			continue
		}
		if msg.Type != "message" || strings.TrimSpace(msg.Text) == "" {
			continue
		}

		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "typing"})
		result := h.processMessage(ctx, wsc, conversation.TurnRequest{
			SessionID:   sessionID,
			Message:     msg.Text,
			IsFirstTurn: first,
		})
		first = false

		out := OutboundMessage{
			Type:      "message",
			Role:      "assistant",
			Text:      result.Reply,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Tokens:    &result.Usage,
		}
		if !result.Success {
			out.Type = "error"
			if out.Text == "" {
				out.Text = errorReply
			}
		}
		if err := websocket.JSON.Send(conn, out); err != nil {
			logger.Warn("webchat: failed to send reply", "error", err)
			return
		}
	}
}

func (h *Handler) processMessage(ctx context.Context, wsc *wsConn, req conversation.TurnRequest) conversation.TurnResult {
	wsc.turn.Lock()
	defer wsc.turn.Unlock()
	return h.turns.ProcessTurn(ctx, req, 0)
}

// register makes conn the session's active connection. A previous connection for the same
// session is closed and its turn lock is shared so turns never interleave.
func (h *Handler) register(sessionID string, conn *websocket.Conn) *wsConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	wsc := &wsConn{conn: conn, turn: &sync.Mutex{}}
	if prev, ok := h.sessions[sessionID]; ok {
		wsc.turn = prev.turn
		_ = prev.conn.Close()
	}
	h.sessions[sessionID] = wsc
	return wsc
}

func (h *Handler) unregister(sessionID string, wsc *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[sessionID] == wsc {
		delete(h.sessions, sessionID)
	}
}

// ActiveSessions reports how many sessions have an open connection.
func (h *Handler) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Handler) loadHistory(ctx context.Context, sessionID string, logger *logging.Logger) []HistoryMessage {
	if h.history == nil {
		return nil
	}
	turns, err := h.history.Recent(ctx, sessionID, historyLimit)
	if err != nil {
		logger.Warn("webchat: failed to load history", "error", err)
		return nil
	}
	return HistoryFromTurns(turns)
}

// HandleHistory returns chat history for a session.
// GET /chat/history?session=<id>
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}

	history := []HistoryMessage{}
	if h.history != nil {
		turns, err := h.history.Recent(r.Context(), sessionID, historyLimit)
		if err != nil {
			h.logger.Error("webchat: failed to load history", "error", err, "session_id", sessionID)
			http.Error(w, "failed to load history", http.StatusInternalServerError)
			return
		}
		history = HistoryFromTurns(turns)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": history})
}
