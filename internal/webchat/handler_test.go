package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// stubTurns records turns and replies with a fixed prefix.
type stubTurns struct {
	mu   sync.Mutex
	reqs []conversation.TurnRequest
	fail bool
}

func (s *stubTurns) ProcessTurn(_ context.Context, req conversation.TurnRequest, _ int) conversation.TurnResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if s.fail {
		return conversation.TurnResult{Reply: "Desculpe, estamos com uma dificuldade técnica no momento."}
	}
	return conversation.TurnResult{
		Success: true,
		Reply:   "resposta para " + req.Message,
		Usage:   conversation.TokenUsage{InputTokens: 5, OutputTokens: 3, TotalTokens: 8},
	}
}

func (s *stubTurns) requests() []conversation.TurnRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]conversation.TurnRequest(nil), s.reqs...)
}

func newWSServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, session string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	if session != "" {
		url += "?session=" + session
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {srv.URL}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) OutboundMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg OutboundMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketTurn(t *testing.T) {
	turns := &stubTurns{}
	srv := newWSServer(t, NewHandler(turns, nil, logging.New("error")))
	conn := dial(t, srv, "")

	session := readMessage(t, conn)
	require.Equal(t, "session", session.Type)
	require.NotEmpty(t, session.SessionID)

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "message", Text: "oi"}))
	assert.Equal(t, "typing", readMessage(t, conn).Type)
	reply := readMessage(t, conn)
	assert.Equal(t, "message", reply.Type)
	assert.Equal(t, "assistant", reply.Role)
	assert.Equal(t, "resposta para oi", reply.Text)
	require.NotNil(t, reply.Tokens)
	assert.Equal(t, int32(8), reply.Tokens.TotalTokens)

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "message", Text: "quero marcar"}))
	readMessage(t, conn)
	readMessage(t, conn)

	reqs := turns.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, session.SessionID, reqs[0].SessionID)
	assert.True(t, reqs[0].IsFirstTurn)
	assert.False(t, reqs[1].IsFirstTurn)
}

func TestWebSocketSendsHistoryOnReconnect(t *testing.T) {
	store := conversation.NewMemoryTurnStore()
	require.NoError(t, store.Append(context.Background(), &conversation.Turn{SessionID: "s1", UserText: "oi", AgentText: "Olá!"}))
	turns := &stubTurns{}
	srv := newWSServer(t, NewHandler(turns, store, logging.New("error")))
	conn := dial(t, srv, "s1")

	assert.Equal(t, "s1", readMessage(t, conn).SessionID)
	history := readMessage(t, conn)
	require.Equal(t, "history", history.Type)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "Olá!", history.Messages[1].Text)

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "message", Text: "e amanhã?"}))
	readMessage(t, conn)
	readMessage(t, conn)
	reqs := turns.requests()
	require.Len(t, reqs, 1)
	assert.False(t, reqs[0].IsFirstTurn)
}

func TestWebSocketFailedTurnIsError(t *testing.T) {
	srv := newWSServer(t, NewHandler(&stubTurns{fail: true}, nil, logging.New("error")))
	conn := dial(t, srv, "s2")
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "message", Text: "oi"}))
	readMessage(t, conn)
	reply := readMessage(t, conn)
	assert.Equal(t, "error", reply.Type)
	assert.Contains(t, reply.Text, "dificuldade técnica")
}

func TestWebSocketIgnoresBlankMessages(t *testing.T) {
	turns := &stubTurns{}
	srv := newWSServer(t, NewHandler(turns, nil, logging.New("error")))
	conn := dial(t, srv, "s3")
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "message", Text: "   "}))
	require.NoError(t, conn.WriteJSON(InboundMessage{Type: "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn).Type)
	assert.Empty(t, turns.requests())
}

func TestWebSocketReplacesConnectionForSameSession(t *testing.T) {
	h := NewHandler(&stubTurns{}, nil, logging.New("error"))
	srv := newWSServer(t, h)

	first := dial(t, srv, "s4")
	readMessage(t, first)
	second := dial(t, srv, "s4")
	readMessage(t, second)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg OutboundMessage
	assert.Error(t, first.ReadJSON(&msg), "replaced connection must be closed")
	assert.Equal(t, 1, h.ActiveSessions())
}

func TestHandleHistory(t *testing.T) {
	store := conversation.NewMemoryTurnStore()
	require.NoError(t, store.Append(context.Background(), &conversation.Turn{SessionID: "sess1", UserText: "Olá", AgentText: "Oi! Como posso ajudar?"}))
	h := NewHandler(&stubTurns{}, store, logging.New("error"))

	req := httptest.NewRequest(http.MethodGet, "/chat/history?session=sess1", nil)
	w := httptest.NewRecorder()
	h.HandleHistory(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []HistoryMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "user", resp.Messages[0].Role)
	assert.Equal(t, "Olá", resp.Messages[0].Text)
	assert.Equal(t, "assistant", resp.Messages[1].Role)
}

func TestHandleHistory_MissingSession(t *testing.T) {
	h := NewHandler(&stubTurns{}, nil, logging.New("error"))

	w := httptest.NewRecorder()
	h.HandleHistory(w, httptest.NewRequest(http.MethodGet, "/chat/history", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHistory_NoStore(t *testing.T) {
	h := NewHandler(&stubTurns{}, nil, logging.New("error"))

	w := httptest.NewRecorder()
	h.HandleHistory(w, httptest.NewRequest(http.MethodGet, "/chat/history?session=sess1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []HistoryMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Messages)
}
