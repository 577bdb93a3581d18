package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// maxMessageBytes caps the request body of a chat message.
const maxMessageBytes = 16 << 10

// TurnProcessor runs one conversation turn. *Orchestrator implements it.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, req TurnRequest, recursionDepth int) TurnResult
}

// MessageResponse is the body of POST /chat/messages.
type MessageResponse struct {
	SessionID string `json:"session_id"`
	TurnResult
}

// TranscriptResponse is the body of the operator transcript endpoint.
type TranscriptResponse struct {
	SessionID string `json:"session_id"`
	Turns     []Turn `json:"turns"`
}

// Handler wires HTTP requests to the orchestrator.
type Handler struct {
	turns  TurnProcessor
	store  TurnStore
	logger *logging.Logger
}

// NewHandler creates a conversation handler. store may be nil when the transcript route
// is not mounted.
func NewHandler(turns TurnProcessor, store TurnStore, logger *logging.Logger) *Handler {
	if turns == nil {
		panic("conversation: turn processor required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		turns:  turns,
		store:  store,
		logger: logger,
	}
}

// Message handles POST /chat/messages. A missing session id starts a new session.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode message request", "error", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Mensagem inválida."})
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
		req.IsFirstTurn = true
	}
	if strings.TrimSpace(req.Message) == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Mensagem vazia."})
		return
	}

	result := h.turns.ProcessTurn(r.Context(), req, 0)
	if result.ToolTrace == nil {
		result.ToolTrace = []string{}
	}
	h.writeJSON(w, http.StatusOK, MessageResponse{SessionID: req.SessionID, TurnResult: result})
}

// Transcript handles GET /admin/sessions/{sessionID}/turns.
func (h *Handler) Transcript(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session id required"})
		return
	}
	if h.store == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "transcripts unavailable"})
		return
	}
	turns, err := h.store.Recent(r.Context(), sessionID, 0)
	if err != nil {
		h.logger.Error("failed to load transcript", "error", err, "session_id", sessionID)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load transcript"})
		return
	}
	if len(turns) == 0 {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	h.writeJSON(w, http.StatusOK, TranscriptResponse{SessionID: sessionID, Turns: turns})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
