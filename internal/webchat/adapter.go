package webchat

import (
	"time"

	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
)

// HistoryFromTurns flattens stored turns into the widget's message list, one user and one
// assistant entry per turn. Turns without user text (welcome turns) contribute only the reply.
func HistoryFromTurns(turns []conversation.Turn) []HistoryMessage {
	history := make([]HistoryMessage, 0, len(turns)*2)
	for _, turn := range turns {
		ts := turn.CreatedAt.UTC().Format(time.RFC3339)
		if turn.UserText != "" {
			history = append(history, HistoryMessage{Role: "user", Text: turn.UserText, Timestamp: ts})
		}
		if turn.AgentText != "" {
			history = append(history, HistoryMessage{Role: "assistant", Text: turn.AgentText, Timestamp: ts})
		}
	}
	return history
}
