package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wolfman30/clinic-booking-assistant/internal/archive"
)

// Cost is the estimated price of one turn.
type Cost struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Turn is one user message and the reply produced for it. Turns are append-only; rows
// carrying a feedback tag double as few-shot examples.
type Turn struct {
	ID            string           `json:"id"`
	SessionID     string           `json:"session_id"`
	UserText      string           `json:"user_text"`
	AgentText     string           `json:"agent_text"`
	ToolName      string           `json:"tool_name,omitempty"`
	ToolTrace     []string         `json:"tool_trace,omitempty"`
	Usage         TokenUsage       `json:"usage"`
	Cost          Cost             `json:"cost"`
	Feedback      archive.Feedback `json:"feedback,omitempty"`
	RewrittenText string           `json:"rewritten_text,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// TurnStore persists conversation turns.
type TurnStore interface {
	Append(ctx context.Context, turn *Turn) error
	Count(ctx context.Context, sessionID string) (int, error)
	// Recent returns up to limit turns, oldest first. limit <= 0 returns all of them.
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	// FeedbackExamples returns the newest feedback-tagged turns as examples.
	FeedbackExamples(ctx context.Context, limit int) ([]archive.Example, error)
}

// ErrTurnSessionRequired is returned when a turn has no session id.
var ErrTurnSessionRequired = errors.New("conversation: turn session id required")

func prepareTurn(turn *Turn, now time.Time) error {
	if turn == nil || strings.TrimSpace(turn.SessionID) == "" {
		return ErrTurnSessionRequired
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now.UTC()
	}
	return nil
}

// SQLTurnStore persists turns to PostgreSQL through database/sql.
type SQLTurnStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLTurnStore creates a turn store on db.
func NewSQLTurnStore(db *sql.DB) *SQLTurnStore {
	if db == nil {
		panic("conversation: sql db required")
	}
	return &SQLTurnStore{db: db, now: time.Now}
}

const insertTurnSQL = `
INSERT INTO conversation_turns (
	id, session_id, user_text, agent_text, tool_name, tool_trace,
	input_tokens, output_tokens, total_tokens, cost_amount, cost_currency, created_at
) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12)`

func (s *SQLTurnStore) Append(ctx context.Context, turn *Turn) error {
	if err := prepareTurn(turn, s.now()); err != nil {
		return err
	}
	trace := turn.ToolTrace
	if trace == nil {
		trace = []string{}
	}
	_, err := s.db.ExecContext(ctx, insertTurnSQL,
		turn.ID, turn.SessionID, turn.UserText, turn.AgentText, turn.ToolName, pq.Array(trace),
		turn.Usage.InputTokens, turn.Usage.OutputTokens, turn.Usage.TotalTokens,
		turn.Cost.Amount, turn.Cost.Currency, turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("conversation: insert turn: %w", err)
	}
	return nil
}

func (s *SQLTurnStore) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation_turns WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("conversation: count turns: %w", err)
	}
	return n, nil
}

const recentTurnsSQL = `
SELECT id, session_id, user_text, agent_text, COALESCE(tool_name, ''), tool_trace,
       input_tokens, output_tokens, total_tokens, cost_amount, cost_currency,
       COALESCE(feedback, ''), COALESCE(rewritten_text, ''), created_at
FROM (
	SELECT * FROM conversation_turns
	WHERE session_id = $1
	ORDER BY created_at DESC
	LIMIT $2
) recent
ORDER BY created_at ASC`

func (s *SQLTurnStore) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	var limitArg any = limit
	if limit <= 0 {
		limitArg = nil
	}
	rows, err := s.db.QueryContext(ctx, recentTurnsSQL, sessionID, limitArg)
	if err != nil {
		return nil, fmt.Errorf("conversation: query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t        Turn
			feedback string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.UserText, &t.AgentText, &t.ToolName, pq.Array(&t.ToolTrace),
			&t.Usage.InputTokens, &t.Usage.OutputTokens, &t.Usage.TotalTokens, &t.Cost.Amount, &t.Cost.Currency,
			&feedback, &t.RewrittenText, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan turn: %w", err)
		}
		t.Feedback = archive.Feedback(feedback)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate turns: %w", err)
	}
	return turns, nil
}

const feedbackTurnsSQL = `
SELECT feedback, user_text, agent_text, COALESCE(rewritten_text, '')
FROM conversation_turns
WHERE feedback IS NOT NULL
ORDER BY created_at DESC
LIMIT $1`

func (s *SQLTurnStore) FeedbackExamples(ctx context.Context, limit int) ([]archive.Example, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, feedbackTurnsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: query feedback turns: %w", err)
	}
	defer rows.Close()

	var out []archive.Example
	for rows.Next() {
		var ex archive.Example
		var feedback string
		if err := rows.Scan(&feedback, &ex.UserText, &ex.AgentText, &ex.RewrittenText); err != nil {
			return nil, fmt.Errorf("conversation: scan feedback turn: %w", err)
		}
		ex.Feedback = archive.Feedback(feedback)
		if ex.Valid() {
			out = append(out, ex)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate feedback turns: %w", err)
	}
	return out, nil
}

// MemoryTurnStore keeps turns in process memory.
type MemoryTurnStore struct {
	mu    sync.Mutex
	turns []Turn
	now   func() time.Time
}

func NewMemoryTurnStore() *MemoryTurnStore {
	return &MemoryTurnStore{now: time.Now}
}

func (s *MemoryTurnStore) Append(_ context.Context, turn *Turn) error {
	if err := prepareTurn(turn, s.now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *turn
	copied.ToolTrace = append([]string(nil), turn.ToolTrace...)
	s.turns = append(s.turns, copied)
	return nil
}

func (s *MemoryTurnStore) Count(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.turns {
		if t.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryTurnStore) Recent(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Turn
	for _, t := range s.turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryTurnStore) FeedbackExamples(_ context.Context, limit int) ([]archive.Example, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []archive.Example
	for i := len(s.turns) - 1; i >= 0; i-- {
		t := s.turns[i]
		ex := archive.Example{Feedback: t.Feedback, UserText: t.UserText, AgentText: t.AgentText, RewrittenText: t.RewrittenText}
		if t.Feedback == "" || !ex.Valid() {
			continue
		}
		out = append(out, ex)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Tag sets feedback on a stored turn. Used by tests and local tooling.
func (s *MemoryTurnStore) Tag(turnID string, feedback archive.Feedback, rewritten string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.turns {
		if s.turns[i].ID == turnID {
			s.turns[i].Feedback = feedback
			s.turns[i].RewrittenText = rewritten
			return true
		}
	}
	return false
}
