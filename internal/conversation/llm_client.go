package conversation

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/wolfman30/clinic-booking-assistant/internal/tools"
	"github.com/wolfman30/clinic-booking-assistant/pkg/apperr"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
	// ChatRoleTool carries a tool result back to the model.
	ChatRoleTool = "tool"
)

// Upstream error codes attached to apperr.UpstreamTransient.
const (
	CodeRateLimited = "rate_limited"
	CodeUnavailable = "unavailable"
)

const (
	// DefaultConnectTimeout bounds dialing an HTTP LLM endpoint.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultResponseTimeout bounds one LLM call end to end.
	DefaultResponseTimeout = 60 * time.Second
)

// ChatMessage is an internal message representation that can include system prompts,
// tool requests and tool results.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ToolCall is set on assistant messages that requested a tool.
	ToolCall *tools.Call `json:"tool_call,omitempty"`
	// ToolName and ToolCallID are set on tool-result messages.
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type TokenUsage struct {
	InputTokens  int32 `json:"input_tokens"`
	OutputTokens int32 `json:"output_tokens"`
	TotalTokens  int32 `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	if other.TotalTokens == 0 {
		other.TotalTokens = other.InputTokens + other.OutputTokens
	}
	u.TotalTokens += other.TotalTokens
}

type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	Tools       []tools.Declaration
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// LLMResponse holds either text or a tool call.
type LLMResponse struct {
	Text       string
	ToolCall   *tools.Call
	Usage      TokenUsage
	StopReason string
}

type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// ErrEmptyResponse is returned when the model produced neither text nor a tool call.
var ErrEmptyResponse = errors.New("conversation: llm returned an empty response")

func rateLimitedError(err error) error {
	return apperr.UpstreamTransient(CodeRateLimited, "llm rate limited", err)
}

func unavailableError(err error) error {
	return apperr.UpstreamTransient(CodeUnavailable, "llm unavailable", err)
}

func protocolError(message string, err error) error {
	return apperr.UpstreamProtocol(message, err)
}

// IsRateLimited reports whether err is an upstream rate-limit failure.
func IsRateLimited(err error) bool {
	return apperr.Is(err, apperr.KindUpstreamTransient) && apperr.CodeOf(err) == CodeRateLimited
}

func toolCallID(call *tools.Call) string {
	if call == nil {
		return ""
	}
	if call.ID != "" {
		return call.ID
	}
	return "call_" + call.Name
}

// newLLMHTTPClient returns an HTTP client with the connect and response bounds used by the
// HTTP adapters.
func newLLMHTTPClient() *http.Client {
	return &http.Client{
		Timeout: DefaultResponseTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: DefaultConnectTimeout}).DialContext,
			TLSHandshakeTimeout:   DefaultConnectTimeout,
			ResponseHeaderTimeout: DefaultResponseTimeout,
		},
	}
}
