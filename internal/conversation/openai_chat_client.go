package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-assistant/internal/tools"
)

var openaiTracer = otel.Tracer("clinic.internal.conversation.openai")

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIChatClient speaks the message-list plus function-declaration protocol.
type OpenAIChatClient struct {
	client chatClient
	model  string
}

// NewOpenAIChatClient builds a client against baseURL ("" means the public API).
func NewOpenAIChatClient(apiKey, baseURL, model string) *OpenAIChatClient {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = newLLMHTTPClient()
	return NewOpenAIChatClientWithAPI(openai.NewClientWithConfig(cfg), model)
}

// NewOpenAIChatClientWithAPI wraps an existing chat completion API.
func NewOpenAIChatClientWithAPI(client chatClient, model string) *OpenAIChatClient {
	if client == nil {
		panic("conversation: chat client cannot be nil")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIChatClient{client: client, model: model}
}

// Complete implements LLMClient.
func (c *OpenAIChatClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	ctx, span := openaiTracer.Start(ctx, "conversation.openai.chat")
	defer span.End()

	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.System)+len(req.Messages))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: block})
	}
	for _, msg := range req.Messages {
		converted, err := toOpenAIChatMessage(msg)
		if err != nil {
			return LLMResponse{}, err
		}
		messages = append(messages, converted)
	}

	request := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		request.MaxTokens = int(req.MaxTokens)
	}
	if req.Temperature >= 0 {
		request.Temperature = req.Temperature
	}
	if req.TopP > 0 {
		request.TopP = req.TopP
	}
	for _, decl := range req.Tools {
		request.Functions = append(request.Functions, openai.FunctionDefinition{
			Name:        decl.Name(),
			Description: decl.Description,
			Parameters:  decl.JSONSchema(),
		})
	}

	callCtx, cancel := context.WithTimeout(ctx, DefaultResponseTimeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, request)
	if err != nil {
		span.RecordError(err)
		return LLMResponse{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		err := protocolError("openai returned no choices", nil)
		span.RecordError(err)
		return LLMResponse{}, err
	}

	choice := resp.Choices[0]
	out := LLMResponse{
		Text:       strings.TrimSpace(choice.Message.Content),
		StopReason: string(choice.FinishReason),
		Usage: TokenUsage{
			InputTokens:  int32(resp.Usage.PromptTokens),
			OutputTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:  int32(resp.Usage.TotalTokens),
		},
	}
	if fc := choice.Message.FunctionCall; fc != nil && fc.Name != "" {
		args, err := decodeToolArguments(fc.Arguments)
		if err != nil {
			span.RecordError(err)
			return LLMResponse{}, err
		}
		out.ToolCall = &tools.Call{Name: fc.Name, Arguments: args}
	}
	if out.ToolCall == nil && out.Text == "" {
		return LLMResponse{}, protocolError("openai returned empty message", ErrEmptyResponse)
	}

	if span.IsRecording() {
		span.SetAttributes(
			attribute.Int("clinic.openai.choices", len(resp.Choices)),
			attribute.Bool("clinic.openai.tool_call", out.ToolCall != nil),
		)
	}
	return out, nil
}

func toOpenAIChatMessage(msg ChatMessage) (openai.ChatCompletionMessage, error) {
	switch msg.Role {
	case ChatRoleSystem:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Content}, nil
	case ChatRoleUser:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content}, nil
	case ChatRoleAssistant:
		out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
		if msg.ToolCall != nil {
			args, err := json.Marshal(msg.ToolCall.Arguments)
			if err != nil {
				return openai.ChatCompletionMessage{}, fmt.Errorf("conversation: encode function arguments: %w", err)
			}
			out.FunctionCall = &openai.FunctionCall{Name: msg.ToolCall.Name, Arguments: string(args)}
		}
		return out, nil
	case ChatRoleTool:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleFunction, Name: msg.ToolName, Content: msg.Content}, nil
	default:
		return openai.ChatCompletionMessage{}, fmt.Errorf("conversation: unsupported role %q", msg.Role)
	}
}

func decodeToolArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, protocolError("tool arguments are not a JSON object", err)
	}
	return args, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyHTTPStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyHTTPStatus(reqErr.HTTPStatusCode, err)
	}
	return unavailableError(fmt.Errorf("conversation: openai completion failed: %w", err))
}

func classifyHTTPStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return rateLimitedError(err)
	case status >= 500 || status == 0:
		return unavailableError(err)
	default:
		return protocolError(fmt.Sprintf("llm rejected request with status %d", status), err)
	}
}
