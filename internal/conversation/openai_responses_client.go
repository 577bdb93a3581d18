package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wolfman30/clinic-booking-assistant/internal/tools"
)

const (
	toolResultMarker = "[tool-result %s]: %s"
	toolCallMarker   = "[tool-call %s]: %s"
)

// OpenAIResponsesClient speaks the structured-input plus tool-declaration protocol
// (POST /responses). That protocol has no tool-result role here, so prior tool traffic is
// replayed as annotated assistant text which the output filter later strips.
type OpenAIResponsesClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewOpenAIResponsesClient builds a client. baseURL "" means the public API.
func NewOpenAIResponsesClient(apiKey, baseURL, model string, httpClient *http.Client) *OpenAIResponsesClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if httpClient == nil {
		httpClient = newLLMHTTPClient()
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIResponsesClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
	}
}

type responsesInputItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type responsesRequest struct {
	Model           string               `json:"model"`
	Instructions    string               `json:"instructions,omitempty"`
	Input           []responsesInputItem `json:"input"`
	Tools           []responsesTool      `json:"tools,omitempty"`
	MaxOutputTokens int32                `json:"max_output_tokens,omitempty"`
	Temperature     *float32             `json:"temperature,omitempty"`
	TopP            *float32             `json:"top_p,omitempty"`
}

type responsesContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesOutputItem struct {
	Type      string             `json:"type"`
	Role      string             `json:"role,omitempty"`
	Content   []responsesContent `json:"content,omitempty"`
	CallID    string             `json:"call_id,omitempty"`
	Name      string             `json:"name,omitempty"`
	Arguments string             `json:"arguments,omitempty"`
}

type responsesResponse struct {
	ID     string                `json:"id"`
	Status string                `json:"status"`
	Output []responsesOutputItem `json:"output"`
	Usage  struct {
		InputTokens  int32 `json:"input_tokens"`
		OutputTokens int32 `json:"output_tokens"`
		TotalTokens  int32 `json:"total_tokens"`
	} `json:"usage"`
}

type responsesErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete implements LLMClient.
func (c *OpenAIResponsesClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	ctx, span := openaiTracer.Start(ctx, "conversation.openai.responses")
	defer span.End()

	body, err := c.buildRequest(req)
	if err != nil {
		return LLMResponse{}, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: encode responses request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, DefaultResponseTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(payload))
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: build responses request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return LLMResponse{}, unavailableError(fmt.Errorf("conversation: responses call failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return LLMResponse{}, unavailableError(fmt.Errorf("conversation: read responses body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody responsesErrorBody
		_ = json.Unmarshal(raw, &errBody)
		err := fmt.Errorf("conversation: responses status %d: %s", resp.StatusCode, errBody.Error.Message)
		span.RecordError(err)
		return LLMResponse{}, classifyHTTPStatus(resp.StatusCode, err)
	}

	var decoded responsesResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return LLMResponse{}, protocolError("responses body is not valid JSON", err)
	}
	return parseResponsesOutput(decoded)
}

func (c *OpenAIResponsesClient) buildRequest(req LLMRequest) (responsesRequest, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	out := responsesRequest{Model: model, MaxOutputTokens: req.MaxTokens}
	if req.Temperature >= 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	if req.TopP > 0 {
		p := req.TopP
		out.TopP = &p
	}

	var instructions []string
	for _, block := range req.System {
		if strings.TrimSpace(block) != "" {
			instructions = append(instructions, block)
		}
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case ChatRoleSystem:
			instructions = append(instructions, msg.Content)
		case ChatRoleUser:
			out.Input = append(out.Input, responsesInputItem{Role: "user", Content: msg.Content})
		case ChatRoleAssistant:
			content := msg.Content
			if msg.ToolCall != nil {
				args, err := json.Marshal(msg.ToolCall.Arguments)
				if err != nil {
					return responsesRequest{}, fmt.Errorf("conversation: encode tool arguments: %w", err)
				}
				content = strings.TrimSpace(content + "\n" + fmt.Sprintf(toolCallMarker, msg.ToolCall.Name, args))
			}
			out.Input = append(out.Input, responsesInputItem{Role: "assistant", Content: content})
		case ChatRoleTool:
			out.Input = append(out.Input, responsesInputItem{
				Role:    "assistant",
				Content: fmt.Sprintf(toolResultMarker, msg.ToolName, msg.Content),
			})
		default:
			return responsesRequest{}, fmt.Errorf("conversation: unsupported role %q", msg.Role)
		}
	}
	out.Instructions = strings.Join(instructions, "\n\n")

	for _, decl := range req.Tools {
		out.Tools = append(out.Tools, responsesTool{
			Type:        "function",
			Name:        decl.Name(),
			Description: decl.Description,
			Parameters:  decl.JSONSchema(),
		})
	}
	return out, nil
}

func parseResponsesOutput(decoded responsesResponse) (LLMResponse, error) {
	out := LLMResponse{
		StopReason: decoded.Status,
		Usage: TokenUsage{
			InputTokens:  decoded.Usage.InputTokens,
			OutputTokens: decoded.Usage.OutputTokens,
			TotalTokens:  decoded.Usage.TotalTokens,
		},
	}

	var text strings.Builder
	for _, item := range decoded.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Type == "output_text" || part.Type == "text" {
					text.WriteString(part.Text)
				}
			}
		case "function_call":
			if out.ToolCall != nil {
				continue
			}
			args, err := decodeToolArguments(item.Arguments)
			if err != nil {
				return LLMResponse{}, err
			}
			out.ToolCall = &tools.Call{ID: item.CallID, Name: item.Name, Arguments: args}
		}
	}
	out.Text = strings.TrimSpace(text.String())
	if out.ToolCall == nil && out.Text == "" {
		return LLMResponse{}, protocolError("responses output had no text or tool call", ErrEmptyResponse)
	}
	return out, nil
}
