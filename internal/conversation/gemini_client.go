package conversation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wolfman30/clinic-booking-assistant/internal/tools"
)

var geminiTracer = otel.Tracer("clinic.internal.conversation.gemini")

// geminiSendFunc sends parts on a chat session primed with history.
type geminiSendFunc func(ctx context.Context, model *genai.GenerativeModel, history []*genai.Content, parts []genai.Part) (*genai.GenerateContentResponse, error)

// GeminiLLMClient implements LLMClient using Google's Gemini API.
type GeminiLLMClient struct {
	client  *genai.Client
	modelID string
	send    geminiSendFunc
}

// NewGeminiLLMClient creates a new Gemini LLM client.
func NewGeminiLLMClient(ctx context.Context, apiKey, modelID string) (*GeminiLLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to create gemini client: %w", err)
	}

	return &GeminiLLMClient{
		client:  client,
		modelID: modelID,
		send:    sendGeminiChat,
	}, nil
}

func sendGeminiChat(ctx context.Context, model *genai.GenerativeModel, history []*genai.Content, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	cs := model.StartChat()
	cs.History = history
	return cs.SendMessage(ctx, parts...)
}

// Complete sends a completion request to Gemini and returns the response.
func (c *GeminiLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	ctx, span := geminiTracer.Start(ctx, "conversation.gemini.generate")
	defer span.End()

	var model *genai.GenerativeModel
	if c.client != nil {
		model = c.client.GenerativeModel(c.modelID)
	} else {
		model = &genai.GenerativeModel{}
	}
	configureGeminiModel(model, req)

	history, last, err := toGeminiContents(req.Messages)
	if err != nil {
		return LLMResponse{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, DefaultResponseTimeout)
	defer cancel()

	resp, err := c.send(callCtx, model, history, last)
	if err != nil {
		span.RecordError(err)
		return LLMResponse{}, classifyGeminiError(err)
	}
	out, err := parseGeminiResponse(resp)
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

func configureGeminiModel(model *genai.GenerativeModel, req LLMRequest) {
	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.TopP > 0 {
		model.SetTopP(req.TopP)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}

	var system []string
	for _, block := range req.System {
		if strings.TrimSpace(block) != "" {
			system = append(system, block)
		}
	}
	for _, msg := range req.Messages {
		if msg.Role == ChatRoleSystem && strings.TrimSpace(msg.Content) != "" {
			system = append(system, msg.Content)
		}
	}
	if len(system) > 0 {
		model.SystemInstruction = genai.NewUserContent(genai.Text(strings.Join(system, "\n\n")))
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, decl := range req.Tools {
			decls = append(decls, geminiDeclaration(decl))
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
}

func geminiDeclaration(decl tools.Declaration) *genai.FunctionDeclaration {
	out := &genai.FunctionDeclaration{Name: decl.Name(), Description: decl.Description}
	if len(decl.Parameters) == 0 {
		return out
	}
	props := make(map[string]*genai.Schema, len(decl.Parameters))
	for _, p := range decl.Parameters {
		typ := genai.TypeString
		if p.Type == "integer" {
			typ = genai.TypeInteger
		}
		props[p.Name] = &genai.Schema{Type: typ, Description: p.Description}
	}
	out.Parameters = &genai.Schema{Type: genai.TypeObject, Properties: props, Required: decl.Required()}
	return out
}

// toGeminiContents splits the conversation into chat history and the parts to send now.
// Tool results become function responses in a user turn.
func toGeminiContents(messages []ChatMessage) ([]*genai.Content, []genai.Part, error) {
	var contents []*genai.Content
	appendParts := func(role string, parts ...genai.Part) {
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, msg := range messages {
		content := strings.TrimSpace(msg.Content)
		switch msg.Role {
		case ChatRoleSystem:
			continue
		case ChatRoleUser:
			if content != "" {
				appendParts("user", genai.Text(content))
			}
		case ChatRoleAssistant:
			if content != "" {
				appendParts("model", genai.Text(content))
			}
			if msg.ToolCall != nil {
				appendParts("model", genai.FunctionCall{Name: msg.ToolCall.Name, Args: msg.ToolCall.Arguments})
			}
		case ChatRoleTool:
			appendParts("user", genai.FunctionResponse{
				Name:     msg.ToolName,
				Response: map[string]any{"result": msg.Content},
			})
		default:
			return nil, nil, fmt.Errorf("conversation: unsupported role %q", msg.Role)
		}
	}

	if len(contents) == 0 {
		return nil, nil, errors.New("conversation: gemini requires at least one message")
	}
	last := contents[len(contents)-1]
	if last.Role != "user" {
		return nil, nil, errors.New("conversation: gemini conversation must end with a user turn")
	}
	return contents[:len(contents)-1], last.Parts, nil
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) (LLMResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return LLMResponse{}, protocolError("gemini returned no candidates", nil)
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return LLMResponse{}, protocolError("gemini returned empty content", ErrEmptyResponse)
	}

	result := LLMResponse{StopReason: candidate.FinishReason.String()}
	var responseText strings.Builder
	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			responseText.WriteString(string(p))
		case genai.FunctionCall:
			if result.ToolCall == nil {
				args := p.Args
				if args == nil {
					args = map[string]any{}
				}
				result.ToolCall = &tools.Call{Name: p.Name, Arguments: args}
			}
		case *genai.FunctionCall:
			if result.ToolCall == nil && p != nil {
				args := p.Args
				if args == nil {
					args = map[string]any{}
				}
				result.ToolCall = &tools.Call{Name: p.Name, Arguments: args}
			}
		}
	}
	result.Text = strings.TrimSpace(responseText.String())
	if result.ToolCall == nil && result.Text == "" {
		return LLMResponse{}, protocolError("gemini returned no text or function call", ErrEmptyResponse)
	}

	if resp.UsageMetadata != nil {
		result.Usage = TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}
	return result, nil
}

func classifyGeminiError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classifyHTTPStatus(gerr.Code, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, fmt.Sprint(http.StatusTooManyRequests)):
		return rateLimitedError(err)
	case strings.Contains(msg, "INVALID_ARGUMENT"):
		return protocolError("gemini rejected request", err)
	default:
		return unavailableError(fmt.Errorf("conversation: gemini completion failed: %w", err))
	}
}

// Close releases resources held by the Gemini client.
func (c *GeminiLLMClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
