package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-assistant/internal/tools"
)

var bedrockTracer = otel.Tracer("clinic.internal.conversation.bedrock")

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type BedrockLLMClient struct {
	api     bedrockConverseAPI
	modelID string
}

func NewBedrockLLMClient(api bedrockConverseAPI, modelID string) *BedrockLLMClient {
	if api == nil {
		panic("conversation: bedrock converse client cannot be nil")
	}
	return &BedrockLLMClient{api: api, modelID: modelID}
}

func (c *BedrockLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	ctx, span := bedrockTracer.Start(ctx, "conversation.bedrock.converse")
	defer span.End()

	modelID := req.Model
	if strings.TrimSpace(modelID) == "" {
		modelID = c.modelID
	}
	if strings.TrimSpace(modelID) == "" {
		return LLMResponse{}, errors.New("conversation: bedrock model id is required")
	}

	systemBlocks := make([]brtypes.SystemContentBlock, 0, len(req.System))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: block})
	}

	messages, extraSystem, err := toBedrockMessages(req.Messages)
	if err != nil {
		return LLMResponse{}, err
	}
	systemBlocks = append(systemBlocks, extraSystem...)

	inference := &brtypes.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(req.MaxTokens)
	}
	// Allow callers to omit temperature by passing a negative value.
	if req.Temperature >= 0 {
		inference.Temperature = aws.Float32(req.Temperature)
	}
	if req.TopP != 0 {
		inference.TopP = aws.Float32(req.TopP)
	}
	if inference.MaxTokens == nil && inference.Temperature == nil && inference.TopP == nil {
		inference = nil
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(modelID),
		System:          systemBlocks,
		Messages:        messages,
		InferenceConfig: inference,
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = bedrockToolConfig(req.Tools)
	}

	callCtx, cancel := context.WithTimeout(ctx, DefaultResponseTimeout)
	defer cancel()

	out, err := c.api.Converse(callCtx, input)
	if err != nil {
		span.RecordError(err)
		return LLMResponse{}, classifyBedrockError(err)
	}

	resp, err := parseBedrockOutput(out)
	if err != nil {
		span.RecordError(err)
		return LLMResponse{}, err
	}
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("clinic.bedrock.stop_reason", resp.StopReason),
			attribute.Bool("clinic.bedrock.tool_call", resp.ToolCall != nil),
		)
	}
	return resp, nil
}

// toBedrockMessages converts the history into Converse messages. Tool results travel as user
// messages, and consecutive same-role messages are merged because Converse requires
// alternating roles.
func toBedrockMessages(in []ChatMessage) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var (
		messages []brtypes.Message
		system   []brtypes.SystemContentBlock
	)
	appendBlock := func(role brtypes.ConversationRole, block brtypes.ContentBlock) {
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, block)
			return
		}
		messages = append(messages, brtypes.Message{Role: role, Content: []brtypes.ContentBlock{block}})
	}

	for _, msg := range in {
		content := strings.TrimSpace(msg.Content)
		switch msg.Role {
		case ChatRoleSystem:
			if content != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: content})
			}
		case ChatRoleUser:
			if content != "" {
				appendBlock(brtypes.ConversationRoleUser, &brtypes.ContentBlockMemberText{Value: content})
			}
		case ChatRoleAssistant:
			if content != "" {
				appendBlock(brtypes.ConversationRoleAssistant, &brtypes.ContentBlockMemberText{Value: content})
			}
			if msg.ToolCall != nil {
				args := msg.ToolCall.Arguments
				if args == nil {
					args = map[string]any{}
				}
				appendBlock(brtypes.ConversationRoleAssistant, &brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{
						ToolUseId: aws.String(toolCallID(msg.ToolCall)),
						Name:      aws.String(msg.ToolCall.Name),
						Input:     document.NewLazyDocument(args),
					},
				})
			}
		case ChatRoleTool:
			id := msg.ToolCallID
			if id == "" {
				id = "call_" + msg.ToolName
			}
			appendBlock(brtypes.ConversationRoleUser, &brtypes.ContentBlockMemberToolResult{
				Value: brtypes.ToolResultBlock{
					ToolUseId: aws.String(id),
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: msg.Content},
					},
				},
			})
		default:
			return nil, nil, fmt.Errorf("conversation: unsupported role %q", msg.Role)
		}
	}
	return messages, system, nil
}

func bedrockToolConfig(decls []tools.Declaration) *brtypes.ToolConfiguration {
	specs := make([]brtypes.Tool, 0, len(decls))
	for _, decl := range decls {
		specs = append(specs, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(decl.Name()),
				Description: aws.String(decl.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(decl.JSONSchema())},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: specs}
}

func parseBedrockOutput(out *bedrockruntime.ConverseOutput) (LLMResponse, error) {
	if out == nil {
		return LLMResponse{}, protocolError("bedrock response is nil", nil)
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return LLMResponse{}, protocolError("bedrock response did not include a message output", nil)
	}

	resp := LLMResponse{StopReason: string(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = TokenUsage{
			InputTokens:  int32OrZero(out.Usage.InputTokens),
			OutputTokens: int32OrZero(out.Usage.OutputTokens),
			TotalTokens:  int32OrZero(out.Usage.TotalTokens),
		}
	}

	var builder strings.Builder
	for _, block := range msgOut.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			builder.WriteString(v.Value)
		case *brtypes.ContentBlockMemberToolUse:
			if resp.ToolCall != nil {
				continue
			}
			args, err := decodeToolInput(v.Value.Input)
			if err != nil {
				return LLMResponse{}, protocolError("bedrock tool input is not an object", err)
			}
			resp.ToolCall = &tools.Call{
				ID:        aws.ToString(v.Value.ToolUseId),
				Name:      aws.ToString(v.Value.Name),
				Arguments: args,
			}
		}
	}
	resp.Text = strings.TrimSpace(builder.String())
	if resp.ToolCall == nil && resp.Text == "" {
		return LLMResponse{}, protocolError("bedrock response contained no text or tool use", ErrEmptyResponse)
	}
	return resp, nil
}

// decodeToolInput reads a tool input document as a JSON object. Going through JSON keeps
// numbers as float64 like the other adapters and accepts both wire and locally built
// documents.
func decodeToolInput(doc document.Interface) (map[string]any, error) {
	args := map[string]any{}
	if doc == nil {
		return args, nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func classifyBedrockError(err error) error {
	var throttled *brtypes.ThrottlingException
	if errors.As(err, &throttled) {
		return rateLimitedError(err)
	}
	var (
		unavailable *brtypes.ServiceUnavailableException
		internal    *brtypes.InternalServerException
		notReady    *brtypes.ModelNotReadyException
		timeout     *brtypes.ModelTimeoutException
	)
	if errors.As(err, &unavailable) || errors.As(err, &internal) || errors.As(err, &notReady) || errors.As(err, &timeout) {
		return unavailableError(err)
	}
	var validation *brtypes.ValidationException
	if errors.As(err, &validation) {
		return protocolError("bedrock rejected request", err)
	}
	return unavailableError(fmt.Errorf("conversation: bedrock converse failed: %w", err))
}

func int32OrZero(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
