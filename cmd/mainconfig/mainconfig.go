package mainconfig

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/clinic-booking-assistant/internal/config"
	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
	"github.com/wolfman30/clinic-booking-assistant/pkg/retry"
)

// Supported LLM providers.
const (
	ProviderOpenAIChat      = "openai_chat"
	ProviderOpenAIResponses = "openai_responses"
	ProviderBedrock         = "bedrock"
	ProviderGemini          = "gemini"
)

// ErrUnknownProvider is returned for an LLM_PROVIDER value no adapter serves.
var ErrUnknownProvider = errors.New("mainconfig: unknown llm provider")

// LoadAWSConfig centralizes AWS SDK initialization so Bedrock and S3 share the same
// LocalStack/production wiring.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, err
	}
	if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(endpoint)
	}
	return awsCfg, nil
}

// NewProviderClient builds the raw adapter for one provider. The returned closer is never
// nil.
func NewProviderClient(ctx context.Context, cfg *appconfig.Config, provider string) (conversation.LLMClient, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderOpenAIChat:
		if cfg.OpenAIAPIKey == "" {
			return nil, noop, fmt.Errorf("mainconfig: %s requires OPENAI_API_KEY", provider)
		}
		return conversation.NewOpenAIChatClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.LLMModel), noop, nil
	case ProviderOpenAIResponses:
		if cfg.OpenAIAPIKey == "" {
			return nil, noop, fmt.Errorf("mainconfig: %s requires OPENAI_API_KEY", provider)
		}
		httpClient := &http.Client{Timeout: conversation.DefaultResponseTimeout}
		return conversation.NewOpenAIResponsesClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.LLMModel, httpClient), noop, nil
	case ProviderBedrock:
		if cfg.BedrockModelID == "" {
			return nil, noop, fmt.Errorf("mainconfig: %s requires BEDROCK_MODEL_ID", provider)
		}
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, noop, fmt.Errorf("mainconfig: load aws config: %w", err)
		}
		return conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), noop, nil
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, noop, fmt.Errorf("mainconfig: %s requires GEMINI_API_KEY", provider)
		}
		client, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, noop, fmt.Errorf("mainconfig: gemini client: %w", err)
		}
		return client, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

// BuildLLMClient returns the primary provider wrapped with rate-limit backoff, chained to
// the fallback provider when one is configured.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (conversation.LLMClient, func() error, error) {
	primary, closePrimary, err := NewProviderClient(ctx, cfg, cfg.LLMProvider)
	if err != nil {
		return nil, nil, err
	}
	client := conversation.LLMClient(conversation.NewRetryingLLMClient(primary, retry.DefaultConfig(), logger.Slog()))

	fallbackName := strings.TrimSpace(cfg.LLMFallbackProvider)
	if fallbackName == "" || strings.EqualFold(fallbackName, cfg.LLMProvider) {
		return client, closePrimary, nil
	}
	fallback, closeFallback, err := NewProviderClient(ctx, cfg, fallbackName)
	if err != nil {
		logger.Warn("fallback llm provider unavailable, continuing without it", "provider", fallbackName, "error", err)
		return client, closePrimary, nil
	}
	logger.Info("llm fallback enabled", "primary", cfg.LLMProvider, "fallback", fallbackName)
	retried := conversation.NewRetryingLLMClient(fallback, retry.DefaultConfig(), logger.Slog())
	closeBoth := func() error {
		return errors.Join(closePrimary(), closeFallback())
	}
	return conversation.NewFallbackLLMClient(client, retried, logger.Slog()), closeBoth, nil
}
