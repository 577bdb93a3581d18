package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/wolfman30/clinic-booking-assistant/pkg/retry"
)

// RetryingLLMClient retries rate-limited completions with exponential backoff. Other
// failures are returned immediately so the orchestrator can decide on a whole-turn retry.
type RetryingLLMClient struct {
	inner  LLMClient
	cfg    retry.Config
	logger *slog.Logger
}

// NewRetryingLLMClient wraps inner. A zero cfg means retry.DefaultConfig().
func NewRetryingLLMClient(inner LLMClient, cfg retry.Config, logger *slog.Logger) *RetryingLLMClient {
	if inner == nil {
		panic("conversation: retrying client requires an inner client")
	}
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Retryable = IsRateLimited
	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
		logger.Warn("llm rate limited, backing off",
			"attempt", attempt,
			"next_delay_ms", next.Milliseconds(),
			"error", err.Error(),
		)
	}
	return &RetryingLLMClient{inner: inner, cfg: cfg, logger: logger}
}

// Complete implements LLMClient.
func (c *RetryingLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	var resp LLMResponse
	err := retry.Do(ctx, c.cfg, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.inner.Complete(ctx, req)
		return callErr
	})
	if err != nil {
		return LLMResponse{}, err
	}
	return resp, nil
}
