package conversation

import (
	"context"
	"log/slog"

	"github.com/wolfman30/clinic-booking-assistant/pkg/apperr"
)

// FallbackLLMClient sends a request to a second provider when the primary fails upstream.
type FallbackLLMClient struct {
	primary  LLMClient
	fallback LLMClient
	logger   *slog.Logger
}

// NewFallbackLLMClient pairs primary with fallback. A nil fallback disables the second try.
func NewFallbackLLMClient(primary, fallback LLMClient, logger *slog.Logger) *FallbackLLMClient {
	if primary == nil {
		panic("conversation: primary llm client required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackLLMClient{primary: primary, fallback: fallback, logger: logger}
}

// Complete implements LLMClient. Only upstream failures reach the fallback; a cancelled
// context or a local error is returned as is.
func (c *FallbackLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	resp, primaryErr := c.primary.Complete(ctx, req)
	if primaryErr == nil {
		return resp, nil
	}
	if c.fallback == nil || ctx.Err() != nil || !isUpstream(primaryErr) {
		return LLMResponse{}, primaryErr
	}

	c.logger.Warn("llm provider failed, switching to fallback",
		"error", primaryErr, "kind", string(apperr.KindOf(primaryErr)))
	resp, err := c.fallback.Complete(ctx, req)
	if err != nil {
		c.logger.Error("fallback llm provider failed", "primary_error", primaryErr, "error", err)
		return LLMResponse{}, err
	}
	return resp, nil
}
