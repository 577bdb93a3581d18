// Command llmtest sends one Portuguese booking request to every LLM provider that has
// credentials configured and reports whether it answered with text or a tool call.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/clinic-booking-assistant/cmd/mainconfig"
	"github.com/wolfman30/clinic-booking-assistant/internal/clinic"
	appconfig "github.com/wolfman30/clinic-booking-assistant/internal/config"
	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/internal/tools"
)

var providers = []string{
	mainconfig.ProviderOpenAIChat,
	mainconfig.ProviderOpenAIResponses,
	mainconfig.ProviderBedrock,
	mainconfig.ProviderGemini,
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}
	cfg := appconfig.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := probeRequest(cfg)
	failures := 0
	for i, provider := range providers {
		fmt.Printf("\n[%d] %s\n", i+1, provider)
		client, closer, err := mainconfig.NewProviderClient(ctx, cfg, provider)
		if err != nil {
			fmt.Printf("    skipped: %v\n", err)
			continue
		}
		start := time.Now()
		resp, err := client.Complete(ctx, req)
		_ = closer()
		if err != nil {
			failures++
			fmt.Printf("    error after %v: %v\n", time.Since(start).Round(time.Millisecond), err)
			continue
		}
		fmt.Printf("    answered in %v (in=%d out=%d)\n", time.Since(start).Round(time.Millisecond), resp.Usage.InputTokens, resp.Usage.OutputTokens)
		if resp.ToolCall != nil {
			fmt.Printf("    tool call: %s %v\n", resp.ToolCall.Name, resp.ToolCall.Arguments)
		} else {
			fmt.Printf("    text: %s\n", strings.TrimSpace(resp.Text))
		}
	}
	if failures > 0 {
		os.Exit(1)
	}
}

func probeRequest(cfg *appconfig.Config) conversation.LLMRequest {
	clinicCfg := clinic.DefaultConfig(cfg.ClinicID)
	return conversation.LLMRequest{
		System: conversation.BuildSystemBlocks(conversation.PromptContext{
			Clinic: clinicCfg,
			Now:    time.Now(),
		}),
		Messages: []conversation.ChatMessage{
			{Role: conversation.ChatRoleUser, Content: "Oi, quais horários vocês têm livres nos próximos dias?"},
		},
		Tools:       tools.Catalog(),
		MaxTokens:   300,
		Temperature: 0.2,
	}
}
