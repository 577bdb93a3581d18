package main

import (
	"strings"
	"testing"

	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/internal/webchat"
)

func TestDialURL(t *testing.T) {
	got, err := dialURL("ws://localhost:8080/chat/ws", "abc")
	if err != nil || got != "ws://localhost:8080/chat/ws?session=abc" {
		t.Fatalf("unexpected url %q err=%v", got, err)
	}
	if _, err := dialURL("http://localhost:8080/chat/ws", ""); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestRender(t *testing.T) {
	if got := render(webchat.OutboundMessage{Type: "typing"}); got != "" {
		t.Fatalf("typing must print nothing, got %q", got)
	}
	got := render(webchat.OutboundMessage{Type: "message", Text: "Olá!", Tokens: &conversation.TokenUsage{TotalTokens: 42}})
	if !strings.HasPrefix(got, "assistente> Olá!") || !strings.Contains(got, "tokens: 42") {
		t.Fatalf("unexpected message render %q", got)
	}
	history := render(webchat.OutboundMessage{Type: "history", Messages: []webchat.HistoryMessage{
		{Role: "user", Text: "oi"},
		{Role: "assistant", Text: "Olá!"},
	}})
	if history != "você> oi\nassistente> Olá!" {
		t.Fatalf("unexpected history render %q", history)
	}
}
