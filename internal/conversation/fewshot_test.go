package conversation

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/wolfman30/clinic-booking-assistant/internal/archive"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

type stubCorpus struct {
	examples []archive.Example
	err      error
}

func (s stubCorpus) LoadExamples(context.Context) ([]archive.Example, error) {
	return s.examples, s.err
}

// wordCounter counts whitespace-separated words so budgets are easy to reason about.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func quietLogger() *logging.Logger {
	return logging.NewWithWriter("error", io.Discard)
}

func TestFewShotBuilder_RendersAllKinds(t *testing.T) {
	corpus := stubCorpus{examples: []archive.Example{
		{Feedback: archive.FeedbackGood, UserText: "tem horário?", AgentText: "Tenho segunda às 09:00."},
		{Feedback: archive.FeedbackBad, UserText: "quanto custa?", AgentText: "Não sei.", Note: "use os dados da clínica"},
		{Feedback: archive.FeedbackRewritten, UserText: "oi", AgentText: "Olá.", RewrittenText: "Olá! Como posso ajudar?"},
	}}
	block := NewFewShotBuilder(corpus, nil, wordCounter{}, 500, quietLogger()).Build(context.Background())

	for _, want := range []string{"[BOM]", "[RUIM]", "Motivo: use os dados da clínica", "[REESCRITO]", "Prefira: Olá! Como posso ajudar?"} {
		if !strings.Contains(block, want) {
			t.Fatalf("expected %q in block:\n%s", want, block)
		}
	}
	if !strings.HasPrefix(block, fewShotHeader) {
		t.Fatalf("missing header: %s", block)
	}
}

func TestFewShotBuilder_RespectsBudget(t *testing.T) {
	var examples []archive.Example
	for i := 0; i < 20; i++ {
		examples = append(examples, archive.Example{Feedback: archive.FeedbackGood, UserText: "tem horário amanhã?", AgentText: "Sim, às 09:00 e 10:00."})
	}
	builder := NewFewShotBuilder(stubCorpus{examples: examples}, nil, wordCounter{}, 40, quietLogger())

	block := builder.Build(context.Background())

	if got := (wordCounter{}).Count(block); got > 40 {
		t.Fatalf("block uses %d tokens, budget 40", got)
	}
	if n := strings.Count(block, "[BOM]"); n == 0 || n == 20 {
		t.Fatalf("expected a truncated set, got %d examples", n)
	}
}

func TestFewShotBuilder_ScrubsFeedbackTurns(t *testing.T) {
	turns := NewMemoryTurnStore()
	turn := &Turn{SessionID: "s1", UserText: "meu telefone é 11988887777", AgentText: "Anotado!"}
	if err := turns.Append(context.Background(), turn); err != nil {
		t.Fatalf("append: %v", err)
	}
	turns.Tag(turn.ID, archive.FeedbackGood, "")

	block := NewFewShotBuilder(nil, turns, nil, 0, quietLogger()).Build(context.Background())

	if strings.Contains(block, "11988887777") {
		t.Fatalf("phone leaked into examples: %s", block)
	}
	if !strings.Contains(block, "Anotado!") {
		t.Fatalf("expected tagged turn rendered: %s", block)
	}
}

func TestFewShotBuilder_SourceFailureIsSkipped(t *testing.T) {
	builder := NewFewShotBuilder(stubCorpus{err: errors.New("s3 down")}, nil, nil, 0, quietLogger())
	if block := builder.Build(context.Background()); block != "" {
		t.Fatalf("expected empty block, got %q", block)
	}

	var nilBuilder *FewShotBuilder
	if nilBuilder.Build(context.Background()) != "" {
		t.Fatalf("nil builder must render nothing")
	}
}

func TestCostEstimator(t *testing.T) {
	usage := TokenUsage{InputTokens: 1_000_000, OutputTokens: 100_000}

	usd := NewCostEstimator(3, 15, "USD", nil, quietLogger()).Estimate(context.Background(), usage)
	if usd.Currency != "USD" || usd.Amount != 4.5 {
		t.Fatalf("unexpected usd cost %+v", usd)
	}

	brl := NewCostEstimator(3, 15, "brl", StaticRates{"BRL": 5.5}, quietLogger()).Estimate(context.Background(), usage)
	if brl.Currency != "BRL" || brl.Amount != 24.75 {
		t.Fatalf("unexpected brl cost %+v", brl)
	}

	fallback := NewCostEstimator(3, 15, "EUR", StaticRates{"BRL": 5.5}, quietLogger()).Estimate(context.Background(), usage)
	if fallback.Currency != "USD" || fallback.Amount != 4.5 {
		t.Fatalf("expected USD fallback, got %+v", fallback)
	}

	var nilEstimator *CostEstimator
	if got := nilEstimator.Estimate(context.Background(), usage); got.Amount != 0 || got.Currency != "USD" {
		t.Fatalf("unexpected nil estimator cost %+v", got)
	}
}
