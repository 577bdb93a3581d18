package conversation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"

	"github.com/wolfman30/clinic-booking-assistant/internal/archive"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// DefaultFewShotBudget is the token ceiling for the examples block.
const DefaultFewShotBudget = 1200

const feedbackExampleLimit = 20

// TokenCounter measures prompt text.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	codec tokenizer.Codec
}

// NewTiktokenCounter counts with the cl100k_base encoding.
func NewTiktokenCounter() (TokenCounter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("conversation: load tokenizer: %w", err)
	}
	return &tiktokenCounter{codec: codec}, nil
}

func (c *tiktokenCounter) Count(text string) int {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return approxTokens(text)
	}
	return len(ids)
}

// approxTokens assumes four characters per token.
func approxTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

type approxCounter struct{}

func (approxCounter) Count(text string) int { return approxTokens(text) }

// CorpusSource supplies curated examples (the S3 corpus).
type CorpusSource interface {
	LoadExamples(ctx context.Context) ([]archive.Example, error)
}

// FewShotBuilder renders curated and feedback-tagged examples into one instruction block
// that never exceeds the token budget.
type FewShotBuilder struct {
	corpus  CorpusSource
	turns   TurnStore
	counter TokenCounter
	budget  int
	logger  *logging.Logger
}

// NewFewShotBuilder builds a renderer. corpus and turns may be nil; counter nil falls back
// to a character estimate; budget <= 0 means DefaultFewShotBudget.
func NewFewShotBuilder(corpus CorpusSource, turns TurnStore, counter TokenCounter, budget int, logger *logging.Logger) *FewShotBuilder {
	if counter == nil {
		counter = approxCounter{}
	}
	if budget <= 0 {
		budget = DefaultFewShotBudget
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FewShotBuilder{corpus: corpus, turns: turns, counter: counter, budget: budget, logger: logger}
}

const fewShotHeader = "EXEMPLOS DE ATENDIMENTO (siga os bons, evite os ruins):"

// Build returns the examples block, or "" when there is nothing to show. Source failures are
// logged and skipped.
func (b *FewShotBuilder) Build(ctx context.Context) string {
	if b == nil {
		return ""
	}
	var examples []archive.Example
	if b.corpus != nil {
		loaded, err := b.corpus.LoadExamples(ctx)
		if err != nil {
			b.logger.Warn("few-shot corpus unavailable", "error", err)
		}
		examples = append(examples, loaded...)
	}
	if b.turns != nil {
		tagged, err := b.turns.FeedbackExamples(ctx, feedbackExampleLimit)
		if err != nil {
			b.logger.Warn("feedback examples unavailable", "error", err)
		}
		archive.ScrubExamples(tagged)
		examples = append(examples, tagged...)
	}
	return b.render(examples)
}

func (b *FewShotBuilder) render(examples []archive.Example) string {
	if len(examples) == 0 {
		return ""
	}
	used := b.counter.Count(fewShotHeader)
	var blocks []string
	for _, ex := range examples {
		block := renderExample(ex)
		if block == "" {
			continue
		}
		cost := b.counter.Count(block)
		if used+cost > b.budget {
			break
		}
		used += cost
		blocks = append(blocks, block)
	}
	if len(blocks) == 0 {
		return ""
	}
	return fewShotHeader + "\n\n" + strings.Join(blocks, "\n\n")
}

func renderExample(ex archive.Example) string {
	if !ex.Valid() {
		return ""
	}
	switch ex.Feedback {
	case archive.FeedbackGood:
		return fmt.Sprintf("[BOM]\nPaciente: %s\nAssistente: %s", ex.UserText, ex.AgentText)
	case archive.FeedbackBad:
		out := fmt.Sprintf("[RUIM]\nPaciente: %s\nResposta a evitar: %s", ex.UserText, ex.AgentText)
		if ex.Note != "" {
			out += "\nMotivo: " + ex.Note
		}
		return out
	case archive.FeedbackRewritten:
		return fmt.Sprintf("[REESCRITO]\nPaciente: %s\nEm vez de: %s\nPrefira: %s", ex.UserText, ex.AgentText, ex.RewrittenText)
	}
	return ""
}
