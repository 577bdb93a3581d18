package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashPhone(t *testing.T) {
	h1 := HashPhone("11987654321")
	h2 := HashPhone("11987654321")
	h3 := HashPhone("21987654321")

	assert.Equal(t, h1, h2, "same input should produce same hash")
	assert.NotEqual(t, h1, h3, "different input should produce different hash")
	assert.Len(t, h1, 64, "SHA-256 hex should be 64 chars")
}

func TestScrubPII(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{"email", "meu email é joao@example.com", "meu email é [EMAIL]"},
		{"phone", "me liga no (11) 98765-4321", "me liga no [TELEFONE]"},
		{"phone with country code", "whats +55 11 987654321", "whats [TELEFONE]"},
		{"cpf", "cpf 123.456.789-09", "cpf [CPF]"},
		{"date kept", "pode ser 2025-01-06 às 09:00?", "pode ser 2025-01-06 às 09:00?"},
		{"name kept", "Meu nome é João Silva", "Meu nome é João Silva"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ScrubPII(tt.input))
		})
	}
}

func TestScrubExamples(t *testing.T) {
	examples := []Example{{Feedback: FeedbackGood, UserText: "11 98765-4321", AgentText: "Anotado!"}}
	ScrubExamples(examples)
	assert.Equal(t, "[TELEFONE]", examples[0].UserText)
	assert.Equal(t, "Anotado!", examples[0].AgentText)
}

func TestExampleValid(t *testing.T) {
	assert.True(t, Example{Feedback: FeedbackGood, UserText: "a", AgentText: "b"}.Valid())
	assert.False(t, Example{Feedback: FeedbackRewritten, UserText: "a", AgentText: "b"}.Valid())
	assert.False(t, Example{Feedback: "meh", UserText: "a", AgentText: "b"}.Valid())
}
