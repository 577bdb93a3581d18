package archive

import (
	"crypto/sha256"
	"fmt"
	"regexp"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`(?:\+?55[\s-]?)?\(?\d{2}\)?[\s-]?9?\d{4}[-\s]?\d{4}`)
	cpfRe   = regexp.MustCompile(`\d{3}\.\d{3}\.\d{3}-\d{2}`)
)

// HashPhone returns the hex-encoded SHA-256 hash of a phone number.
func HashPhone(phone string) string {
	h := sha256.Sum256([]byte(phone))
	return fmt.Sprintf("%x", h)
}

// ScrubPII replaces emails, CPF numbers and phone numbers with placeholders.
// Names are kept for conversational context.
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = cpfRe.ReplaceAllString(text, "[CPF]")
	text = phoneRe.ReplaceAllString(text, "[TELEFONE]")
	return text
}

// ScrubExamples applies PII scrubbing to every text field in-place.
func ScrubExamples(examples []Example) {
	for i := range examples {
		examples[i].UserText = ScrubPII(examples[i].UserText)
		examples[i].AgentText = ScrubPII(examples[i].AgentText)
		examples[i].RewrittenText = ScrubPII(examples[i].RewrittenText)
	}
}
