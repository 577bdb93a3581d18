package conversation

import (
	"regexp"
	"strings"
)

// OutputGuardResult contains the result of scanning an outbound reply.
type OutputGuardResult struct {
	// Leaked is true if the reply contains protocol markers or sensitive information.
	Leaked bool
	// Reasons lists the detection signals that fired.
	Reasons []string
	// Sanitized is the cleaned reply, or "" when it must be blocked.
	Sanitized string
}

type outputLeakPattern struct {
	re     *regexp.Regexp
	reason string
	block  bool // if true, block entirely; if false, can try to sanitize
}

var (
	// Tool traffic re-encoded as assistant text. Everything after the marker on that line is
	// payload.
	protocolMarkerRe = regexp.MustCompile(`\[tool-(?:result|call)[^\]\n]*\]:[^\n]*`)
	rawEnvelopeRe    = regexp.MustCompile(`\{"success":\s*(?:true|false)[^\n]*\}`)
	blankLinesRe     = regexp.MustCompile(`\n{3,}`)
	aiIdentityRe     = regexp.MustCompile(`(?i)[^.!?\n]*\b(sou|i am|i'm) (um|uma|an?) (IA|AI|intelig[eê]ncia artificial|modelo de linguagem|language model|LLM|chatbot|rob[oô])\b[^.!?\n]*[.!?]?\s*`)
)

var outputLeakPatterns = []outputLeakPattern{
	// System prompt / instruction leaks
	{regexp.MustCompile(`(?i)(meu|my) (prompt|system prompt)`), "leak:system_prompt_disclosure", true},
	{regexp.MustCompile(`(?i)(minhas instruç[õo]es|my instructions?)\s+(s[ãa]o|dizem|are|say)`), "leak:instructions_disclosure", true},
	{regexp.MustCompile(`(?i)fui (programad[ao]|instru[ií]d[ao]|configurad[ao]) para`), "leak:programming_disclosure", true},

	// AI identity leaks
	{aiIdentityRe, "leak:ai_identity", false},
	{regexp.MustCompile(`(?i)(powered by|desenvolvid[ao] com|baseado no|rodando no|using)\s+(Claude|GPT|OpenAI|Anthropic|Bedrock|Gemini)`), "leak:tech_stack", true},

	// Credential / infrastructure leaks
	{regexp.MustCompile(`(?i)(api[_\s]?key|secret[_\s]?key|access[_\s]?token|bearer\s+token)\s*[:=]\s*\S+`), "leak:credential", true},
	{regexp.MustCompile(`(?i)\bsk-[a-zA-Z0-9_\-]{16,}`), "leak:api_key", true},
	{regexp.MustCompile(`AKIA[A-Z0-9]{16}`), "leak:aws_key", true},
	{regexp.MustCompile(`(?i)(postgres|postgresql|redis|mongodb)://\S+`), "leak:database_url", true},
	{regexp.MustCompile(`(?i)SQLSTATE|pq: |pgx|duplicate key value`), "leak:database_error", true},

	// Internal endpoint leaks
	{regexp.MustCompile(`(?i)/admin/|/internal/|/debug/`), "leak:internal_path", true},
}

// ScanOutputForLeaks strips protocol markers from an outbound reply and checks the rest for
// sensitive information.
func ScanOutputForLeaks(reply string) OutputGuardResult {
	if strings.TrimSpace(reply) == "" {
		return OutputGuardResult{Sanitized: reply}
	}

	var reasons []string
	cleaned := reply
	if protocolMarkerRe.MatchString(cleaned) || rawEnvelopeRe.MatchString(cleaned) {
		reasons = append(reasons, "leak:protocol_marker")
		cleaned = protocolMarkerRe.ReplaceAllString(cleaned, "")
		cleaned = rawEnvelopeRe.ReplaceAllString(cleaned, "")
		cleaned = strings.TrimSpace(blankLinesRe.ReplaceAllString(cleaned, "\n\n"))
	}

	shouldBlock := false
	sanitize := false
	for _, p := range outputLeakPatterns {
		if p.re.MatchString(cleaned) {
			reasons = append(reasons, p.reason)
			if p.block {
				shouldBlock = true
			} else {
				sanitize = true
			}
		}
	}

	if len(reasons) == 0 {
		return OutputGuardResult{Sanitized: reply}
	}

	result := OutputGuardResult{Leaked: true, Reasons: reasons}
	switch {
	case shouldBlock:
		result.Sanitized = ""
	case sanitize:
		result.Sanitized = strings.TrimSpace(aiIdentityRe.ReplaceAllString(cleaned, ""))
	default:
		result.Sanitized = cleaned
	}
	return result
}
