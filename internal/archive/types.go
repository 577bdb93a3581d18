package archive

// Feedback tags a curated example.
type Feedback string

const (
	FeedbackGood      Feedback = "good"
	FeedbackBad       Feedback = "bad"
	FeedbackRewritten Feedback = "rewritten"
)

// Example is one curated exchange used as a few-shot demonstration.
type Example struct {
	Feedback      Feedback `json:"feedback"`
	UserText      string   `json:"user_text"`
	AgentText     string   `json:"agent_text"`
	RewrittenText string   `json:"rewritten_text,omitempty"`
	Note          string   `json:"note,omitempty"`
}

// Valid reports whether the example carries enough to be shown to the model.
func (e Example) Valid() bool {
	if e.UserText == "" || e.AgentText == "" {
		return false
	}
	switch e.Feedback {
	case FeedbackGood, FeedbackBad:
		return true
	case FeedbackRewritten:
		return e.RewrittenText != ""
	default:
		return false
	}
}
