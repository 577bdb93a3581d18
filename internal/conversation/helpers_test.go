package conversation

import (
	"context"
	"sync"
)

type scriptedStep struct {
	resp LLMResponse
	err  error
}

// scriptedLLM replays steps in order and records every request it saw.
type scriptedLLM struct {
	mu       sync.Mutex
	steps    []scriptedStep
	requests []LLMRequest
}

func newScriptedLLM(steps ...scriptedStep) *scriptedLLM {
	return &scriptedLLM{steps: steps}
}

func (s *scriptedLLM) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return LLMResponse{}, unavailableError(ErrEmptyResponse)
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step.resp, step.err
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func textStep(text string) scriptedStep {
	return scriptedStep{resp: LLMResponse{Text: text, Usage: TokenUsage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120}}}
}
