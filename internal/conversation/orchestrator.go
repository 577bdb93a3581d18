package conversation

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-assistant/internal/bookings"
	"github.com/wolfman30/clinic-booking-assistant/internal/clinic"
	"github.com/wolfman30/clinic-booking-assistant/internal/identity"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
	"github.com/wolfman30/clinic-booking-assistant/pkg/apperr"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

var orchestratorTracer = otel.Tracer("clinic.internal.conversation")

const (
	// MaxRecursionDepth is the deepest whole-turn retry ProcessTurn will run.
	MaxRecursionDepth = 3
	// MaxToolIterations caps tool executions per turn.
	MaxToolIterations = 3
	// HistoryExchanges is how many past turns are replayed to the model.
	HistoryExchanges = 10
	// DefaultTurnRetryDelay is the pause before the whole-turn retry.
	DefaultTurnRetryDelay = time.Second

	defaultMaxTokens   = 1024
	defaultTemperature = 0.3
)

// Turn outcomes reported to MetricsRecorder.
const (
	OutcomeReply               = "reply"
	OutcomeWelcome             = "welcome"
	OutcomeApology             = "apology"
	OutcomeTechnicalDifficulty = "technical_difficulty"
	OutcomeRetried             = "retried"
)

// TurnRequest is one inbound patient message.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	// IsFirstTurn is the client's belief; the stored turn count decides.
	IsFirstTurn bool `json:"is_first"`
}

// TurnResult is the reply to one message.
type TurnResult struct {
	Success   bool       `json:"success"`
	Reply     string     `json:"message"`
	Usage     TokenUsage `json:"tokens"`
	ToolTrace []string   `json:"tool_trace"`
}

// MetricsRecorder receives per-turn observations.
type MetricsRecorder interface {
	ObserveTurn(outcome string)
	ObserveToolCall(tool string, success bool)
	ObserveLLMCall(latency time.Duration, inputTokens, outputTokens int32, err error)
}

// OrchestratorDeps are the collaborators of an Orchestrator. LLM, Tools, Sessions and
// Turns are required.
type OrchestratorDeps struct {
	LLM       LLMClient
	Tools     *ToolRegistry
	Sessions  session.Store
	Turns     TurnStore
	Clinics   clinic.Source
	Extractor identity.Extractor
	FewShot   *FewShotBuilder
	Cost      *CostEstimator
	Metrics   MetricsRecorder
	Logger    *logging.Logger
}

// OrchestratorConfig tunes model calls and retries.
type OrchestratorConfig struct {
	ClinicID       string
	Model          string
	MaxTokens      int32
	Temperature    float32
	TurnRetryDelay time.Duration
	// Now overrides the clock used for the date/time block.
	Now func() time.Time
}

// Orchestrator runs one patient message through the model and the booking tools.
type Orchestrator struct {
	llm       LLMClient
	tools     *ToolRegistry
	sessions  session.Store
	turns     TurnStore
	clinics   clinic.Source
	extractor identity.Extractor
	fewShot   *FewShotBuilder
	cost      *CostEstimator
	metrics   MetricsRecorder
	logger    *logging.Logger
	cfg       OrchestratorConfig
}

// NewOrchestrator wires an orchestrator and checks the tool registry against the catalog.
func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) (*Orchestrator, error) {
	if deps.LLM == nil {
		panic("conversation: llm client required")
	}
	if deps.Tools == nil {
		panic("conversation: tool registry required")
	}
	if deps.Sessions == nil {
		panic("conversation: session store required")
	}
	if deps.Turns == nil {
		panic("conversation: turn store required")
	}
	if err := deps.Tools.Validate(); err != nil {
		return nil, err
	}
	if deps.Extractor == nil {
		deps.Extractor = identity.NewHeuristic()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.TurnRetryDelay < 0 {
		cfg.TurnRetryDelay = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		llm:       deps.LLM,
		tools:     deps.Tools,
		sessions:  deps.Sessions,
		turns:     deps.Turns,
		clinics:   deps.Clinics,
		extractor: deps.Extractor,
		fewShot:   deps.FewShot,
		cost:      deps.Cost,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
	}, nil
}

// ProcessTurn answers one message. recursionDepth is 0 for inbound calls; the whole-turn
// retry calls back with depth+1. It never returns an error: failures become a short
// apology in Reply with Success false.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req TurnRequest, recursionDepth int) TurnResult {
	if recursionDepth > MaxRecursionDepth {
		o.observeTurn(OutcomeTechnicalDifficulty)
		return TurnResult{Reply: TechnicalDifficultyReply, ToolTrace: []string{}}
	}

	ctx, span := orchestratorTracer.Start(ctx, "conversation.process_turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.session_id", req.SessionID),
		attribute.Int("clinic.turn.depth", recursionDepth),
	)

	logger := o.logger.WithSession(req.SessionID)
	message := strings.TrimSpace(req.Message)
	if strings.TrimSpace(req.SessionID) == "" || message == "" {
		logger.Warn("rejecting turn without session or message")
		o.observeTurn(OutcomeApology)
		return TurnResult{Reply: ApologyReply, ToolTrace: []string{}}
	}

	count, err := o.turns.Count(ctx, req.SessionID)
	if err != nil {
		span.RecordError(err)
		logger.Error("failed to count turns", "error", err)
		o.observeTurn(OutcomeApology)
		return TurnResult{Reply: ApologyReply, ToolTrace: []string{}}
	}

	rec := o.loadSession(ctx, req.SessionID, logger)
	if !rec.HasIdentity() {
		extracted := o.extractor.Extract(message)
		if rec.Merge(extracted.Name, extracted.Phone) {
			o.saveSession(ctx, rec, logger)
			logger.Info("captured patient identity", "has_name", rec.Name != "", "has_phone", rec.Phone != "")
		}
	}

	if count == 0 {
		if !req.IsFirstTurn {
			logger.Info("client first-turn flag disagrees with stored history", "client_first", req.IsFirstTurn)
		}
		cfg := o.loadClinic(ctx, logger)
		welcome := WelcomeMessage(cfg)
		o.persist(ctx, &Turn{SessionID: req.SessionID, UserText: message, AgentText: welcome}, logger)
		o.observeTurn(OutcomeWelcome)
		return TurnResult{Success: true, Reply: welcome, ToolTrace: []string{}}
	}
	if req.IsFirstTurn {
		logger.Info("client first-turn flag disagrees with stored history", "client_first", req.IsFirstTurn, "stored_turns", count)
	}

	run := o.runTools(ctx, req, rec, logger)
	if run.err != nil {
		span.RecordError(run.err)
		if recursionDepth == 0 && !IsRateLimited(run.err) && isUpstream(run.err) {
			logger.Warn("llm failed, retrying turn", "error", run.err, "delay_ms", o.cfg.TurnRetryDelay.Milliseconds())
			o.observeTurn(OutcomeRetried)
			if err := sleepContext(ctx, o.cfg.TurnRetryDelay); err != nil {
				return TurnResult{Reply: ApologyReply, ToolTrace: []string{}}
			}
			return o.ProcessTurn(ctx, req, recursionDepth+1)
		}
		logger.Error("turn failed", "error", run.err, "kind", string(apperr.KindOf(run.err)))
		o.persist(ctx, &Turn{
			SessionID: req.SessionID,
			UserText:  message,
			AgentText: ApologyReply,
			ToolName:  run.lastToolName(),
			ToolTrace: run.trace,
			Usage:     run.usage,
			Cost:      o.cost.Estimate(ctx, run.usage),
		}, logger)
		o.observeTurn(OutcomeApology)
		return TurnResult{Reply: ApologyReply, Usage: run.usage, ToolTrace: run.traceOrEmpty()}
	}

	reply := run.reply
	if guard := ScanOutputForLeaks(reply); guard.Leaked {
		logger.Warn("filtered outbound reply", "reasons", guard.Reasons)
		reply = guard.Sanitized
	}
	if strings.TrimSpace(reply) == "" {
		reply = cannedReply(run.last)
	}

	span.SetAttributes(attribute.Int("clinic.turn.tools", len(run.trace)))
	o.persist(ctx, &Turn{
		SessionID: req.SessionID,
		UserText:  message,
		AgentText: reply,
		ToolName:  run.lastToolName(),
		ToolTrace: run.trace,
		Usage:     run.usage,
		Cost:      o.cost.Estimate(ctx, run.usage),
	}, logger)
	o.observeTurn(OutcomeReply)
	return TurnResult{Success: true, Reply: reply, Usage: run.usage, ToolTrace: run.traceOrEmpty()}
}

type toolRun struct {
	reply string
	usage TokenUsage
	trace []string
	last  *toolOutcome
	err   error
}

func (r toolRun) lastToolName() string {
	if len(r.trace) == 0 {
		return ""
	}
	return r.trace[len(r.trace)-1]
}

func (r toolRun) traceOrEmpty() []string {
	if r.trace == nil {
		return []string{}
	}
	return r.trace
}

// runTools drives the model until it answers in text or the tool budget is spent.
func (o *Orchestrator) runTools(ctx context.Context, req TurnRequest, rec session.Record, logger *logging.Logger) toolRun {
	cfg := o.loadClinic(ctx, logger)
	llmReq := LLMRequest{
		Model: o.cfg.Model,
		System: BuildSystemBlocks(PromptContext{
			Clinic:  cfg,
			Now:     o.cfg.Now(),
			Session: rec,
			FewShot: o.fewShot.Build(ctx),
		}),
		Messages:    o.history(ctx, req.SessionID, logger),
		Tools:       o.tools.Declarations(),
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}
	llmReq.Messages = append(llmReq.Messages, ChatMessage{Role: ChatRoleUser, Content: strings.TrimSpace(req.Message)})

	var (
		run      toolRun
		override *toolOutcome
	)
	for {
		if len(run.trace) >= MaxToolIterations {
			llmReq.Tools = nil
		}
		resp, err := o.complete(ctx, llmReq)
		if err != nil {
			// A retried turn would run the tools again.
			if run.last != nil && isUpstream(err) {
				logger.Warn("llm failed after tool, answering from last result", "error", err, "tool", run.lastToolName())
				run.reply = cannedReply(run.last)
				return run
			}
			run.err = err
			return run
		}
		run.usage.Add(resp.Usage)

		if resp.ToolCall == nil {
			run.reply = resp.Text
			break
		}
		if llmReq.Tools == nil {
			logger.Warn("llm requested a tool past the iteration cap", "tool", resp.ToolCall.Name)
			run.reply = cannedReply(run.last)
			break
		}

		call := *resp.ToolCall
		if call.ID == "" {
			call.ID = toolCallID(&call)
		}
		out := o.tools.Execute(ctx, call, ToolEnv{SessionID: req.SessionID, Session: rec, Clinic: cfg})
		run.trace = append(run.trace, call.Name)
		run.last = &out
		o.observeTool(call.Name, out.Result.Success)
		logger.Info("tool executed", "tool", call.Name, "success", out.Result.Success)

		if _, ok := overrideReply(&out); ok {
			override = &out
		} else {
			override = nil
		}
		if updated, changed := advanceSession(rec, &out); changed {
			rec = updated
			o.saveSession(ctx, rec, logger)
		}

		llmReq.Messages = append(llmReq.Messages,
			ChatMessage{Role: ChatRoleAssistant, ToolCall: &out.Call},
			ChatMessage{Role: ChatRoleTool, ToolName: call.Name, ToolCallID: call.ID, Content: out.Result.JSON()},
		)
	}

	if override != nil {
		text, _ := overrideReply(override)
		run.reply = text
	}
	return run
}

func (o *Orchestrator) complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, DefaultResponseTimeout)
	defer cancel()

	start := time.Now()
	resp, err := o.llm.Complete(callCtx, req)
	if o.metrics != nil {
		o.metrics.ObserveLLMCall(time.Since(start), resp.Usage.InputTokens, resp.Usage.OutputTokens, err)
	}
	if err != nil {
		return LLMResponse{}, err
	}
	if resp.ToolCall == nil && strings.TrimSpace(resp.Text) == "" {
		return LLMResponse{}, protocolError("empty completion", ErrEmptyResponse)
	}
	return resp, nil
}

// history replays the last exchanges as alternating user/assistant messages.
func (o *Orchestrator) history(ctx context.Context, sessionID string, logger *logging.Logger) []ChatMessage {
	turns, err := o.turns.Recent(ctx, sessionID, HistoryExchanges)
	if err != nil {
		logger.Warn("failed to load history", "error", err)
		return nil
	}
	msgs := make([]ChatMessage, 0, len(turns)*2+1)
	for _, t := range turns {
		if strings.TrimSpace(t.UserText) != "" {
			msgs = append(msgs, ChatMessage{Role: ChatRoleUser, Content: t.UserText})
		}
		if strings.TrimSpace(t.AgentText) != "" {
			msgs = append(msgs, ChatMessage{Role: ChatRoleAssistant, Content: t.AgentText})
		}
	}
	return msgs
}

// advanceSession moves the booking stage and captures identity confirmed by a tool.
func advanceSession(rec session.Record, out *toolOutcome) (session.Record, bool) {
	if out == nil || !out.Result.Success {
		return rec, false
	}
	changed := false
	switch data := out.Result.Data.(type) {
	case SlotsPayload:
		if rec.Stage != session.StageSlotsOffered && rec.Stage != session.StageBooked {
			rec.Stage = session.StageSlotsOffered
			changed = true
		}
	case bookings.Confirmation:
		if rec.Merge(data.Patient, data.Phone) {
			changed = true
		}
		if rec.Stage != session.StageBooked {
			rec.Stage = session.StageBooked
			changed = true
		}
	}
	return rec, changed
}

func (o *Orchestrator) loadSession(ctx context.Context, sessionID string, logger *logging.Logger) session.Record {
	rec, found, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		logger.Warn("failed to load session, starting empty", "error", err)
	}
	if err != nil || !found {
		return session.Record{SessionID: sessionID, Stage: session.StageNew}
	}
	return rec
}

func (o *Orchestrator) saveSession(ctx context.Context, rec session.Record, logger *logging.Logger) {
	rec.UpdatedAt = o.cfg.Now().UTC()
	if err := o.sessions.Set(ctx, rec); err != nil {
		logger.Warn("failed to save session", "error", err)
	}
}

func (o *Orchestrator) loadClinic(ctx context.Context, logger *logging.Logger) *clinic.Config {
	if o.clinics == nil {
		return clinic.DefaultConfig(o.cfg.ClinicID)
	}
	cfg, err := o.clinics.Get(ctx, o.cfg.ClinicID)
	if err != nil || cfg == nil {
		if err != nil {
			logger.Warn("failed to load clinic config, using defaults", "error", err)
		}
		return clinic.DefaultConfig(o.cfg.ClinicID)
	}
	return cfg
}

func (o *Orchestrator) persist(ctx context.Context, turn *Turn, logger *logging.Logger) {
	if turn.Cost.Currency == "" {
		turn.Cost = o.cost.Estimate(ctx, turn.Usage)
	}
	if err := o.turns.Append(ctx, turn); err != nil {
		logger.Error("failed to persist turn", "error", err)
	}
}

func (o *Orchestrator) observeTurn(outcome string) {
	if o.metrics != nil {
		o.metrics.ObserveTurn(outcome)
	}
}

func (o *Orchestrator) observeTool(name string, success bool) {
	if o.metrics != nil {
		o.metrics.ObserveToolCall(name, success)
	}
}

func isUpstream(err error) bool {
	kind := apperr.KindOf(err)
	return kind == apperr.KindUpstreamTransient || kind == apperr.KindUpstreamProtocol
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
