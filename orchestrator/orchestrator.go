package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/groupchat"
	"github.com/hupe1980/groupmesh/internal/util"
	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/model"
	"github.com/hupe1980/groupmesh/telemetry"
)

// Defaults for Options.
const (
	DefaultStallThreshold = 3
	DefaultTurnBudget     = 30
	DefaultMaxReplans     = 5
	DefaultName           = "orchestrator"
)

// Options configures an Orchestrator.
type Options struct {
	// TurnBudget bounds the number of judgments per task.
	TurnBudget int
	// StallThreshold is the stall count that triggers introspection.
	StallThreshold int
	// MaxReplans bounds introspect and reset cycles; beyond it the task
	// ends stalled.
	MaxReplans int
	// ResetOnProgress clears the stall count on progress instead of
	// decrementing it.
	ResetOnProgress bool
	// PreHooks and PostHooks replace the built-in hooks when non-nil.
	PreHooks  []PreHook
	PostHooks []PostHook
	// FinalAnswer runs one more oracle pass after the request is satisfied.
	FinalAnswer bool
	// ReplyTimeout bounds a single agent reply. Zero means no timeout.
	ReplyTimeout time.Duration
	Prompts      Prompts
	// Name is the speaker name of orchestrator messages.
	Name string

	Logger         logging.Logger
	Metrics        *telemetry.Metrics
	Tracer         trace.Tracer
	ConversationID string
}

// Orchestrator drives a team through a task with a facts and plan ledger,
// per-turn structured judgments and stall recovery. It holds no per-task
// state and may run several tasks concurrently.
type Orchestrator struct {
	oracle model.Model
	team   []core.Agent
	names  []string
	opts   Options
}

// New creates an orchestrator. The team must be non-empty with unique names.
func New(oracle model.Model, team []core.Agent, optFns ...func(o *Options)) (*Orchestrator, error) {
	opts := Options{
		TurnBudget:     DefaultTurnBudget,
		StallThreshold: DefaultStallThreshold,
		MaxReplans:     DefaultMaxReplans,
		Name:           DefaultName,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.TurnBudget <= 0 {
		opts.TurnBudget = DefaultTurnBudget
	}
	if opts.StallThreshold <= 0 {
		opts.StallThreshold = DefaultStallThreshold
	}
	if opts.MaxReplans < 0 {
		opts.MaxReplans = 0
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.Tracer(nil)
	}
	if opts.PreHooks == nil {
		opts.PreHooks = DefaultPreHooks(opts.StallThreshold, opts.ResetOnProgress)
	}
	if opts.PostHooks == nil {
		opts.PostHooks = DefaultPostHooks(opts.StallThreshold)
	}
	opts.Prompts = opts.Prompts.withDefaults()

	if oracle == nil {
		return nil, core.NewConfigError("orchestrator", "oracle is required")
	}
	if len(team) == 0 {
		return nil, core.NewConfigError("orchestrator", "team is empty")
	}
	names := core.AgentNames(team)
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" || n == opts.Name {
			return nil, core.NewConfigError("orchestrator", "invalid team member name %q", n)
		}
		if seen[n] {
			return nil, core.NewConfigError("orchestrator", "duplicate agent name %q", n)
		}
		seen[n] = true
	}

	return &Orchestrator{
		oracle: oracle,
		team:   append([]core.Agent(nil), team...),
		names:  names,
		opts:   opts,
	}, nil
}

// Run works on task until the request is satisfied, the turn budget is
// spent or recovery gives up. The error is non-nil only for an empty task.
func (o *Orchestrator) Run(ctx context.Context, task string) (*Result, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, fmt.Errorf("orchestrator: task is empty")
	}

	conversationID := o.opts.ConversationID
	if conversationID == "" {
		conversationID = core.NewID()
	}
	r := &taskRun{
		o:              o,
		conversationID: conversationID,
		state:          State{Task: task, TurnBudget: o.opts.TurnBudget},
		transcript:     core.NewTranscript(),
	}

	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, o.opts.Tracer, "orchestrator.run",
		telemetry.AttrConversationID.String(conversationID),
	)
	res := r.run(ctx)
	span.SetAttributes(
		telemetry.AttrState.String(res.Outcome.String()),
		telemetry.AttrReason.String(string(res.Reason)),
		telemetry.AttrRound.Int(res.State.Turn),
	)
	if res.Outcome == OutcomeExhausted {
		telemetry.EndSpan(span, nil)
	} else {
		telemetry.EndSpan(span, res.Err)
	}

	o.opts.Metrics.ObserveConversation(res.Outcome.String(), string(res.Reason))
	if cl, ok := o.opts.Logger.(interface {
		LogConversation(kind string, rounds int, dur time.Duration, state, reason string)
	}); ok {
		cl.LogConversation("orchestrator", res.State.Turn, time.Since(start), res.Outcome.String(), string(res.Reason))
	} else {
		o.opts.Logger.Info(
			"orchestrator.finished",
			"conversation_id", conversationID,
			"outcome", res.Outcome.String(),
			"reason", string(res.Reason),
			"turns", res.State.Turn,
			"replans", res.State.Replans,
		)
	}
	return res, nil
}

// taskRun is the mutable state of one Run call.
type taskRun struct {
	o              *Orchestrator
	conversationID string
	state          State
	transcript     *core.Transcript
	history        []core.Message
	steps          []Step
}

func (r *taskRun) run(ctx context.Context) *Result {
	opts := r.o.opts

	facts, err := r.ask(ctx, opts.Prompts.Facts, nil)
	if err != nil {
		return r.fail(ctx, err)
	}
	r.state.Facts = facts
	plan, err := r.ask(ctx, opts.Prompts.Plan, nil)
	if err != nil {
		return r.fail(ctx, err)
	}
	r.state.Plan = plan
	if err := r.broadcastLedger(); err != nil {
		return r.finish(OutcomeStalled, ReasonOracleFailed, err)
	}

	var (
		step     = ObtainNextStep
		judgment Judgment
		reply    core.Message
		replyErr error
	)
	for {
		if (step == ObtainNextStep || step == IntrospectAndReset) && r.state.Turn >= r.state.TurnBudget {
			step = Exhausted
		}
		if err := ctx.Err(); err != nil && step != Exhausted {
			return r.finish(OutcomeStalled, ReasonCancelled, fmt.Errorf("%w: %w", core.ErrCancelled, err))
		}
		r.steps = append(r.steps, step)

		switch step {
		case ObtainNextStep:
			r.state.Turn++
			judgment, err = r.judge(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				opts.Logger.Warn(
					"orchestrator.judgment.invalid",
					"conversation_id", r.conversationID,
					"turn", r.state.Turn,
					"error", err.Error(),
				)
				if err := r.reset(); err != nil {
					return r.finish(OutcomeStalled, ReasonOracleFailed, err)
				}
				continue
			}
			step = PreExecutionChecks

		case PreExecutionChecks:
			if !judgment.IsProgressBeingMade {
				opts.Metrics.ObserveStall()
				opts.Logger.Info(
					"orchestrator.stall.detected",
					"conversation_id", r.conversationID,
					"turn", r.state.Turn,
				)
			}
			decision, err := r.preChecks(ctx, judgment)
			if err != nil {
				return r.finish(OutcomeStalled, ReasonHookFailed, err)
			}
			step = next(decision, ExecuteStep)

		case ExecuteStep:
			reply, replyErr = r.execute(ctx, judgment)
			if ctx.Err() != nil {
				continue
			}
			step = PostExecutionChecks

		case PostExecutionChecks:
			decision, err := r.postChecks(ctx, reply, replyErr)
			if err != nil {
				return r.finish(OutcomeStalled, ReasonHookFailed, err)
			}
			step = next(decision, ObtainNextStep)

		case IntrospectAndReset:
			if r.state.Replans >= opts.MaxReplans {
				return r.finish(OutcomeStalled, ReasonReplanBudget, fmt.Errorf("orchestrator: replan budget of %d exhausted", opts.MaxReplans))
			}
			if err := r.introspect(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				return r.fail(ctx, err)
			}
			step = ObtainNextStep

		case TerminateTrue:
			if opts.FinalAnswer {
				answer, err := r.ask(ctx, opts.Prompts.FinalAnswer, r.transcript.ViewFor(opts.Name))
				if err != nil {
					if ctx.Err() != nil {
						continue
					}
					return r.fail(ctx, err)
				}
				res := r.finish(OutcomeSatisfied, ReasonSatisfied, nil)
				res.FinalAnswer = answer
				return res
			}
			return r.finish(OutcomeSatisfied, ReasonSatisfied, nil)

		case Exhausted:
			return r.finish(OutcomeExhausted, ReasonTurnBudget, core.ErrTurnBudgetExhausted)
		}
	}
}

func next(d Decision, otherwise Step) Step {
	switch d {
	case Terminate:
		return TerminateTrue
	case Replan:
		return IntrospectAndReset
	default:
		return otherwise
	}
}

func (r *taskRun) preChecks(ctx context.Context, j Judgment) (Decision, error) {
	for _, h := range r.o.opts.PreHooks {
		d, err := h.Check(ctx, &r.state, j)
		if err != nil {
			return Continue, fmt.Errorf("pre hook %s: %w", h.Name(), err)
		}
		if d != Continue {
			r.o.opts.Logger.Debug("orchestrator.hook.decision", "hook", h.Name(), "decision", d.String(), "stalled_count", r.state.StalledCount)
			return d, nil
		}
	}
	return Continue, nil
}

func (r *taskRun) postChecks(ctx context.Context, reply core.Message, replyErr error) (Decision, error) {
	for _, h := range r.o.opts.PostHooks {
		d, err := h.Check(ctx, &r.state, reply, replyErr)
		if err != nil {
			return Continue, fmt.Errorf("post hook %s: %w", h.Name(), err)
		}
		if d != Continue {
			r.o.opts.Logger.Debug("orchestrator.hook.decision", "hook", h.Name(), "decision", d.String(), "stalled_count", r.state.StalledCount)
			return d, nil
		}
	}
	return Continue, nil
}

// judge asks the oracle for a judgment constrained to the team names.
func (r *taskRun) judge(ctx context.Context) (Judgment, error) {
	prompt, err := util.RenderTemplate(r.o.opts.Prompts.Judgment, r.templateData())
	if err != nil {
		return Judgment{}, err
	}
	messages := append(r.transcript.ViewFor(r.o.opts.Name), core.NewUserMessage(r.o.opts.Name, prompt))

	var j Judgment
	start := time.Now()
	err = model.CompleteStructured(ctx, r.o.oracle, model.Request{Messages: messages}, r.judgmentSchema(), &j)
	r.logOracle(time.Since(start), 0, err)
	if err != nil {
		return Judgment{}, err
	}
	if !r.isMember(j.NextSpeaker) {
		return Judgment{}, fmt.Errorf("%w: unknown next speaker %q", core.ErrMalformedReply, j.NextSpeaker)
	}
	if !j.IsRequestSatisfied && strings.TrimSpace(j.Instruction) == "" {
		return Judgment{}, fmt.Errorf("%w: empty instruction for %s", core.ErrMalformedReply, j.NextSpeaker)
	}
	return j, nil
}

func (r *taskRun) judgmentSchema() model.ResponseSchema {
	schema := model.SchemaFor("progress_judgment", "Progress assessment and next step", Judgment{})
	enum := make([]any, len(r.o.names))
	for i, n := range r.o.names {
		enum[i] = n
	}
	props := schema.Schema["properties"].(map[string]any)
	props["next_speaker"] = map[string]any{"type": "string", "enum": enum}
	return schema
}

// execute delivers the instruction to the chosen agent only, collects the
// reply and mirrors both to the rest of the team.
func (r *taskRun) execute(ctx context.Context, j Judgment) (core.Message, error) {
	opts := r.o.opts
	speaker := r.member(j.NextSpeaker)
	others := r.others(speaker.Name())

	ctx, span := telemetry.StartSpan(ctx, opts.Tracer, "orchestrator.turn",
		telemetry.AttrConversationID.String(r.conversationID),
		telemetry.AttrAgent.String(speaker.Name()),
		telemetry.AttrRound.Int(r.state.Turn),
	)

	instruction, err := r.deliver(core.NewUserMessage(opts.Name, j.Instruction), speaker.Name())
	if err != nil {
		telemetry.EndSpan(span, err)
		return core.Message{}, err
	}

	replyCtx, cancel := ctx, context.CancelFunc(func() {})
	if opts.ReplyTimeout > 0 {
		replyCtx, cancel = context.WithTimeout(ctx, opts.ReplyTimeout)
	}
	start := time.Now()
	reply, err := speaker.Reply(replyCtx, r.transcript.ViewFor(speaker.Name()))
	cancel()
	dur := time.Since(start)

	if ctx.Err() != nil {
		opts.Metrics.ObserveReply(speaker.Name(), "cancelled", dur)
		telemetry.EndSpan(span, ctx.Err())
		return core.Message{}, ctx.Err()
	}
	if err == nil {
		err = groupchat.ValidateReply(reply)
	}

	if ferr := r.transcript.Forward(instruction.Sequence, others...); ferr != nil && err == nil {
		err = ferr
	}

	if err != nil {
		opts.Metrics.ObserveReply(speaker.Name(), "error", dur)
		opts.Logger.Warn(
			"orchestrator.reply.failed",
			"conversation_id", r.conversationID,
			"agent", speaker.Name(),
			"turn", r.state.Turn,
			"error", err.Error(),
		)
		telemetry.EndSpan(span, err)
		return core.Message{}, err
	}

	reply.Speaker = speaker.Name()
	reply.Sequence = 0
	if reply.Role == "" {
		reply.Role = core.RoleAssistant
	}
	stored, err := r.deliver(reply, append(others, opts.Name)...)
	telemetry.EndSpan(span, err)
	if err != nil {
		return core.Message{}, err
	}

	opts.Metrics.ObserveReply(speaker.Name(), "ok", dur)
	opts.Metrics.ObserveRound("orchestrator")
	opts.Logger.Debug(
		"orchestrator.turn.completed",
		"conversation_id", r.conversationID,
		"turn", r.state.Turn,
		"speaker", speaker.Name(),
		"duration_ms", dur.Milliseconds(),
	)
	return stored, nil
}

// introspect regenerates facts and plan and starts over with a clean
// transcript.
func (r *taskRun) introspect(ctx context.Context) error {
	opts := r.o.opts
	view := r.transcript.ViewFor(opts.Name)

	facts, err := r.ask(ctx, opts.Prompts.UpdateFacts, view)
	if err != nil {
		return err
	}
	r.state.Facts = facts
	plan, err := r.ask(ctx, opts.Prompts.UpdatePlan, view)
	if err != nil {
		return err
	}
	r.state.Plan = plan
	r.state.StalledCount = 0
	r.state.Replans++

	opts.Metrics.ObserveReplan()
	opts.Logger.Info(
		"orchestrator.replan",
		"conversation_id", r.conversationID,
		"turn", r.state.Turn,
		"replans", r.state.Replans,
	)
	return r.reset()
}

// reset clears the inner transcript and re-broadcasts the ledger. Facts,
// plan and the stall count are left alone.
func (r *taskRun) reset() error {
	r.transcript.Reset()
	return r.broadcastLedger()
}

func (r *taskRun) broadcastLedger() error {
	ledger, err := util.RenderTemplate(r.o.opts.Prompts.Ledger, r.templateData())
	if err != nil {
		return err
	}
	_, err = r.deliver(core.NewUserMessage(r.o.opts.Name, ledger), r.o.names...)
	return err
}

// ask renders tmpl and returns the oracle's text reply to it after history.
func (r *taskRun) ask(ctx context.Context, tmpl string, history []core.Message) (string, error) {
	prompt, err := util.RenderTemplate(tmpl, r.templateData())
	if err != nil {
		return "", err
	}
	messages := append(append([]core.Message(nil), history...), core.NewUserMessage(r.o.opts.Name, prompt))

	start := time.Now()
	resp, err := model.Complete(ctx, r.o.oracle, model.Request{Messages: messages})
	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	r.logOracle(time.Since(start), tokens, err)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty oracle reply", core.ErrMalformedReply)
	}
	return text, nil
}

func (r *taskRun) logOracle(dur time.Duration, tokens int, err error) {
	if ol, ok := r.o.opts.Logger.(interface {
		LogOracleCall(model string, tokens int, dur time.Duration, err error)
	}); ok {
		ol.LogOracleCall(r.o.oracle.Info().Name, tokens, dur, err)
	}
}

func (r *taskRun) deliver(msg core.Message, recipients ...string) (core.Message, error) {
	stored, err := r.transcript.Deliver(msg, recipients...)
	if err != nil {
		return core.Message{}, err
	}
	r.history = append(r.history, stored)
	return stored, nil
}

func (r *taskRun) templateData() map[string]any {
	team := make([]string, len(r.o.team))
	for i, a := range r.o.team {
		team[i] = fmt.Sprintf("%s: %s", a.Name(), a.Description())
	}
	return map[string]any{
		"Task":  r.state.Task,
		"Team":  strings.Join(team, "\n"),
		"Names": r.o.names,
		"Facts": r.state.Facts,
		"Plan":  r.state.Plan,
	}
}

func (r *taskRun) isMember(name string) bool { return r.member(name) != nil }

func (r *taskRun) member(name string) core.Agent {
	for _, a := range r.o.team {
		if a.Name() == name {
			return a
		}
	}
	return nil
}

func (r *taskRun) others(name string) []string {
	out := make([]string, 0, len(r.o.names))
	for _, n := range r.o.names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// fail ends the run after an oracle failure.
func (r *taskRun) fail(ctx context.Context, err error) *Result {
	if ctx.Err() != nil || errors.Is(err, core.ErrCancelled) {
		return r.finish(OutcomeStalled, ReasonCancelled, err)
	}
	return r.finish(OutcomeStalled, ReasonOracleFailed, err)
}

func (r *taskRun) finish(outcome Outcome, reason Reason, err error) *Result {
	if outcome == OutcomeStalled {
		r.o.opts.Logger.Warn(
			"orchestrator.stalled",
			"conversation_id", r.conversationID,
			"reason", string(reason),
			"error", fmt.Sprint(err),
		)
	}
	return &Result{
		Outcome:    outcome,
		Reason:     reason,
		State:      r.state,
		Transcript: append([]core.Message(nil), r.history...),
		Steps:      append([]Step(nil), r.steps...),
		Err:        err,
	}
}
