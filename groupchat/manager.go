package groupchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/selector"
	"github.com/hupe1980/groupmesh/telemetry"
)

// ErrNotIdle is returned by Start, Resume, Seed and AddContext once the
// manager has left the Idle state.
var ErrNotIdle = errors.New("groupchat: manager is not idle")

// Manager is the round coordinator of one group conversation. It owns its
// transcript exclusively and runs the select, reply, validate, broadcast loop
// until a terminal state is reached. A Manager runs at most once.
type Manager struct {
	roster     []core.Agent
	names      []string
	audience   []string
	opts       Options
	transcript *core.Transcript

	mu          sync.Mutex
	state       State
	rounds      int
	lastSpeaker string
	consecutive int
	firstUsed   bool
}

// New creates a manager for roster. Configuration problems are reported as
// *core.ConfigError.
func New(roster []core.Agent, optFns ...func(o *Options)) (*Manager, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = defaultOptions().Logger
	}
	if opts.MaxRound <= 0 {
		opts.MaxRound = defaultOptions().MaxRound
	}
	if opts.TerminationTail <= 0 {
		opts.TerminationTail = 1
	}
	if opts.MaxReplyRetries < 0 {
		opts.MaxReplyRetries = 0
	}
	if opts.ConversationID == "" {
		opts.ConversationID = core.NewID()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.Tracer(nil)
	}

	if len(roster) == 0 {
		return nil, core.NewConfigError("groupchat", "roster is empty")
	}
	names := core.AgentNames(roster)
	seen := make(map[string]bool, len(names))
	for i, n := range names {
		if roster[i] == nil || n == "" {
			return nil, core.NewConfigError("groupchat", "roster entry %d has no name", i)
		}
		if seen[n] {
			return nil, core.NewConfigError("groupchat", "duplicate agent name %q", n)
		}
		seen[n] = true
	}

	if opts.Selector == nil {
		opts.Selector = selector.New(selector.RoundRobin, func(so *selector.Options) {
			so.Logger = opts.Logger
		})
	}
	if v, ok := opts.Selector.(rosterValidator); ok {
		if err := v.Validate(roster, opts.FirstSpeaker); err != nil {
			return nil, err
		}
	} else if opts.FirstSpeaker != "" && !seen[opts.FirstSpeaker] {
		return nil, core.NewConfigError("groupchat", "first speaker %q is not in the roster", opts.FirstSpeaker)
	}

	// A fallback outside the roster still has to see the conversation.
	audience := append([]string(nil), names...)
	if fb := opts.HumanFallback; fb != nil && !seen[fb.Name()] {
		if fb.Name() == "" {
			return nil, core.NewConfigError("groupchat", "human fallback has no name")
		}
		audience = append(audience, fb.Name())
	}

	return &Manager{
		roster:     append([]core.Agent(nil), roster...),
		names:      names,
		audience:   audience,
		opts:       opts,
		transcript: core.NewTranscript(),
	}, nil
}

// Roster returns the agents in roster order.
func (m *Manager) Roster() []core.Agent { return append([]core.Agent(nil), m.roster...) }

// ConversationID returns the identifier used in logs, spans and archives.
func (m *Manager) ConversationID() string { return m.opts.ConversationID }

// Transcript returns the transcript owned by the manager.
func (m *Manager) Transcript() *core.Transcript { return m.transcript }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Rounds returns the number of messages counted against MaxRound so far.
func (m *Manager) Rounds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rounds
}

// SetFirstSpeaker overrides the selector for the first reply of the run.
func (m *Manager) SetFirstSpeaker(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle {
		return ErrNotIdle
	}
	for _, n := range m.names {
		if n == name {
			m.opts.FirstSpeaker = name
			m.firstUsed = false
			return nil
		}
	}
	return core.NewConfigError("groupchat", "first speaker %q is not in the roster", name)
}

// AddContext delivers msgs to every roster agent (and an out-of-roster
// HumanFallback) as silent context. Each
// message gets a fresh ID and sequence; none counts as a round.
func (m *Manager) AddContext(msgs ...core.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle {
		return ErrNotIdle
	}
	for _, msg := range msgs {
		msg = msg.Clone()
		msg.ID = core.NewID()
		msg.Sequence = 0
		if _, err := m.transcript.Deliver(msg, m.audience...); err != nil {
			return err
		}
	}
	return nil
}

// Seed replays persisted history without invoking the selector. Records
// without recipients are broadcast to the roster unless marked private.
// Every replayed record counts as a round.
func (m *Manager) Seed(history []core.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle {
		return ErrNotIdle
	}
	for i, r := range history {
		if !r.Role.Valid() {
			return fmt.Errorf("record %d: unknown role %q", i, r.Role)
		}
		if _, err := m.transcript.Deliver(r.Message(), r.Audience(m.audience)...); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		m.noteSpeakerLocked(r.Name)
		m.rounds++
	}
	return nil
}

// Start appends initial as a broadcast and runs the conversation to a
// terminal state. The returned error is non-nil only when the manager was
// not Idle or initial is unusable; every other outcome is in the Result.
func (m *Manager) Start(ctx context.Context, initial core.Message) (*Result, error) {
	if initial.IsEmpty() {
		return nil, fmt.Errorf("%w: initial message is empty", core.ErrMalformedReply)
	}
	if initial.Speaker == "" {
		initial.Speaker = "user"
	}
	if initial.Role == "" {
		initial.Role = core.RoleUser
	}
	initial.Sequence = 0

	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		return nil, ErrNotIdle
	}
	stored, err := m.transcript.Deliver(initial, m.audience...)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.noteSpeakerLocked(stored.Speaker)
	m.rounds++
	m.state = Running
	m.mu.Unlock()

	return m.run(ctx, &stored), nil
}

// Resume replays history (see Seed) and continues the conversation.
func (m *Manager) Resume(ctx context.Context, history []core.Record) (*Result, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("groupchat: resume requires history")
	}
	if err := m.Seed(history); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		return nil, ErrNotIdle
	}
	m.state = Running
	m.mu.Unlock()

	// A history that already ended stays ended.
	last, _ := m.transcript.Last()
	return m.run(ctx, &last), nil
}

func (m *Manager) run(ctx context.Context, initial *core.Message) *Result {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, m.opts.Tracer, "groupchat.run",
		telemetry.AttrConversationID.String(m.opts.ConversationID),
	)

	m.opts.Logger.Info(
		"groupchat.started",
		"conversation_id", m.opts.ConversationID,
		"agents", len(m.roster),
		"max_round", m.opts.MaxRound,
	)

	var res *Result
	if initial != nil && m.concludes(*initial) {
		res = m.finish(Terminated, ReasonTermination, nil)
	} else {
		res = m.loop(ctx)
	}

	span.SetAttributes(
		telemetry.AttrState.String(res.State.String()),
		telemetry.AttrReason.String(string(res.Reason)),
		telemetry.AttrRound.Int(res.Rounds),
	)
	telemetry.EndSpan(span, res.Err)

	if cl, ok := m.opts.Logger.(conversationLogger); ok {
		cl.LogConversation("chat", res.Rounds, time.Since(start), res.State.String(), string(res.Reason))
	} else {
		m.opts.Logger.Info(
			"groupchat.finished",
			"conversation_id", m.opts.ConversationID,
			"state", res.State.String(),
			"reason", string(res.Reason),
			"rounds", res.Rounds,
		)
	}
	return res
}

type conversationLogger interface {
	LogConversation(kind string, rounds int, dur time.Duration, state, reason string)
}

func (m *Manager) loop(ctx context.Context) *Result {
	for {
		if err := ctx.Err(); err != nil {
			return m.finish(Stalled, ReasonCancelled, cancelled(err))
		}
		if m.Rounds() >= m.opts.MaxRound {
			return m.finish(Exhausted, ReasonMaxRound, nil)
		}

		speaker, err := m.next(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return m.finish(Stalled, ReasonCancelled, cancelled(ctx.Err()))
			case errors.Is(err, core.ErrNoEligibleSpeaker):
				return m.finish(Stalled, ReasonNoEligibleSpeaker, err)
			default:
				return m.finish(Stalled, ReasonSelectionFailed, err)
			}
		}

		if m.overBudget(speaker) {
			if m.opts.HumanFallback == nil {
				m.opts.Logger.Info("groupchat.reply_budget.exhausted", "conversation_id", m.opts.ConversationID, "agent", speaker.Name())
				return m.finish(Terminated, ReasonReplyBudget, nil)
			}
			m.opts.Logger.Info("groupchat.human_fallback", "conversation_id", m.opts.ConversationID, "agent", speaker.Name(), "fallback", m.opts.HumanFallback.Name())
			speaker = m.opts.HumanFallback
		}

		stored, err := m.turn(ctx, speaker)
		if err != nil {
			if ctx.Err() != nil {
				return m.finish(Stalled, ReasonCancelled, cancelled(ctx.Err()))
			}
			return m.finish(Stalled, ReasonMalformedReply, err)
		}

		if m.concludes(stored) {
			return m.finish(Terminated, ReasonTermination, nil)
		}
	}
}

// next asks the selector for a speaker, honouring FirstSpeaker once.
func (m *Manager) next(ctx context.Context) (core.Agent, error) {
	m.mu.Lock()
	last := m.lastSpeaker
	useFirst := !m.firstUsed && m.opts.FirstSpeaker != ""
	m.firstUsed = true
	m.mu.Unlock()

	if useFirst {
		for _, a := range m.roster {
			if a.Name() == m.opts.FirstSpeaker {
				return a, nil
			}
		}
	}
	return m.opts.Selector.Select(ctx, selector.Request{
		Roster:      m.roster,
		Transcript:  m.transcript.Messages(),
		LastSpeaker: last,
	})
}

func (m *Manager) overBudget(speaker core.Agent) bool {
	limit := speaker.MaxConsecutiveReplies()
	if limit <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSpeaker == speaker.Name() && m.consecutive >= limit
}

// turn obtains a valid reply from speaker and broadcasts it.
func (m *Manager) turn(ctx context.Context, speaker core.Agent) (core.Message, error) {
	round := m.Rounds() + 1
	ctx, span := telemetry.StartSpan(ctx, m.opts.Tracer, "groupchat.round",
		telemetry.AttrConversationID.String(m.opts.ConversationID),
		telemetry.AttrAgent.String(speaker.Name()),
		telemetry.AttrRound.Int(round),
	)

	reply, err := m.reply(ctx, speaker)
	if err != nil {
		telemetry.EndSpan(span, err)
		return core.Message{}, err
	}

	reply.Speaker = speaker.Name()
	reply.Sequence = 0
	if reply.Role == "" {
		reply.Role = core.RoleAssistant
	}

	m.mu.Lock()
	stored, err := m.transcript.Deliver(reply, m.audience...)
	if err == nil {
		m.noteSpeakerLocked(stored.Speaker)
		m.rounds++
	}
	m.mu.Unlock()
	telemetry.EndSpan(span, err)
	if err != nil {
		return core.Message{}, err
	}

	m.opts.Metrics.ObserveRound("chat")
	m.opts.Logger.Debug(
		"groupchat.round.completed",
		"conversation_id", m.opts.ConversationID,
		"round", round,
		"speaker", stored.Speaker,
		"function_calls", len(stored.FunctionCalls),
	)
	return stored, nil
}

// reply calls speaker.Reply with the per-reply timeout and validates the
// result, retrying up to MaxReplyRetries times.
func (m *Manager) reply(ctx context.Context, speaker core.Agent) (core.Message, error) {
	attempts := 1 + m.opts.MaxReplyRetries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		replyCtx, cancel := ctx, context.CancelFunc(func() {})
		if m.opts.ReplyTimeout > 0 {
			replyCtx, cancel = context.WithTimeout(ctx, m.opts.ReplyTimeout)
		}
		start := time.Now()
		msg, err := speaker.Reply(replyCtx, m.transcript.ViewFor(speaker.Name()))
		cancel()
		dur := time.Since(start)

		if ctx.Err() != nil {
			m.opts.Metrics.ObserveReply(speaker.Name(), "cancelled", dur)
			return core.Message{}, ctx.Err()
		}
		if err == nil {
			err = ValidateReply(msg)
		} else if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", core.ErrOracleTimeout, err)
		}

		if rl, ok := m.opts.Logger.(replyLogger); ok {
			rl.LogReply(speaker.Name(), dur, attempt, err)
		}
		if err == nil {
			m.opts.Metrics.ObserveReply(speaker.Name(), "ok", dur)
			return msg, nil
		}

		m.opts.Metrics.ObserveReply(speaker.Name(), "error", dur)
		m.opts.Logger.Warn(
			"groupchat.reply.rejected",
			"conversation_id", m.opts.ConversationID,
			"agent", speaker.Name(),
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err.Error(),
		)
		lastErr = err
	}
	if errors.Is(lastErr, core.ErrMalformedReply) {
		return core.Message{}, fmt.Errorf("agent %s: %w", speaker.Name(), lastErr)
	}
	return core.Message{}, fmt.Errorf("%w: agent %s: %w", core.ErrMalformedReply, speaker.Name(), lastErr)
}

type replyLogger interface {
	LogReply(agent string, dur time.Duration, attempt int, err error)
}

// ValidateReply accepts a message with non-blank content or a well formed
// function payload: calls need a name and JSON arguments, responses an ID.
func ValidateReply(msg core.Message) error {
	for i, fc := range msg.FunctionCalls {
		if fc.Name == "" {
			return fmt.Errorf("%w: function call %d has no name", core.ErrMalformedReply, i)
		}
		if fc.Arguments != "" && !json.Valid([]byte(fc.Arguments)) {
			return fmt.Errorf("%w: function call %s has invalid arguments", core.ErrMalformedReply, fc.Name)
		}
	}
	for i, fr := range msg.FunctionResponses {
		if fr.ID == "" {
			return fmt.Errorf("%w: function response %d has no call id", core.ErrMalformedReply, i)
		}
	}
	if len(msg.FunctionCalls) == 0 && len(msg.FunctionResponses) == 0 && strings.TrimSpace(msg.Content) == "" {
		return fmt.Errorf("%w: empty reply", core.ErrMalformedReply)
	}
	return nil
}

// concludes reports whether msg ends the conversation: a termination
// predicate holds or it was spoken by an IsTerminal participant.
func (m *Manager) concludes(msg core.Message) bool {
	if m.shouldTerminate(msg) {
		return true
	}
	if fb := m.opts.HumanFallback; fb != nil && fb.Name() == msg.Speaker && fb.Capabilities().Has(core.IsTerminal) {
		return true
	}
	for _, a := range m.roster {
		if a.Name() == msg.Speaker {
			return a.Capabilities().Has(core.IsTerminal)
		}
	}
	return false
}

func (m *Manager) shouldTerminate(msg core.Message) bool {
	if m.opts.Termination != nil && m.opts.Termination(m.transcript.Tail(m.opts.TerminationTail)) {
		return true
	}
	for _, a := range m.roster {
		if a.ShouldTerminate(msg) {
			return true
		}
	}
	return false
}

func (m *Manager) noteSpeakerLocked(name string) {
	if name == m.lastSpeaker {
		m.consecutive++
	} else {
		m.consecutive = 1
	}
	m.lastSpeaker = name
}

func (m *Manager) finish(state State, reason Reason, err error) *Result {
	m.mu.Lock()
	m.state = state
	res := &Result{
		State:       state,
		Reason:      reason,
		Rounds:      m.rounds,
		Err:         err,
		LastSpeaker: m.lastSpeaker,
	}
	m.mu.Unlock()

	res.Transcript = m.transcript.Messages()
	res.records = m.transcript.Records()
	m.opts.Metrics.ObserveConversation(state.String(), string(reason))
	if state == Stalled {
		m.opts.Logger.Warn(
			"groupchat.stalled",
			"conversation_id", m.opts.ConversationID,
			"reason", string(reason),
			"error", fmt.Sprint(err),
		)
	}
	return res
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", core.ErrCancelled, err)
}
