package selector

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/model"
)

// Policy identifies a speaker selection strategy.
type Policy int

const (
	// RoundRobin walks the roster in order, skipping ineligible agents.
	RoundRobin Policy = iota
	// Random draws uniformly from the eligible set.
	Random
	// Arbitrated asks the oracle to name the next speaker.
	Arbitrated
	// Manual asks a human for the next speaker.
	Manual
)

func (p Policy) String() string {
	switch p {
	case RoundRobin:
		return "round_robin"
	case Random:
		return "random"
	case Arbitrated:
		return "arbitrated"
	case Manual:
		return "manual"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration string onto a Policy. "auto" is accepted
// as an alias of arbitrated.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "round_robin", "roundrobin":
		return RoundRobin, nil
	case "random":
		return Random, nil
	case "arbitrated", "auto":
		return Arbitrated, nil
	case "manual":
		return Manual, nil
	default:
		return RoundRobin, fmt.Errorf("unknown selection policy %q", s)
	}
}

// Options configures a Selector.
type Options struct {
	// Transitions restricts who may follow whom. Nil means fully connected.
	Transitions Transitions
	// AllowRepeat lets the last speaker be selected again.
	AllowRepeat bool
	// Oracle backs the Arbitrated policy and Manual's empty-input fallback.
	Oracle model.Model
	// Human backs the Manual policy.
	Human core.HumanInput
	// Seed drives the Random policy; 0 seeds from the clock.
	Seed uint64
	// MaxAttempts bounds oracle and human retries before falling back.
	MaxAttempts int
	// Instruction overrides the arbitration prompt template. The template
	// sees .Agents (name: description lines) and .Names.
	Instruction string
	Logger      logging.Logger
}

// Request is the input of a single selection.
type Request struct {
	Roster      []core.Agent
	Transcript  []core.Message
	LastSpeaker string
}

// Selector picks the next speaker under a Policy. Selectors are safe for
// concurrent use; the Random policy serializes access to its generator.
type Selector struct {
	policy Policy
	opts   Options

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a selector for policy.
func New(policy Policy, optFns ...func(o *Options)) *Selector {
	opts := Options{
		MaxAttempts: 3,
		Instruction: defaultArbitrationPrompt,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Selector{
		policy: policy,
		opts:   opts,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Policy returns the configured policy.
func (s *Selector) Policy() Policy { return s.policy }

// Transitions returns the configured transition graph.
func (s *Selector) Transitions() Transitions { return s.opts.Transitions }

// Validate checks the transition graph against the roster and, when set,
// that firstSpeaker is a roster member that may hand over to someone.
func (s *Selector) Validate(roster []core.Agent, firstSpeaker string) error {
	names := core.AgentNames(roster)
	if err := s.opts.Transitions.Validate(names); err != nil {
		return err
	}
	if firstSpeaker == "" {
		return nil
	}
	if indexOf(roster, firstSpeaker) < 0 {
		return core.NewConfigError("selector", "first speaker %q is not in the roster", firstSpeaker)
	}
	if s.opts.Transitions != nil && !s.opts.Transitions.HasOutgoing(firstSpeaker) {
		return core.NewConfigError("selector", "first speaker %q has no allowed transitions", firstSpeaker)
	}
	return nil
}

// Eligible returns the agents that may speak next, in roster order.
func (s *Selector) Eligible(req Request) []core.Agent {
	pendingCall := latestHasCalls(req.Transcript)

	eligible := make([]core.Agent, 0, len(req.Roster))
	for _, a := range req.Roster {
		caps := a.Capabilities()
		if !caps.Has(core.CanReply) && !(caps.Has(core.CanExecute) && pendingCall) {
			continue
		}
		if !s.opts.AllowRepeat && req.LastSpeaker != "" && a.Name() == req.LastSpeaker {
			continue
		}
		if !s.opts.Transitions.Allows(req.LastSpeaker, a.Name()) {
			continue
		}
		eligible = append(eligible, a)
	}

	return route(eligible, req.Transcript)
}

// Select returns the next speaker or core.ErrNoEligibleSpeaker.
func (s *Selector) Select(ctx context.Context, req Request) (core.Agent, error) {
	eligible := s.Eligible(req)
	switch len(eligible) {
	case 0:
		s.opts.Logger.Warn("selector.no_eligible", "policy", s.policy.String(), "last", req.LastSpeaker)
		return nil, fmt.Errorf("%w after %q", core.ErrNoEligibleSpeaker, req.LastSpeaker)
	case 1:
		return eligible[0], nil
	}

	var (
		next core.Agent
		err  error
	)
	switch s.policy {
	case Random:
		next = s.random(eligible)
	case Arbitrated:
		next, err = s.arbitrate(ctx, req, eligible)
	case Manual:
		next, err = s.manual(ctx, req, eligible)
	default:
		next = NextRoundRobin(req.Roster, req.LastSpeaker, eligible)
	}
	if err != nil {
		return nil, err
	}

	s.opts.Logger.Debug(
		"selector.selected",
		"policy", s.policy.String(),
		"speaker", next.Name(),
		"eligible", len(eligible),
	)
	return next, nil
}

// NextRoundRobin returns the first eligible agent after last in roster order.
// An unknown last speaker starts at the head of the roster. It returns nil
// only when eligible shares no member with roster.
func NextRoundRobin(roster []core.Agent, last string, eligible []core.Agent) core.Agent {
	n := len(roster)
	if n == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(eligible))
	for _, a := range eligible {
		allowed[a.Name()] = true
	}
	start := indexOf(roster, last) + 1
	for i := 0; i < n; i++ {
		candidate := roster[(start+i)%n]
		if allowed[candidate.Name()] {
			return candidate
		}
	}
	return nil
}

func (s *Selector) random(eligible []core.Agent) core.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return eligible[s.rng.IntN(len(eligible))]
}

func (s *Selector) fallback(req Request, eligible []core.Agent) core.Agent {
	return NextRoundRobin(req.Roster, req.LastSpeaker, eligible)
}

// route applies tool routing: a pending tool result goes back to the agent
// that issued the call, a pending call goes to executors when one is
// eligible. Routing only ever narrows the set.
func route(eligible []core.Agent, transcript []core.Message) []core.Agent {
	n := len(transcript)
	if n == 0 {
		return eligible
	}
	last := transcript[n-1]

	if last.HasFunctionResponses() {
		issuer, ok := callIssuer(transcript[:n-1], last.FunctionResponses[0].ID)
		if !ok {
			return eligible
		}
		for _, a := range eligible {
			if a.Name() == issuer {
				return []core.Agent{a}
			}
		}
		return nil
	}

	if last.HasFunctionCalls() {
		var executors []core.Agent
		for _, a := range eligible {
			if a.Capabilities().Has(core.CanExecute) {
				executors = append(executors, a)
			}
		}
		if len(executors) > 0 {
			return executors
		}
	}

	return eligible
}

func callIssuer(transcript []core.Message, callID string) (string, bool) {
	for i := len(transcript) - 1; i >= 0; i-- {
		for _, fc := range transcript[i].FunctionCalls {
			if fc.ID == callID {
				return transcript[i].Speaker, true
			}
		}
	}
	return "", false
}

func latestHasCalls(transcript []core.Message) bool {
	n := len(transcript)
	return n > 0 && transcript[n-1].HasFunctionCalls()
}

func indexOf(roster []core.Agent, name string) int {
	if name == "" {
		return -1
	}
	for i, a := range roster {
		if a.Name() == name {
			return i
		}
	}
	return -1
}

func findByName(agents []core.Agent, name string) core.Agent {
	for _, a := range agents {
		if a.Name() == name {
			return a
		}
	}
	for _, a := range agents {
		if strings.EqualFold(a.Name(), name) {
			return a
		}
	}
	return nil
}
