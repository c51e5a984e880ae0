package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/groupmesh/core"
)

// Step is one scripted reply. A zero Delay replies immediately; Err fails
// the call; otherwise Message (or Content) is returned.
type Step struct {
	Content string
	Message *core.Message
	Err     error
	Delay   time.Duration
}

// ScriptedAgent replays scripted steps and records every view it receives.
// Once the script is exhausted it answers "<name> turn <n>".
type ScriptedAgent struct {
	name      string
	desc      string
	caps      core.Capability
	maxConsec int
	terminate func(core.Message) bool

	mu    sync.Mutex
	steps []Step
	views [][]core.Message
	calls int
}

// NewScriptedAgent creates a CanReply agent replaying steps.
func NewScriptedAgent(name string, steps ...Step) *ScriptedAgent {
	return &ScriptedAgent{name: name, desc: "scripted " + name, caps: core.CanReply, steps: steps}
}

// NewTextAgent creates a CanReply agent replying with contents in order.
func NewTextAgent(name string, contents ...string) *ScriptedAgent {
	steps := make([]Step, len(contents))
	for i, c := range contents {
		steps[i] = Step{Content: c}
	}
	return NewScriptedAgent(name, steps...)
}

// WithCapabilities overrides the capability set (chainable).
func (a *ScriptedAgent) WithCapabilities(c core.Capability) *ScriptedAgent { a.caps = c; return a }

// WithMaxConsecutive sets the consecutive reply cap (chainable).
func (a *ScriptedAgent) WithMaxConsecutive(n int) *ScriptedAgent { a.maxConsec = n; return a }

// WithDescription sets the description (chainable).
func (a *ScriptedAgent) WithDescription(d string) *ScriptedAgent { a.desc = d; return a }

// TerminateOn makes ShouldTerminate fire when content contains marker (chainable).
func (a *ScriptedAgent) TerminateOn(marker string) *ScriptedAgent {
	a.terminate = func(m core.Message) bool { return strings.Contains(m.Content, marker) }
	return a
}

// Name implements core.Agent.
func (a *ScriptedAgent) Name() string { return a.name }

// Description implements core.Agent.
func (a *ScriptedAgent) Description() string { return a.desc }

// Capabilities implements core.Agent.
func (a *ScriptedAgent) Capabilities() core.Capability { return a.caps }

// MaxConsecutiveReplies implements core.Agent.
func (a *ScriptedAgent) MaxConsecutiveReplies() int { return a.maxConsec }

// ShouldTerminate implements core.Agent.
func (a *ScriptedAgent) ShouldTerminate(msg core.Message) bool {
	return a.terminate != nil && a.terminate(msg)
}

// Reply implements core.Agent.
func (a *ScriptedAgent) Reply(ctx context.Context, transcript []core.Message) (core.Message, error) {
	a.mu.Lock()
	a.calls++
	n := a.calls
	a.views = append(a.views, append([]core.Message(nil), transcript...))
	var step *Step
	if len(a.steps) > 0 {
		s := a.steps[0]
		a.steps = a.steps[1:]
		step = &s
	}
	a.mu.Unlock()

	if step == nil {
		return core.NewAssistantMessage(a.name, fmt.Sprintf("%s turn %d", a.name, n)), nil
	}

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return core.Message{}, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return core.Message{}, err
	}
	if step.Err != nil {
		return core.Message{}, step.Err
	}
	if step.Message != nil {
		return step.Message.Clone(), nil
	}
	return core.NewAssistantMessage(a.name, step.Content), nil
}

// Calls returns how often Reply was invoked.
func (a *ScriptedAgent) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Views returns the transcripts received by each Reply call.
func (a *ScriptedAgent) Views() [][]core.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]core.Message, len(a.views))
	copy(out, a.views)
	return out
}

// Roster converts scripted agents to a core.Agent slice.
func Roster(agents ...*ScriptedAgent) []core.Agent {
	out := make([]core.Agent, len(agents))
	for i, a := range agents {
		out[i] = a
	}
	return out
}

// Speakers lists message speakers in order.
func Speakers(msgs []core.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Speaker
	}
	return out
}
