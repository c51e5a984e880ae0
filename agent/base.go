package agent

import (
	"fmt"

	"github.com/hupe1980/groupmesh/core"
)

// BaseOptions configures the identity shared by every agent implementation.
type BaseOptions struct {
	Description string
	// MaxConsecutiveReplies caps back-to-back turns; 0 means unlimited.
	MaxConsecutiveReplies int
	// Terminate reports whether a message ends the conversation from this
	// agent's point of view. Nil never terminates.
	Terminate func(msg core.Message) bool
}

// BaseAgent bundles identity, capabilities, the termination predicate and
// the reply cap. Embed it in concrete agents and supply a Reply method to
// satisfy core.Agent. BaseAgent is immutable after construction.
type BaseAgent struct {
	name           string
	description    string
	caps           core.Capability
	maxConsecutive int
	terminate      func(msg core.Message) bool
}

// NewBaseAgent constructs a BaseAgent with a generated description
// (customizable via BaseOptions.Description).
func NewBaseAgent(name string, caps core.Capability, optFns ...func(o *BaseOptions)) BaseAgent {
	opts := BaseOptions{Description: fmt.Sprintf("Agent %s", name)}
	for _, fn := range optFns {
		fn(&opts)
	}
	return BaseAgent{
		name:           name,
		description:    opts.Description,
		caps:           caps,
		maxConsecutive: opts.MaxConsecutiveReplies,
		terminate:      opts.Terminate,
	}
}

// Name returns the unique roster name of this agent.
func (b *BaseAgent) Name() string { return b.name }

// Description returns a short description used by arbitrated selection.
func (b *BaseAgent) Description() string { return b.description }

// Capabilities returns the capability set decided at construction.
func (b *BaseAgent) Capabilities() core.Capability { return b.caps }

// MaxConsecutiveReplies returns the back-to-back reply cap (0 = unlimited).
func (b *BaseAgent) MaxConsecutiveReplies() int { return b.maxConsecutive }

// ShouldTerminate applies the configured termination predicate.
func (b *BaseAgent) ShouldTerminate(msg core.Message) bool {
	if b.terminate == nil {
		return false
	}
	return b.terminate(msg)
}
