package core

import (
	"context"
	"strings"
)

// Capability is a bitset describing what an agent can do. It is decided once
// when the agent is constructed and never probed per call.
type Capability uint8

const (
	// CanReply marks agents that produce conversational replies.
	CanReply Capability = 1 << iota
	// CanExecute marks agents that execute pending function calls.
	CanExecute
	// IsHuman marks agents backed by a human-input provider.
	IsHuman
	// IsTerminal marks agents whose reply ends their part in the conversation.
	IsTerminal
)

// Has reports whether every bit in c2 is set in c.
func (c Capability) Has(c2 Capability) bool { return c&c2 == c2 }

// String renders the capability set, e.g. "reply|human".
func (c Capability) String() string {
	var names []string
	if c.Has(CanReply) {
		names = append(names, "reply")
	}
	if c.Has(CanExecute) {
		names = append(names, "execute")
	}
	if c.Has(IsHuman) {
		names = append(names, "human")
	}
	if c.Has(IsTerminal) {
		names = append(names, "terminal")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Agent is a conversation participant. Implementations hold no conversation
// history of their own: the coordinator passes the agent's view of the
// transcript to every Reply call.
//
// Implementations must:
//   - Respect context cancellation and deadlines in Reply
//   - Return a fresh message value (speaker, sequence and ID are stamped by the caller)
//   - Keep Capabilities stable for the lifetime of the agent
type Agent interface {
	Name() string
	Description() string
	Capabilities() Capability
	Reply(ctx context.Context, transcript []Message) (Message, error)
	ShouldTerminate(msg Message) bool
	// MaxConsecutiveReplies caps back-to-back turns; 0 means unlimited.
	MaxConsecutiveReplies() int
}

// AgentNames returns the names of agents in roster order.
func AgentNames(agents []Agent) []string {
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name()
	}
	return names
}
