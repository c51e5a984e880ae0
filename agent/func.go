package agent

import (
	"context"

	"github.com/hupe1980/groupmesh/core"
)

// ReplyFunc produces a reply from the agent's view of the transcript.
type ReplyFunc func(ctx context.Context, transcript []core.Message) (core.Message, error)

// TextReply adapts a text-producing function into a ReplyFunc.
func TextReply(name string, fn func(ctx context.Context, transcript []core.Message) (string, error)) ReplyFunc {
	return func(ctx context.Context, transcript []core.Message) (core.Message, error) {
		text, err := fn(ctx, transcript)
		if err != nil {
			return core.Message{}, err
		}
		return core.NewAssistantMessage(name, text), nil
	}
}

// FuncAgentOptions configures a FuncAgent.
type FuncAgentOptions struct {
	BaseOptions
	Capabilities core.Capability
}

// FuncAgent replies by calling a plain Go function.
type FuncAgent struct {
	BaseAgent
	fn ReplyFunc
}

// NewFuncAgent creates a CanReply agent around fn.
func NewFuncAgent(name string, fn ReplyFunc, optFns ...func(o *FuncAgentOptions)) *FuncAgent {
	opts := FuncAgentOptions{Capabilities: core.CanReply}
	opts.Description = "Agent " + name
	for _, f := range optFns {
		f(&opts)
	}
	base := opts.BaseOptions
	return &FuncAgent{
		BaseAgent: NewBaseAgent(name, opts.Capabilities, func(o *BaseOptions) { *o = base }),
		fn:        fn,
	}
}

// Reply implements core.Agent.
func (a *FuncAgent) Reply(ctx context.Context, transcript []core.Message) (core.Message, error) {
	if err := ctx.Err(); err != nil {
		return core.Message{}, err
	}
	msg, err := a.fn(ctx, transcript)
	if err != nil {
		return core.Message{}, err
	}
	if msg.Role == "" {
		msg.Role = core.RoleAssistant
	}
	msg.Speaker = a.Name()
	return msg, nil
}
