package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/groupmesh/logging"
)

// ToolContext provides a constrained surface for tool / function
// implementations invoked on behalf of an agent. It exposes the call identity,
// the caller's view of the transcript and a logger; tools never touch the
// coordinator's store directly.
type ToolContext struct {
	ctx            context.Context
	conversationID string
	functionCallID string
	functionName   string
	agentName      string
	history        []Message

	*loggerAdapter
}

// ToolContextOptions carries the optional parts of a ToolContext.
type ToolContextOptions struct {
	ConversationID string
	History        []Message
	Logger         logging.Logger
}

// NewToolContext constructs a tool context for a single function call.
func NewToolContext(ctx context.Context, agentName string, call FunctionCall, optFns ...func(o *ToolContextOptions)) *ToolContext {
	opts := ToolContextOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ToolContext{
		ctx:            ctx,
		conversationID: opts.ConversationID,
		functionCallID: call.ID,
		functionName:   call.Name,
		agentName:      agentName,
		history:        opts.History,
		loggerAdapter:  newLoggerAdapter(opts.Logger),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// ConversationID returns the conversation the call belongs to (may be empty).
func (tc *ToolContext) ConversationID() string { return tc.conversationID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// FunctionName returns the name of the invoked function.
func (tc *ToolContext) FunctionName() string { return tc.functionName }

// AgentName returns the name of the agent executing the call.
func (tc *ToolContext) AgentName() string { return tc.agentName }

// History returns a copy of the executing agent's view of the transcript.
func (tc *ToolContext) History() []Message { return cloneMessages(tc.history) }

// Validate performs a structural sanity check of the context.
func (tc *ToolContext) Validate() error {
	if tc.ctx == nil || tc.functionCallID == "" || tc.functionName == "" {
		return fmt.Errorf("invalid ToolContext")
	}
	return nil
}
