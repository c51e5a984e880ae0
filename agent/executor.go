package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/tool"
)

// ExecutorAgentOptions configures an ExecutorAgent.
type ExecutorAgentOptions struct {
	BaseOptions
	Logger logging.Logger
}

// ExecutorAgent runs the pending function calls of the conversation through a
// tool.Executor and answers with a single tool-result message. It has only
// the CanExecute capability, so selectors route to it exactly while a
// function call is outstanding.
type ExecutorAgent struct {
	BaseAgent
	executor *tool.Executor
	logger   logging.Logger
}

// NewExecutorAgent creates an executor agent backed by executor.
func NewExecutorAgent(name string, executor *tool.Executor, optFns ...func(o *ExecutorAgentOptions)) *ExecutorAgent {
	opts := ExecutorAgentOptions{
		BaseOptions: BaseOptions{Description: fmt.Sprintf("Executes tool calls on behalf of other agents (%s)", name)},
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	base := opts.BaseOptions
	return &ExecutorAgent{
		BaseAgent: NewBaseAgent(name, core.CanExecute, func(o *BaseOptions) { *o = base }),
		executor:  executor,
		logger:    opts.Logger,
	}
}

// Executor returns the underlying tool executor.
func (a *ExecutorAgent) Executor() *tool.Executor { return a.executor }

// Reply implements core.Agent.
func (a *ExecutorAgent) Reply(ctx context.Context, transcript []core.Message) (core.Message, error) {
	pending, ok := PendingFunctionCalls(transcript)
	if !ok {
		return core.Message{}, fmt.Errorf("%w: %s found no pending function calls", core.ErrMalformedReply, a.Name())
	}

	start := time.Now()
	responses := a.executor.Execute(ctx, a.Name(), pending.FunctionCalls, transcript)
	if err := ctx.Err(); err != nil {
		return core.Message{}, err
	}

	a.logger.Debug(
		"agent.executor.complete",
		"agent", a.Name(),
		"issuer", pending.Speaker,
		"calls", len(responses),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return core.NewFunctionResponseMessage(a.Name(), responses...), nil
}

// PendingFunctionCalls returns the most recent message carrying function
// calls that no later tool message has answered.
func PendingFunctionCalls(transcript []core.Message) (core.Message, bool) {
	answered := map[string]bool{}
	for i := len(transcript) - 1; i >= 0; i-- {
		m := transcript[i]
		for _, fr := range m.FunctionResponses {
			answered[fr.ID] = true
		}
		if !m.HasFunctionCalls() {
			continue
		}
		open := make([]core.FunctionCall, 0, len(m.FunctionCalls))
		for _, fc := range m.FunctionCalls {
			if !answered[fc.ID] {
				open = append(open, fc)
			}
		}
		if len(open) == 0 {
			return core.Message{}, false
		}
		pending := m.Clone()
		pending.FunctionCalls = open
		return pending, true
	}
	return core.Message{}, false
}
