package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/model"
)

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// MaxParallel bounds concurrent calls; 0 or <1 means len(calls).
	MaxParallel int
	// CallTimeout bounds each call; 0 disables the per-call deadline.
	CallTimeout time.Duration
	Logger      logging.Logger
}

// Executor runs batches of function calls against a tool registry. It never
// panics (panics are recovered into CodePanic errors) and always returns
// exactly one FunctionResponse per call, in call order.
type Executor struct {
	mu    sync.RWMutex
	tools map[string]Tool
	opts  ExecutorOptions
}

// NewExecutor creates an executor for the given tools.
func NewExecutor(tools []Tool, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{
		MaxParallel: 4,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	e := &Executor{tools: make(map[string]Tool, len(tools)), opts: opts}
	for _, t := range tools {
		e.tools[t.Name()] = t
	}
	return e
}

// Register adds or replaces a tool.
func (e *Executor) Register(t Tool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools[t.Name()] = t
}

// Has reports whether a tool with name is registered.
func (e *Executor) Has(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.tools[name]
	return ok
}

// Definitions returns oracle tool definitions sorted by name.
func (e *Executor) Definitions() []model.ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	defs := make([]model.ToolDefinition, 0, len(e.tools))
	for _, t := range e.tools {
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Function.Name < defs[j].Function.Name })
	return defs
}

// Execute runs calls on behalf of agentName and returns their responses in
// call order. history is exposed to tools through the ToolContext.
func (e *Executor) Execute(ctx context.Context, agentName string, calls []core.FunctionCall, history []core.Message) []core.FunctionResponse {
	n := len(calls)
	if n == 0 {
		return nil
	}

	results := make([]core.FunctionResponse, n)

	maxPar := e.opts.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	batchStart := time.Now()

	if maxPar == 1 {
		for i, fc := range calls {
			results[i] = e.executeOne(ctx, agentName, fc, history)
		}
	} else {
		var wg sync.WaitGroup
		sem := make(chan struct{}, maxPar)
		for i := range calls {
			wg.Add(1)
			sem <- struct{}{}
			go func(idx int, fc core.FunctionCall) {
				defer wg.Done()
				defer func() { <-sem }()
				results[idx] = e.executeOne(ctx, agentName, fc, history)
			}(i, calls[i])
		}
		wg.Wait()
	}

	e.opts.Logger.Debug(
		"tool.batch.complete",
		"agent", agentName,
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return results
}

func (e *Executor) executeOne(ctx context.Context, agentName string, fc core.FunctionCall, history []core.Message) (resp core.FunctionResponse) {
	resp = core.FunctionResponse{ID: fc.ID, Name: fc.Name}

	if err := ctx.Err(); err != nil {
		resp.Error = NewToolError(fc.Name, err.Error(), CodeTimeout).Error()
		return resp
	}

	callCtx := ctx
	if e.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.opts.CallTimeout)
		defer cancel()
	}

	toolCtx := core.NewToolContext(callCtx, agentName, fc, func(o *core.ToolContextOptions) {
		o.History = history
		o.Logger = e.opts.Logger
	})

	start := time.Now()
	result, err := e.call(toolCtx, fc)

	e.opts.Logger.Info(
		"tool.function.executed",
		"agent", agentName,
		"function", fc.Name,
		"function_call_id", fc.ID,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)

	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Response = result
	return resp
}

// call looks up and runs a tool, converting panics into *ToolError.
func (e *Executor) call(toolCtx *core.ToolContext, fc core.FunctionCall) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.opts.Logger.Error("tool.function.panic", "function", fc.Name, "recover", r, "stack", string(debug.Stack()))
			result, err = nil, NewToolError(fc.Name, fmt.Sprintf("panic recovered: %v", r), CodePanic)
		}
	}()

	e.mu.RLock()
	impl, ok := e.tools[fc.Name]
	e.mu.RUnlock()
	if !ok {
		return nil, NewToolError(fc.Name, "tool not found", CodeNotFound)
	}

	args := map[string]any{}
	if fc.Arguments != "" {
		if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
			return nil, NewToolError(fc.Name, fmt.Sprintf("failed to unmarshal args: %v", err), CodeValidation)
		}
	}

	return impl.Call(toolCtx, args)
}
