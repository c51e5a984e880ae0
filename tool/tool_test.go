package tool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/groupmesh/core"
)

func sumSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}
}

func newSumTool() *FunctionTool {
	return NewFunctionTool("sum", "adds two numbers", sumSchema(), func(_ *core.ToolContext, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})
}

func newToolCtx(name string) *core.ToolContext {
	return core.NewToolContext(context.Background(), "executor", core.FunctionCall{ID: "fc1", Name: name})
}

func TestFunctionTool_Success(t *testing.T) {
	res, err := newSumTool().Call(newToolCtx("sum"), map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, res)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	_, err := newSumTool().Call(newToolCtx("sum"), map[string]any{"a": 2.0})
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.Equal(t, "sum", toolErr.Tool)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	ft := NewFunctionTool("boom", "fails", map[string]any{"type": "object"}, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, errors.New("kaput")
	})

	_, err := ft.Call(newToolCtx("boom"), map[string]any{})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.Contains(t, toolErr.Error(), "kaput")
}

func TestFunctionTool_ForwardsToolError(t *testing.T) {
	ft := NewFunctionTool("custom", "fails", map[string]any{"type": "object"}, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, NewToolError("custom", "no quota", "QUOTA")
	})

	_, err := ft.Call(newToolCtx("custom"), map[string]any{})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "QUOTA", toolErr.Code)
}

type weatherArgs struct {
	City  string `json:"city" description:"City name"`
	Units string `json:"units,omitempty"`
}

func TestTypedFunctionTool(t *testing.T) {
	ft := NewTypedFunctionTool("weather", "looks up weather", func(_ *core.ToolContext, args weatherArgs) (any, error) {
		return args.City + ":" + args.Units, nil
	})

	props, ok := ft.Parameters()["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "city")

	res, err := ft.Call(newToolCtx("weather"), map[string]any{"city": "Berlin", "units": "metric"})
	require.NoError(t, err)
	assert.Equal(t, "Berlin:metric", res)

	_, err = ft.Call(newToolCtx("weather"), map[string]any{"units": "metric"})
	require.Error(t, err)
}

func TestExecutor_PreservesCallOrder(t *testing.T) {
	slow := NewFunctionTool("slow", "sleeps", map[string]any{"type": "object"}, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return "slow:" + tc.FunctionCallID(), nil
	})
	fast := NewFunctionTool("fast", "returns", map[string]any{"type": "object"}, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		return "fast:" + tc.FunctionCallID(), nil
	})

	ex := NewExecutor([]Tool{slow, fast}, func(o *ExecutorOptions) { o.MaxParallel = 3 })

	calls := []core.FunctionCall{
		{ID: "1", Name: "slow"},
		{ID: "2", Name: "fast"},
		{ID: "3", Name: "slow"},
	}

	got := ex.Execute(context.Background(), "runner", calls, nil)
	require.Len(t, got, 3)
	for i, fc := range calls {
		assert.Equal(t, fc.ID, got[i].ID)
		assert.Equal(t, fc.Name, got[i].Name)
		assert.Empty(t, got[i].Error)
	}
	assert.Equal(t, "slow:1", got[0].Response)
	assert.Equal(t, "fast:2", got[1].Response)
	assert.Equal(t, "slow:3", got[2].Response)
}

func TestExecutor_BoundsParallelism(t *testing.T) {
	var inFlight, peak int32
	probe := NewFunctionTool("probe", "tracks concurrency", map[string]any{"type": "object"}, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	})

	ex := NewExecutor([]Tool{probe}, func(o *ExecutorOptions) { o.MaxParallel = 2 })

	calls := make([]core.FunctionCall, 6)
	for i := range calls {
		calls[i] = core.FunctionCall{ID: string(rune('a' + i)), Name: "probe"}
	}
	ex.Execute(context.Background(), "runner", calls, nil)

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestExecutor_ErrorsBecomeResponses(t *testing.T) {
	panicky := NewFunctionTool("panicky", "panics", map[string]any{"type": "object"}, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		panic("boom")
	})
	ex := NewExecutor([]Tool{panicky, newSumTool()})

	got := ex.Execute(context.Background(), "runner", []core.FunctionCall{
		{ID: "p", Name: "panicky"},
		{ID: "m", Name: "missing"},
		{ID: "j", Name: "sum", Arguments: "{not json"},
		{ID: "s", Name: "sum", Arguments: `{"a":1,"b":2}`},
	}, nil)

	require.Len(t, got, 4)
	assert.Contains(t, got[0].Error, CodePanic)
	assert.Contains(t, got[1].Error, CodeNotFound)
	assert.Contains(t, got[2].Error, CodeValidation)
	assert.Empty(t, got[3].Error)
	assert.Equal(t, 3.0, got[3].Response)
}

func TestExecutor_CancelledContext(t *testing.T) {
	ex := NewExecutor([]Tool{newSumTool()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := ex.Execute(ctx, "runner", []core.FunctionCall{{ID: "1", Name: "sum", Arguments: `{"a":1,"b":2}`}}, nil)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Error, CodeTimeout)
}

func TestExecutor_PassesHistory(t *testing.T) {
	var seen int
	hist := NewFunctionTool("hist", "counts history", map[string]any{"type": "object"}, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		seen = len(tc.History())
		return tc.AgentName(), nil
	})
	ex := NewExecutor([]Tool{hist}, func(o *ExecutorOptions) { o.MaxParallel = 1 })

	history := []core.Message{core.NewUserMessage("user", "hi"), core.NewAssistantMessage("a", "hello")}
	got := ex.Execute(context.Background(), "runner", []core.FunctionCall{{ID: "1", Name: "hist"}}, history)

	assert.Equal(t, 2, seen)
	assert.Equal(t, "runner", got[0].Response)
}

func TestExecutor_RegistryAndDefinitions(t *testing.T) {
	ex := NewExecutor(nil)
	assert.False(t, ex.Has("sum"))
	assert.Nil(t, ex.Execute(context.Background(), "runner", nil, nil))

	ex.Register(newSumTool())
	ex.Register(NewFunctionTool("avg", "averages", sumSchema(), nil))
	assert.True(t, ex.Has("sum"))

	defs := ex.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "avg", defs[0].Function.Name)
	assert.Equal(t, "sum", defs[1].Function.Name)
	assert.Equal(t, "function", defs[0].Type)
}
