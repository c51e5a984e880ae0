package agent

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/tool"
)

func TestBaseAgent_Options(t *testing.T) {
	b := NewBaseAgent("critic", core.CanReply|core.IsTerminal, func(o *BaseOptions) {
		o.Description = "reviews drafts"
		o.MaxConsecutiveReplies = 2
		o.Terminate = ContainsMarker("DONE")
	})

	assert.Equal(t, "critic", b.Name())
	assert.Equal(t, "reviews drafts", b.Description())
	assert.True(t, b.Capabilities().Has(core.IsTerminal))
	assert.Equal(t, 2, b.MaxConsecutiveReplies())
	assert.True(t, b.ShouldTerminate(core.NewAssistantMessage("critic", "all DONE here")))
	assert.False(t, b.ShouldTerminate(core.NewAssistantMessage("critic", "not yet")))

	plain := NewBaseAgent("plain", core.CanReply)
	assert.Equal(t, "Agent plain", plain.Description())
	assert.False(t, plain.ShouldTerminate(core.NewAssistantMessage("plain", "TERMINATE")))
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name    string
		pred    func(core.Message) bool
		content string
		want    bool
	}{
		{"contains hit", ContainsMarker("TERMINATE"), "ok TERMINATE now", true},
		{"contains miss", ContainsMarker("TERMINATE"), "carry on", false},
		{"contains empty marker", ContainsMarker(""), "anything", false},
		{"suffix hit", HasSuffixMarker("TERMINATE"), "done. TERMINATE  \n", true},
		{"suffix miss", HasSuffixMarker("TERMINATE"), "TERMINATE was said", false},
		{"any of", AnyOf(ContainsMarker("STOP"), HasSuffixMarker("END")), "the END", true},
		{"any of nil", AnyOf(nil), "the END", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred(core.NewAssistantMessage("a", tt.content)))
		})
	}
}

func TestFuncAgent(t *testing.T) {
	a := NewFuncAgent("echo", TextReply("ignored", func(_ context.Context, transcript []core.Message) (string, error) {
		return "echo: " + transcript[len(transcript)-1].Content, nil
	}), func(o *FuncAgentOptions) { o.MaxConsecutiveReplies = 1 })

	reply, err := a.Reply(context.Background(), []core.Message{core.NewUserMessage("user", "ping")})
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", reply.Content)
	assert.Equal(t, "echo", reply.Speaker)
	assert.Equal(t, core.RoleAssistant, reply.Role)
	assert.Equal(t, 1, a.MaxConsecutiveReplies())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Reply(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutorAgent_ExecutesPendingCalls(t *testing.T) {
	upper := tool.NewFunctionTool("upper", "uppercases", map[string]any{
		"type":       "object",
		"properties": map[string]any{"s": map[string]any{"type": "string"}},
		"required":   []string{"s"},
	}, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return strings.ToUpper(args["s"].(string)), nil
	})

	ex := NewExecutorAgent("exec", tool.NewExecutor([]tool.Tool{upper}))
	assert.Equal(t, core.CanExecute, ex.Capabilities())

	call := core.NewFunctionCallMessage("writer",
		core.FunctionCall{ID: "1", Name: "upper", Arguments: `{"s":"go"}`},
		core.FunctionCall{ID: "2", Name: "upper", Arguments: `{"s":"mesh"}`},
	)
	reply, err := ex.Reply(context.Background(), []core.Message{core.NewUserMessage("user", "shout"), call})
	require.NoError(t, err)
	assert.Equal(t, core.RoleTool, reply.Role)
	require.Len(t, reply.FunctionResponses, 2)
	assert.Equal(t, "GO", reply.FunctionResponses[0].Response)
	assert.Equal(t, "MESH", reply.FunctionResponses[1].Response)
}

func TestExecutorAgent_NothingPending(t *testing.T) {
	ex := NewExecutorAgent("exec", tool.NewExecutor(nil))
	_, err := ex.Reply(context.Background(), []core.Message{core.NewUserMessage("user", "hi")})
	assert.ErrorIs(t, err, core.ErrMalformedReply)
}

func TestPendingFunctionCalls(t *testing.T) {
	call := core.NewFunctionCallMessage("writer",
		core.FunctionCall{ID: "1", Name: "a"},
		core.FunctionCall{ID: "2", Name: "b"},
	)
	partial := core.NewFunctionResponseMessage("exec", core.FunctionResponse{ID: "1", Name: "a"})
	full := core.NewFunctionResponseMessage("exec", core.FunctionResponse{ID: "2", Name: "b"})

	pending, ok := PendingFunctionCalls([]core.Message{call, partial})
	require.True(t, ok)
	require.Len(t, pending.FunctionCalls, 1)
	assert.Equal(t, "2", pending.FunctionCalls[0].ID)
	assert.Equal(t, "writer", pending.Speaker)

	_, ok = PendingFunctionCalls([]core.Message{call, partial, full})
	assert.False(t, ok)

	_, ok = PendingFunctionCalls(nil)
	assert.False(t, ok)
}

func scriptedInput(answers ...string) (core.HumanInput, *[]string) {
	var prompts []string
	return core.HumanInputFunc(func(_ context.Context, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		if len(answers) == 0 {
			return "", io.EOF
		}
		a := answers[0]
		answers = answers[1:]
		return a, nil
	}), &prompts
}

func TestHumanAgent_Reply(t *testing.T) {
	input, prompts := scriptedInput("  looks good  ")
	h := NewHumanAgent("alice", input)

	assert.Equal(t, core.CanReply|core.IsHuman, h.Capabilities())

	reply, err := h.Reply(context.Background(), []core.Message{core.NewAssistantMessage("writer", "draft v1")})
	require.NoError(t, err)
	assert.Equal(t, "looks good", reply.Content)
	assert.Equal(t, "alice", reply.Speaker)
	require.Len(t, *prompts, 1)
	assert.Contains(t, (*prompts)[0], "writer: draft v1")
}

func TestHumanAgent_DefaultReplyAndConfirm(t *testing.T) {
	input, _ := scriptedInput("", "n", "second", "y")
	h := NewHumanAgent("alice", input, func(o *HumanAgentOptions) {
		o.DefaultReply = "TERMINATE"
		o.Confirm = true
	})

	reply, err := h.Reply(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "second", reply.Content)
}

func TestHumanAgent_DeclinedTooOften(t *testing.T) {
	input, _ := scriptedInput("a", "n", "b", "no")
	h := NewHumanAgent("alice", input, func(o *HumanAgentOptions) {
		o.Confirm = true
		o.MaxAttempts = 2
	})

	_, err := h.Reply(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrMalformedReply)
}

func TestHumanAgent_InputError(t *testing.T) {
	boom := errors.New("tty gone")
	h := NewHumanAgent("alice", core.HumanInputFunc(func(context.Context, string) (string, error) { return "", boom }))
	_, err := h.Reply(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestConsoleInput(t *testing.T) {
	var out strings.Builder
	c := NewConsoleInput(strings.NewReader("first\r\nsecond\n"), &out)

	got, err := c.GetInput(context.Background(), "> ")
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	got, err = c.GetInput(context.Background(), "> ")
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	_, err = c.GetInput(context.Background(), "> ")
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "> > > ", out.String())
}

func TestConsoleInput_Cancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c := NewConsoleInput(pr, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetInput(ctx, "> ")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
