package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/model"
)

// MockModelImpl records requests through testify/mock.
type MockModelImpl struct{ mock.Mock }

func (m *MockModelImpl) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	args := m.Called(ctx, req)

	respCh := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	if err := args.Error(1); err != nil {
		errCh <- err
	} else {
		respCh <- model.Response{
			Message:      core.Message{Role: core.RoleAssistant, Content: args.String(0)},
			FinishReason: "stop",
			Usage:        &model.TokenUsage{TotalTokens: 7},
		}
	}
	close(respCh)
	close(errCh)
	return respCh, errCh
}

func (m *MockModelImpl) Info() model.Info {
	return model.Info{Name: "mock-impl", Provider: "test"}
}

func TestModelAgent_NewAgent(t *testing.T) {
	llm := model.NewMockModel("m", "test")
	a := NewModelAgent("writer", llm)

	assert.Equal(t, "writer", a.Name())
	assert.Equal(t, core.CanReply, a.Capabilities())
	assert.Equal(t, 0, a.MaxConsecutiveReplies())
	assert.Empty(t, a.Tools())
	assert.Same(t, llm, a.Model())
	assert.False(t, a.ShouldTerminate(core.NewAssistantMessage("x", "TERMINATE")))
}

func TestModelAgent_ReplyStampsIdentity(t *testing.T) {
	llm := &MockModelImpl{}
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req model.Request) bool {
		return req.Instructions == "be brief" && len(req.Messages) == 1 && req.Messages[0].Content == "user: hi"
	})).Return("hello there", nil).Once()

	a := NewModelAgent("writer", llm, func(o *ModelAgentOptions) {
		o.Instruction = NewInstructionFromText("be brief")
	})

	reply, err := a.Reply(context.Background(), []core.Message{core.NewUserMessage("user", "hi")})
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply.Content)
	assert.Equal(t, "writer", reply.Speaker)
	assert.Equal(t, core.RoleAssistant, reply.Role)
	assert.NotEmpty(t, reply.ID)
	llm.AssertExpectations(t)
}

func TestModelAgent_ReplyError(t *testing.T) {
	llm := &MockModelImpl{}
	llm.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("backend down"))

	a := NewModelAgent("writer", llm)
	_, err := a.Reply(context.Background(), []core.Message{core.NewUserMessage("user", "hi")})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrOracleError)
}

func TestModelAgent_BuildMessagesRoles(t *testing.T) {
	a := NewModelAgent("writer", model.NewMockModel("m", "test"))

	own := core.NewFunctionCallMessage("writer", core.FunctionCall{ID: "c1", Name: "search", Arguments: `{"q":"go"}`})
	ownResult := core.NewFunctionResponseMessage("exec", core.FunctionResponse{ID: "c1", Name: "search", Response: "found"})
	foreign := core.NewFunctionCallMessage("critic", core.FunctionCall{ID: "c2", Name: "lint"})
	foreignResult := core.NewFunctionResponseMessage("exec", core.FunctionResponse{ID: "c2", Name: "lint", Response: "ok"})
	notice := core.NewMessage("manager", core.RoleSystem, "round 3")

	msgs := a.BuildMessages([]core.Message{
		core.NewUserMessage("user", "task"),
		own,
		ownResult,
		foreign,
		foreignResult,
		notice,
		core.NewAssistantMessage("writer", "draft"),
	})

	require.Len(t, msgs, 7)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, "user: task", msgs[0].Content)

	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].FunctionCalls, 1)

	assert.Equal(t, core.RoleTool, msgs[2].Role)
	require.Len(t, msgs[2].FunctionResponses, 1)

	assert.Equal(t, core.RoleUser, msgs[3].Role)
	assert.Contains(t, msgs[3].Content, "[call lint(")
	assert.Empty(t, msgs[3].FunctionCalls)

	assert.Equal(t, core.RoleUser, msgs[4].Role)
	assert.Equal(t, "exec: ok", msgs[4].Content)

	assert.Equal(t, core.RoleSystem, msgs[5].Role)
	assert.Equal(t, core.RoleAssistant, msgs[6].Role)
	assert.Equal(t, "draft", msgs[6].Content)
}

func TestModelAgent_HistoryWindow(t *testing.T) {
	a := NewModelAgent("writer", model.NewMockModel("m", "test"), func(o *ModelAgentOptions) {
		o.MaxHistoryMessages = 2
		o.PrefixSpeaker = false
	})

	msgs := a.BuildMessages([]core.Message{
		core.NewUserMessage("user", "one"),
		core.NewUserMessage("user", "two"),
		core.NewUserMessage("user", "three"),
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)
}

func TestModelAgent_FunctionCallReply(t *testing.T) {
	llm := model.NewMockModel("m", "test")
	llm.EnqueueFunctionCall(core.FunctionCall{Name: "search", Arguments: `{"q":"go"}`})

	defs := []model.ToolDefinition{{Type: "function", Function: model.FunctionDefinition{Name: "search"}}}
	a := NewModelAgent("writer", llm, func(o *ModelAgentOptions) { o.Tools = defs })

	reply, err := a.Reply(context.Background(), []core.Message{core.NewUserMessage("user", "find go")})
	require.NoError(t, err)
	require.Len(t, reply.FunctionCalls, 1)
	assert.NotEmpty(t, reply.FunctionCalls[0].ID)
	assert.Equal(t, "search", reply.FunctionCalls[0].Name)

	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	assert.Len(t, reqs[0].Tools, 1)
}

func TestModelAgent_CallLimit(t *testing.T) {
	llm := model.NewMockModel("m", "test")
	a := NewModelAgent("writer", llm, func(o *ModelAgentOptions) { o.MaxModelCalls = 1 })
	view := []core.Message{core.NewUserMessage("user", "hi")}

	_, err := a.Reply(context.Background(), view)
	require.NoError(t, err)

	_, err = a.Reply(context.Background(), view)
	assert.ErrorIs(t, err, core.ErrCallLimitExceeded)
	assert.Equal(t, 1, llm.Calls())

	a.ResetCallLimit()
	_, err = a.Reply(context.Background(), view)
	assert.NoError(t, err)
}

func TestModelAgent_Streaming(t *testing.T) {
	llm := model.NewMockModel("m", "test")
	llm.Enqueue("streamed")
	a := NewModelAgent("writer", llm, func(o *ModelAgentOptions) { o.EnableStreaming = true })

	reply, err := a.Reply(context.Background(), []core.Message{core.NewUserMessage("user", "hi")})
	require.NoError(t, err)
	assert.Equal(t, "streamed", reply.Content)
	assert.True(t, llm.Requests()[0].Stream)
}
