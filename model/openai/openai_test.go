package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/model"
)

func TestBuildMessages_MapsRoles(t *testing.T) {
	req := model.Request{
		Instructions: "be brief",
		Messages: []core.Message{
			core.NewUserMessage("user", "task"),
			core.NewFunctionCallMessage("alice", core.FunctionCall{ID: "c1", Name: "lookup", Arguments: `{}`}),
			core.NewFunctionResponseMessage("exec", core.FunctionResponse{ID: "c1", Name: "lookup", Response: "42"}),
			core.NewAssistantMessage("alice", "the answer is 42"),
		},
	}

	msgs := buildMessages(req)
	require.Len(t, msgs, 5)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	assert.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
	assert.NotNil(t, msgs[4].OfAssistant)
}

func TestBuildParams_StructuredOutputOverridesTools(t *testing.T) {
	m := NewModelFromClient(nil, func(o *Options) { o.Model = "gpt-test" })

	schema := model.SchemaFor("judgment", "next step", struct {
		Speaker string `json:"speaker"`
	}{})
	req := model.Request{
		ResponseSchema: &schema,
		Tools: []model.ToolDefinition{{
			Type:     "function",
			Function: model.FunctionDefinition{Name: "lookup", Parameters: map[string]any{"type": "object"}},
		}},
	}

	params := m.buildParams(req, nil)
	require.NotNil(t, params.ResponseFormat.OfJSONSchema)
	assert.Equal(t, "judgment", params.ResponseFormat.OfJSONSchema.JSONSchema.Name)
	assert.Empty(t, params.Tools)

	req.ResponseSchema = nil
	params = m.buildParams(req, nil)
	assert.Len(t, params.Tools, 1)
	assert.Equal(t, "gpt-test", m.Info().Name)
}

func TestFinalMessage_OrdersToolCallsByIndex(t *testing.T) {
	msg := finalMessage("", map[int64]*aggCall{
		1: {id: "b", name: "second"},
		0: {id: "a", name: "first"},
	})
	require.Len(t, msg.FunctionCalls, 2)
	assert.Equal(t, "first", msg.FunctionCalls[0].Name)
	assert.Equal(t, "second", msg.FunctionCalls[1].Name)
}
