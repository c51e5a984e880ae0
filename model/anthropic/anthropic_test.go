package anthropic

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/model"
)

func TestBuildMessages(t *testing.T) {
	msgs := buildMessages([]core.Message{
		core.NewMessage("coordinator", core.RoleSystem, "notice"),
		core.NewUserMessage("user", "task"),
		core.NewFunctionCallMessage("alice", core.FunctionCall{ID: "c1", Name: "lookup", Arguments: `{"q":"x"}`}),
		core.NewFunctionResponseMessage("exec", core.FunctionResponse{ID: "c1", Name: "lookup", Response: "42"}),
		core.NewAssistantMessage("alice", ""),
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
}

func TestSystemBlocks(t *testing.T) {
	blocks := systemBlocks(model.Request{
		Instructions: "be brief",
		Messages:     []core.Message{core.NewMessage("coordinator", core.RoleSystem, "round 2")},
	})
	require.Len(t, blocks, 2)
	assert.Equal(t, "be brief", blocks[0].Text)
	assert.Equal(t, "round 2", blocks[1].Text)
}

func TestBuildParams_ForcesSchemaTool(t *testing.T) {
	m := NewModelFromClient(nil)
	schema := model.SchemaFor("judgment", "next step", struct {
		Speaker string `json:"speaker"`
	}{})

	params := m.buildParams(model.Request{
		Messages:       []core.Message{core.NewUserMessage("user", "who?")},
		ResponseSchema: &schema,
	})

	require.Len(t, params.Tools, 1)
	require.NotNil(t, params.ToolChoice.OfTool)
	assert.Equal(t, "judgment", params.ToolChoice.OfTool.Name)
	assert.Equal(t, "anthropic", m.Info().Provider)
}

func TestBuildTools_RequiredFields(t *testing.T) {
	tools := buildTools([]model.ToolDefinition{{
		Function: model.FunctionDefinition{
			Name: "lookup",
			Parameters: map[string]any{
				"properties": map[string]any{"q": map[string]any{"type": "string"}},
				"required":   []any{"q"},
			},
		},
	}})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, []string{"q"}, tools[0].OfTool.InputSchema.Required)
}
