package testutil

import (
	"github.com/hupe1980/groupmesh/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder().Speaker("writer").Text("hello").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	speaker       string
	id            string
	role          core.Role
	sequence      int64
	content       string
	funcCalls     []core.FunctionCall
	funcResponses []core.FunctionResponse
	metadata      map[string]string
}

// NewMessageBuilder creates a builder with default speaker "agent" and
// assistant role.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{speaker: "agent", role: core.RoleAssistant}
}

// Speaker sets the speaker name (chainable).
func (b *MessageBuilder) Speaker(s string) *MessageBuilder { b.speaker = s; return b }

// ID overrides the auto-generated message ID (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.id = id; return b }

// Sequence presets the sequence number (chainable).
func (b *MessageBuilder) Sequence(seq int64) *MessageBuilder { b.sequence = seq; return b }

// Text sets the content and keeps the current role (chainable).
func (b *MessageBuilder) Text(t string) *MessageBuilder { b.content = t; return b }

// UserText sets the content and the user role (chainable).
func (b *MessageBuilder) UserText(t string) *MessageBuilder {
	b.role = core.RoleUser
	b.content = t
	return b
}

// SystemText sets the content and the system role (chainable).
func (b *MessageBuilder) SystemText(t string) *MessageBuilder {
	b.role = core.RoleSystem
	b.content = t
	return b
}

// FunctionCall adds a function call with the given id, name and JSON arguments (chainable).
func (b *MessageBuilder) FunctionCall(id, name, args string) *MessageBuilder {
	b.funcCalls = append(b.funcCalls, core.FunctionCall{ID: id, Name: name, Arguments: args})
	return b
}

// FunctionResponse adds a tool result and switches to the tool role (chainable).
func (b *MessageBuilder) FunctionResponse(id, name string, result any, err error) *MessageBuilder {
	fr := core.FunctionResponse{ID: id, Name: name, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	b.role = core.RoleTool
	b.funcResponses = append(b.funcResponses, fr)
	return b
}

// Meta sets a metadata entry (chainable).
func (b *MessageBuilder) Meta(k, v string) *MessageBuilder {
	if b.metadata == nil {
		b.metadata = map[string]string{}
	}
	b.metadata[k] = v
	return b
}

// Build constructs the core.Message value.
func (b *MessageBuilder) Build() core.Message {
	msg := core.NewMessage(b.speaker, b.role, b.content)
	if b.id != "" {
		msg.ID = b.id
	}
	msg.Sequence = b.sequence
	if len(b.funcCalls) > 0 {
		msg.FunctionCalls = append([]core.FunctionCall(nil), b.funcCalls...)
	}
	if len(b.funcResponses) > 0 {
		msg.FunctionResponses = append([]core.FunctionResponse(nil), b.funcResponses...)
	}
	for k, v := range b.metadata {
		if msg.Metadata == nil {
			msg.Metadata = map[string]string{}
		}
		msg.Metadata[k] = v
	}
	return msg
}

// Records builds a persisted history of broadcast text records alternating
// over speakers, starting with a user record carrying task.
func Records(task string, speakers []string, turns int) []core.Record {
	records := []core.Record{{Role: core.RoleUser, Name: "user", Content: task}}
	for i := 0; i < turns && len(speakers) > 0; i++ {
		sp := speakers[i%len(speakers)]
		records = append(records, core.Record{
			Role:    core.RoleAssistant,
			Name:    sp,
			Content: sp + " turn " + string(rune('A'+i%26)),
		})
	}
	return records
}
