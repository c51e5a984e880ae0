package core

import (
	"encoding/json"
	"strings"
	"time"
)

// Role classifies the author perspective of a message.
type Role string

const (
	// RoleUser marks task input and messages attributed to a requester.
	RoleUser Role = "user"
	// RoleAssistant marks agent replies.
	RoleAssistant Role = "assistant"
	// RoleTool marks tool/function results.
	RoleTool Role = "tool"
	// RoleSystem marks coordinator or orchestrator notices.
	RoleSystem Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool, RoleSystem:
		return true
	default:
		return false
	}
}

// FunctionCall represents a model requesting execution of a tool/function.
type FunctionCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // JSON encoded arguments
}

// FunctionResponse holds the result (or error) of executing a function call.
type FunctionResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Response any    `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Text renders the response payload as plain text for oracle consumption.
func (fr FunctionResponse) Text() string {
	if fr.Error != "" {
		return "error: " + fr.Error
	}
	switch v := fr.Response.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Message is one conversation record. Messages are immutable once appended to
// a Transcript; the store hands out copies.
type Message struct {
	ID                string             `json:"id"`
	Sequence          int64              `json:"sequence"`
	Speaker           string             `json:"speaker"`
	Role              Role               `json:"role"`
	Content           string             `json:"content"`
	FunctionCalls     []FunctionCall     `json:"function_calls,omitempty"`
	FunctionResponses []FunctionResponse `json:"function_responses,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`
	Metadata          map[string]string  `json:"metadata,omitempty"`
}

// NewMessage creates an unsequenced message. Sequence numbers are assigned
// by the Transcript on delivery.
func NewMessage(speaker string, role Role, content string) Message {
	return Message{
		ID:        NewID(),
		Speaker:   speaker,
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage is shorthand for a user message.
func NewUserMessage(speaker, content string) Message {
	return NewMessage(speaker, RoleUser, content)
}

// NewAssistantMessage is shorthand for an assistant message.
func NewAssistantMessage(speaker, content string) Message {
	return NewMessage(speaker, RoleAssistant, content)
}

// NewFunctionCallMessage creates an assistant message requesting tool execution.
func NewFunctionCallMessage(speaker string, calls ...FunctionCall) Message {
	m := NewMessage(speaker, RoleAssistant, "")
	m.FunctionCalls = append([]FunctionCall(nil), calls...)
	return m
}

// NewFunctionResponseMessage creates a tool message carrying function results.
func NewFunctionResponseMessage(speaker string, responses ...FunctionResponse) Message {
	m := NewMessage(speaker, RoleTool, "")
	m.FunctionResponses = append([]FunctionResponse(nil), responses...)
	return m
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	c := m
	if m.FunctionCalls != nil {
		c.FunctionCalls = append([]FunctionCall(nil), m.FunctionCalls...)
	}
	if m.FunctionResponses != nil {
		c.FunctionResponses = append([]FunctionResponse(nil), m.FunctionResponses...)
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// HasFunctionCalls reports whether the message requests tool execution.
func (m Message) HasFunctionCalls() bool { return len(m.FunctionCalls) > 0 }

// HasFunctionResponses reports whether the message carries tool results.
func (m Message) HasFunctionResponses() bool { return len(m.FunctionResponses) > 0 }

// IsEmpty reports whether the message has neither text nor a function payload.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && !m.HasFunctionCalls() && !m.HasFunctionResponses()
}

// Text returns the textual view of the message used when building prompts.
// Function responses are rendered when no content is present.
func (m Message) Text() string {
	if m.Content != "" || !m.HasFunctionResponses() {
		return m.Content
	}
	parts := make([]string, 0, len(m.FunctionResponses))
	for _, fr := range m.FunctionResponses {
		parts = append(parts, fr.Text())
	}
	return strings.Join(parts, "\n")
}
