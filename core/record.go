package core

import (
	"encoding/json"
	"fmt"
)

// Record is the persisted form of one transcript message. The required
// fields are role, name and content; the rest are optional so archives
// written by simpler producers stay loadable. A record without recipients
// is a broadcast unless Private marks it as seen by its speaker only.
type Record struct {
	ID                string             `json:"id,omitempty"`
	Role              Role               `json:"role"`
	Name              string             `json:"name"`
	Content           string             `json:"content"`
	Recipients        []string           `json:"recipients,omitempty"`
	Private           bool               `json:"private,omitempty"`
	FunctionCalls     []FunctionCall     `json:"function_calls,omitempty"`
	FunctionResponses []FunctionResponse `json:"function_responses,omitempty"`
}

// Message converts the record into an unsequenced message.
func (r Record) Message() Message {
	m := Message{
		ID:      r.ID,
		Speaker: r.Name,
		Role:    r.Role,
		Content: r.Content,
	}
	if len(r.FunctionCalls) > 0 {
		m.FunctionCalls = append([]FunctionCall(nil), r.FunctionCalls...)
	}
	if len(r.FunctionResponses) > 0 {
		m.FunctionResponses = append([]FunctionResponse(nil), r.FunctionResponses...)
	}
	return m
}

// Records returns the persisted form of the shared log in sequence order.
func (t *Transcript) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, Record{
			ID:                e.msg.ID,
			Role:              e.msg.Role,
			Name:              e.msg.Speaker,
			Content:           e.msg.Content,
			Recipients:        append([]string(nil), e.recipients...),
			Private:           len(e.recipients) == 0,
			FunctionCalls:     append([]FunctionCall(nil), e.msg.FunctionCalls...),
			FunctionResponses: append([]FunctionResponse(nil), e.msg.FunctionResponses...),
		})
	}
	return out
}

// Audience returns who r is delivered to on replay: its recipients, nobody
// for a private record, otherwise everyone in participants.
func (r Record) Audience(participants []string) []string {
	switch {
	case len(r.Recipients) > 0:
		return r.Recipients
	case r.Private:
		return nil
	default:
		return participants
	}
}

// FromRecords rebuilds a transcript from its persisted form. Records without
// recipients are broadcast to every participant named in participants.
func FromRecords(records []Record, participants ...string) (*Transcript, error) {
	t := NewTranscript()
	for i, r := range records {
		if !r.Role.Valid() {
			return nil, fmt.Errorf("record %d: unknown role %q", i, r.Role)
		}
		recipients := r.Audience(participants)
		msg := r.Message()
		msg.Sequence = int64(i + 1)
		if _, err := t.Deliver(msg, recipients...); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return t, nil
}

// MarshalRecords encodes records as a JSON array.
func MarshalRecords(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(records)
}

// UnmarshalRecords decodes a JSON array of records.
func UnmarshalRecords(data []byte) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode transcript records: %w", err)
	}
	return records, nil
}

// MessagesToRecords converts plain messages (for example a Result transcript)
// into records without recipient information.
func MessagesToRecords(msgs []Message) []Record {
	out := make([]Record, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Record{
			ID:                m.ID,
			Role:              m.Role,
			Name:              m.Speaker,
			Content:           m.Content,
			FunctionCalls:     append([]FunctionCall(nil), m.FunctionCalls...),
			FunctionResponses: append([]FunctionResponse(nil), m.FunctionResponses...),
		})
	}
	return out
}
