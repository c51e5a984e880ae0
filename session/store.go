package session

import (
	"context"
	"errors"

	"github.com/hupe1980/groupmesh/core"
)

// ErrNotFound is returned when no archive exists for a conversation ID.
var ErrNotFound = errors.New("session: transcript not found")

// Store persists transcripts by conversation ID. Save replaces any
// previous archive for the same ID. Implementations are safe for concurrent
// use.
type Store interface {
	Save(ctx context.Context, id string, records []core.Record) error
	Load(ctx context.Context, id string) ([]core.Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// Restore loads an archive and rebuilds the transcript. Records without
// recipients are delivered to every participant.
func Restore(ctx context.Context, s Store, id string, participants ...string) (*core.Transcript, error) {
	records, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return core.FromRecords(records, participants...)
}

func validID(id string) error {
	if id == "" {
		return errors.New("session: conversation id is empty")
	}
	return nil
}

func cloneRecords(records []core.Record) []core.Record {
	out := make([]core.Record, len(records))
	for i, r := range records {
		out[i] = cloneRecord(r)
	}
	return out
}

func cloneRecord(r core.Record) core.Record {
	if r.Recipients != nil {
		r.Recipients = append([]string(nil), r.Recipients...)
	}
	if r.FunctionCalls != nil {
		r.FunctionCalls = append([]core.FunctionCall(nil), r.FunctionCalls...)
	}
	if r.FunctionResponses != nil {
		r.FunctionResponses = append([]core.FunctionResponse(nil), r.FunctionResponses...)
	}
	return r
}
