package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deliver(t *testing.T, tr *Transcript, speaker, content string, recipients ...string) Message {
	t.Helper()
	m, err := tr.Deliver(NewAssistantMessage(speaker, content), recipients...)
	require.NoError(t, err)
	return m
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestTranscript_AppendRejectsNonIncreasingSequence(t *testing.T) {
	tr := NewTranscript()

	m := NewAssistantMessage("a", "one")
	m.Sequence = 5
	require.NoError(t, tr.Append(m))

	dup := NewAssistantMessage("a", "two")
	dup.Sequence = 5
	err := tr.Append(dup)

	var seqErr *DuplicateSequenceError
	require.True(t, errors.As(err, &seqErr))
	assert.Equal(t, int64(5), seqErr.Sequence)
	assert.Equal(t, int64(5), seqErr.Last)

	older := NewAssistantMessage("a", "three")
	older.Sequence = 2
	assert.Error(t, tr.Append(older))
	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, int64(6), tr.NextSequence())
}

func TestTranscript_DeliverStampsMissingFields(t *testing.T) {
	tr := NewTranscript()

	m := deliver(t, tr, "a", "hello", "b")
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, int64(1), m.Sequence)
	assert.False(t, m.Timestamp.IsZero())

	m2 := deliver(t, tr, "b", "hi", "a")
	assert.Equal(t, int64(2), m2.Sequence)
}

func TestTranscript_ViewForContainsSentAndReceived(t *testing.T) {
	tr := NewTranscript()
	deliver(t, tr, "a", "a->b", "b")
	deliver(t, tr, "b", "b->c", "c")
	deliver(t, tr, "c", "c->all", "a", "b")

	assert.Equal(t, []string{"a->b", "c->all"}, contents(tr.ViewFor("a")))
	assert.Equal(t, []string{"a->b", "b->c", "c->all"}, contents(tr.ViewFor("b")))
	assert.Equal(t, []string{"b->c", "c->all"}, contents(tr.ViewFor("c")))
	assert.Empty(t, tr.ViewFor("nobody"))
}

func TestTranscript_ViewCacheInvalidatedOnAppend(t *testing.T) {
	tr := NewTranscript()
	deliver(t, tr, "a", "first", "b")

	require.Len(t, tr.ViewFor("b"), 1)
	require.Len(t, tr.Dyad("b", "a"), 1)

	deliver(t, tr, "a", "second", "b")

	assert.Len(t, tr.ViewFor("b"), 2)
	assert.Len(t, tr.Dyad("b", "a"), 2)
}

func TestTranscript_ViewsAreCopies(t *testing.T) {
	tr := NewTranscript()
	deliver(t, tr, "a", "original", "b")

	view := tr.ViewFor("b")
	view[0].Content = "mutated"

	assert.Equal(t, "original", tr.ViewFor("b")[0].Content)
	assert.Equal(t, "original", tr.Messages()[0].Content)
}

func TestTranscript_Dyad(t *testing.T) {
	tr := NewTranscript()
	deliver(t, tr, "a", "a->b", "b")
	deliver(t, tr, "a", "a->c", "c")
	deliver(t, tr, "b", "b->a", "a")
	deliver(t, tr, "c", "c->b", "b")

	assert.Equal(t, []string{"a->b", "b->a"}, contents(tr.Dyad("a", "b")))
	assert.Equal(t, []string{"a->c"}, contents(tr.Dyad("a", "c")))
	assert.Equal(t, []string{"c->b"}, contents(tr.Dyad("b", "c")))
}

func TestTranscript_ForwardUsesReceiptOrder(t *testing.T) {
	tr := NewTranscript()
	instruction := deliver(t, tr, "lead", "do it", "worker")
	deliver(t, tr, "worker", "done", "lead")

	require.NoError(t, tr.Forward(instruction.Sequence, "observer", "worker"))
	deliver(t, tr, "worker", "for observer", "observer")

	assert.Equal(t, []string{"do it", "for observer"}, contents(tr.ViewFor("observer")))
	assert.Equal(t, []string{"do it", "done", "for observer"}, contents(tr.ViewFor("worker")))
	assert.Equal(t, []string{"lead", "worker", "observer"}, tr.Participants())
	assert.Equal(t, []string{"worker", "observer"}, tr.Recipients(instruction.Sequence))

	assert.Error(t, tr.Forward(99, "x"))
}

func TestTranscript_TailAndLast(t *testing.T) {
	tr := NewTranscript()
	assert.Nil(t, tr.Tail(3))
	_, ok := tr.Last()
	assert.False(t, ok)

	for _, c := range []string{"1", "2", "3", "4"} {
		deliver(t, tr, "a", c)
	}

	assert.Equal(t, []string{"3", "4"}, contents(tr.Tail(2)))
	assert.Equal(t, []string{"1", "2", "3", "4"}, contents(tr.Tail(10)))
	assert.Nil(t, tr.Tail(0))

	last, ok := tr.Last()
	require.True(t, ok)
	assert.Equal(t, "4", last.Content)
}

func TestTranscript_Reset(t *testing.T) {
	tr := NewTranscript()
	deliver(t, tr, "a", "x", "b")
	_ = tr.ViewFor("b")

	tr.Reset()

	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.ViewFor("b"))
	assert.Equal(t, int64(1), tr.NextSequence())
}

func TestMessage_IsEmptyAndText(t *testing.T) {
	assert.True(t, NewAssistantMessage("a", "  ").IsEmpty())
	assert.False(t, NewFunctionCallMessage("a", FunctionCall{ID: "1", Name: "f"}).IsEmpty())

	resp := NewFunctionResponseMessage("exec",
		FunctionResponse{ID: "1", Name: "f", Response: "ok"},
		FunctionResponse{ID: "2", Name: "g", Error: "boom"},
		FunctionResponse{ID: "3", Name: "h", Response: map[string]any{"n": 1}},
	)
	assert.Equal(t, "ok\nerror: boom\n{\"n\":1}", resp.Text())
}

func TestCapability(t *testing.T) {
	c := CanReply | IsHuman
	assert.True(t, c.Has(CanReply))
	assert.True(t, c.Has(CanReply|IsHuman))
	assert.False(t, c.Has(CanExecute))
	assert.Equal(t, "reply|human", c.String())
	assert.Equal(t, "none", Capability(0).String())
}

func TestCallLimiter(t *testing.T) {
	l := NewCallLimiter(2)
	require.NoError(t, l.Increment())
	require.NoError(t, l.Increment())
	assert.Equal(t, 0, l.Remaining())

	err := l.Increment()
	assert.ErrorIs(t, err, ErrCallLimitExceeded)

	l.Reset()
	assert.Equal(t, 0, l.Count())
	assert.Equal(t, -1, NewCallLimiter(0).Remaining())
}
