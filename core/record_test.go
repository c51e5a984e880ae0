package core

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecords_RoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	speakers := []string{"alice", "bob", "carol"}

	properties.Property("records reproduce order, identity and content", prop.ForAll(
		func(picks []int, texts []string) bool {
			tr := NewTranscript()
			n := len(picks)
			if len(texts) < n {
				n = len(texts)
			}
			for i := 0; i < n; i++ {
				speaker := speakers[picks[i]%len(speakers)]
				var recipients []string
				for _, s := range speakers {
					if s != speaker {
						recipients = append(recipients, s)
					}
				}
				if _, err := tr.Deliver(NewAssistantMessage(speaker, texts[i]), recipients...); err != nil {
					return false
				}
			}

			data, err := MarshalRecords(tr.Records())
			if err != nil {
				return false
			}
			records, err := UnmarshalRecords(data)
			if err != nil {
				return false
			}
			restored, err := FromRecords(records)
			if err != nil {
				return false
			}

			orig, got := tr.Messages(), restored.Messages()
			if len(orig) != len(got) {
				return false
			}
			for i := range orig {
				if orig[i].ID != got[i].ID || orig[i].Speaker != got[i].Speaker ||
					orig[i].Content != got[i].Content || orig[i].Sequence != got[i].Sequence {
					return false
				}
			}
			for _, s := range speakers {
				if len(tr.ViewFor(s)) != len(restored.ViewFor(s)) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2)),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func TestFromRecords_BroadcastsRecordsWithoutRecipients(t *testing.T) {
	records := []Record{
		{Role: RoleUser, Name: "user", Content: "task"},
		{Role: RoleAssistant, Name: "a", Content: "reply"},
	}

	tr, err := FromRecords(records, "user", "a", "b")
	require.NoError(t, err)

	assert.Len(t, tr.ViewFor("b"), 2)
	assert.Len(t, tr.ViewFor("a"), 2)
	assert.NotEmpty(t, tr.Messages()[0].ID)
}

func TestFromRecords_RejectsUnknownRole(t *testing.T) {
	_, err := FromRecords([]Record{{Role: "robot", Name: "x", Content: "y"}})
	assert.Error(t, err)
}

func TestUnmarshalRecords_MinimalFormat(t *testing.T) {
	records, err := UnmarshalRecords([]byte(`[{"role":"user","name":"u","content":"hi"}]`))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "hi", records[0].Message().Content)

	_, err = UnmarshalRecords([]byte(`{`))
	assert.Error(t, err)
}

func TestMarshalRecords_EmptyIsArray(t *testing.T) {
	data, err := MarshalRecords(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestRecords_SpeakerOnlyMessageStaysPrivate(t *testing.T) {
	tr := NewTranscript()
	_, err := tr.Deliver(NewUserMessage("user", "task"), "a", "b")
	require.NoError(t, err)
	_, err = tr.Deliver(NewAssistantMessage("a", "note to self"))
	require.NoError(t, err)

	records := tr.Records()
	require.Len(t, records, 2)
	assert.False(t, records[0].Private)
	assert.True(t, records[1].Private)

	data, err := MarshalRecords(records)
	require.NoError(t, err)
	decoded, err := UnmarshalRecords(data)
	require.NoError(t, err)

	restored, err := FromRecords(decoded, "user", "a", "b")
	require.NoError(t, err)
	for _, name := range []string{"user", "a", "b"} {
		assert.Len(t, restored.ViewFor(name), len(tr.ViewFor(name)), name)
	}
	assert.Len(t, restored.ViewFor("b"), 1)
}
