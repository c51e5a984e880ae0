package groupchat

import (
	"context"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/internal/testutil"
)

type viewKey struct {
	ID       string
	Sequence int64
	Speaker  string
	Content  string
}

func keys(msgs []core.Message) []viewKey {
	out := make([]viewKey, len(msgs))
	for i, m := range msgs {
		out[i] = viewKey{ID: m.ID, Sequence: m.Sequence, Speaker: m.Speaker, Content: m.Content}
	}
	return out
}

func drawHistory(t *rapid.T, names []string) []core.Record {
	n := rapid.IntRange(1, 12).Draw(t, "history_len")
	records := make([]core.Record, n)
	for i := range records {
		speaker := rapid.SampledFrom(append([]string{"user"}, names...)).Draw(t, "speaker")
		role := core.RoleAssistant
		if speaker == "user" {
			role = core.RoleUser
		}
		var recipients []string
		if rapid.Bool().Draw(t, "directed") {
			for _, name := range names {
				if rapid.Bool().Draw(t, "to_"+name) {
					recipients = append(recipients, name)
				}
			}
		}
		records[i] = core.Record{
			ID:         fmt.Sprintf("msg-%d", i),
			Role:       role,
			Name:       speaker,
			Content:    rapid.StringMatching(`[a-z ]{1,12}`).Draw(t, "content"),
			Recipients: recipients,
		}
	}
	return records
}

// Resuming from a history and appending nothing new yields the same views as
// replaying that history one record at a time.
func TestProperty_ResumeIsIdempotentReplay(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 4).Draw(t, "roster_size")
		agents := make([]*testutil.ScriptedAgent, size)
		for i := range agents {
			agents[i] = testutil.NewTextAgent(fmt.Sprintf("agent%d", i))
		}
		roster := testutil.Roster(agents...)
		history := drawHistory(t, core.AgentNames(roster))

		resumed, err := New(roster, func(o *Options) { o.MaxRound = len(history) })
		if err != nil {
			t.Fatal(err)
		}
		res, err := resumed.Resume(context.Background(), history)
		if err != nil {
			t.Fatal(err)
		}
		if res.State != Exhausted || len(res.Transcript) != len(history) {
			t.Fatalf("resume appended messages: state=%s len=%d", res.State, len(res.Transcript))
		}

		replayed, err := New(roster)
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range history {
			if err := replayed.Seed([]core.Record{r}); err != nil {
				t.Fatal(err)
			}
		}

		for _, a := range agents {
			if a.Calls() != 0 {
				t.Fatalf("%s was asked to reply during replay", a.Name())
			}
		}
		for _, name := range append([]string{"user"}, core.AgentNames(roster)...) {
			got := keys(resumed.Transcript().ViewFor(name))
			want := keys(replayed.Transcript().ViewFor(name))
			if fmt.Sprint(got) != fmt.Sprint(want) {
				t.Fatalf("view of %s differs:\n got %v\nwant %v", name, got, want)
			}
		}
	})
}
