package selector

import (
	"context"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/internal/testutil"
	"github.com/hupe1980/groupmesh/model"
)

func drawRoster(t *rapid.T) []core.Agent {
	n := rapid.IntRange(1, 6).Draw(t, "roster_size")
	agents := make([]*testutil.ScriptedAgent, n)
	for i := range agents {
		agents[i] = testutil.NewTextAgent(fmt.Sprintf("agent%d", i))
	}
	return testutil.Roster(agents...)
}

func drawTransitions(t *rapid.T, roster []core.Agent) Transitions {
	if !rapid.Bool().Draw(t, "has_transitions") {
		return nil
	}
	tr := Transitions{}
	for _, from := range roster {
		if !rapid.Bool().Draw(t, "constrain_"+from.Name()) {
			continue
		}
		var next []string
		for _, to := range roster {
			if rapid.Bool().Draw(t, from.Name()+"->"+to.Name()) {
				next = append(next, to.Name())
			}
		}
		tr[from.Name()] = next
	}
	return tr
}

// allowedSet is an independent statement of roster ∩ transitions[last] ∩
// (roster \ {last} unless repeats are allowed).
func allowedSet(roster []core.Agent, tr Transitions, last string, allowRepeat bool) map[string]bool {
	out := map[string]bool{}
	for _, a := range roster {
		if !allowRepeat && a.Name() == last {
			continue
		}
		if next, ok := tr[last]; ok {
			found := false
			for _, n := range next {
				found = found || n == a.Name()
			}
			if !found {
				continue
			}
		}
		out[a.Name()] = true
	}
	return out
}

func TestProperty_SelectionStaysEligible(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		roster := drawRoster(t)
		tr := drawTransitions(t, roster)
		allowRepeat := rapid.Bool().Draw(t, "allow_repeat")
		policy := rapid.SampledFrom([]Policy{RoundRobin, Random, Arbitrated}).Draw(t, "policy")
		last := roster[rapid.IntRange(0, len(roster)-1).Draw(t, "last")].Name()

		oracle := model.NewMockModel("arbiter", "test")
		for i := 0; i < 3; i++ {
			pick := roster[rapid.IntRange(0, len(roster)-1).Draw(t, "oracle_pick")].Name()
			oracle.Enqueue(fmt.Sprintf(`{"speaker":%q}`, pick))
		}

		s := New(policy, func(o *Options) {
			o.Transitions = tr
			o.AllowRepeat = allowRepeat
			o.Oracle = oracle
			o.Seed = rapid.Uint64Range(1, 1<<32).Draw(t, "seed")
		})

		want := allowedSet(roster, tr, last, allowRepeat)
		next, err := s.Select(context.Background(), Request{Roster: roster, LastSpeaker: last})
		if len(want) == 0 {
			if err == nil {
				t.Fatalf("expected no eligible speaker, got %s", next.Name())
			}
			return
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !want[next.Name()] {
			t.Fatalf("%s selected %s outside allowed set %v", policy, next.Name(), want)
		}
	})
}

func TestProperty_RoundRobinPureAndCovering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		roster := drawRoster(t)
		start := roster[rapid.IntRange(0, len(roster)-1).Draw(t, "start")].Name()

		a := NextRoundRobin(roster, start, roster)
		b := NextRoundRobin(roster, start, roster)
		if a.Name() != b.Name() {
			t.Fatalf("round robin not deterministic: %s vs %s", a.Name(), b.Name())
		}

		seen := map[string]int{}
		last := start
		for i := 0; i < len(roster); i++ {
			next := NextRoundRobin(roster, last, roster)
			seen[next.Name()]++
			last = next.Name()
		}
		if len(seen) != len(roster) {
			t.Fatalf("visited %d of %d agents", len(seen), len(roster))
		}
		for name, n := range seen {
			if n != 1 {
				t.Fatalf("%s visited %d times", name, n)
			}
		}
	})
}
