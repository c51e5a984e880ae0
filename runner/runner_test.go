package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/groupchat"
	"github.com/hupe1980/groupmesh/internal/testutil"
	"github.com/hupe1980/groupmesh/session"
)

type staticReport struct{ status string }

func (r staticReport) Records() []core.Record {
	return []core.Record{{Role: core.RoleUser, Name: "user", Content: r.status}}
}

func (r staticReport) Status() string { return r.status }

func newChat(t *testing.T, agents ...*testutil.ScriptedAgent) *groupchat.Manager {
	t.Helper()
	m, err := groupchat.New(testutil.Roster(agents...), func(o *groupchat.Options) { o.MaxRound = 3 })
	require.NoError(t, err)
	return m
}

func TestRunAll_PersistsEveryTranscript(t *testing.T) {
	store := session.NewInMemoryStore()
	r := New(func(o *Options) {
		o.MaxConcurrent = 2
		o.Store = store
	})

	jobs := []Job{
		ChatJob("c1", newChat(t, testutil.NewTextAgent("a"), testutil.NewTextAgent("b")), core.NewUserMessage("user", "one")),
		ChatJob("c2", newChat(t, testutil.NewTextAgent("a"), testutil.NewTextAgent("b")), core.NewUserMessage("user", "two")),
		ChatJob("c3", newChat(t, testutil.NewTextAgent("a"), testutil.NewTextAgent("b")), core.NewUserMessage("user", "three")),
	}
	outcomes, err := r.RunAll(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	for i, out := range outcomes {
		assert.Equal(t, jobs[i].ID, out.ID)
		assert.NoError(t, out.Err)
		assert.NoError(t, out.PersistErr)
		assert.Equal(t, "exhausted/max_round", out.Status)

		records, err := store.Load(context.Background(), out.ID)
		require.NoError(t, err)
		assert.Len(t, records, 3)
	}
	ids, _ := store.List(context.Background())
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids)
	assert.Empty(t, r.Active())
}

func TestRunAll_BoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	job := func(id string) Job {
		return Job{ID: id, Start: func(ctx context.Context) (Report, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return staticReport{status: "done"}, nil
		}}
	}

	r := New(func(o *Options) { o.MaxConcurrent = 2 })
	outcomes, err := r.RunAll(context.Background(), []Job{job("1"), job("2"), job("3"), job("4"), job("5")})
	require.NoError(t, err)
	assert.Len(t, outcomes, 5)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunAll_InvalidJobs(t *testing.T) {
	r := New()
	noop := func(context.Context) (Report, error) { return nil, nil }

	_, err := r.RunAll(context.Background(), []Job{{ID: "a", Start: noop}, {ID: "a", Start: noop}})
	assert.ErrorIs(t, err, ErrDuplicateJob)

	_, err = r.RunAll(context.Background(), []Job{{ID: "", Start: noop}})
	assert.Error(t, err)

	_, err = r.RunAll(context.Background(), []Job{{ID: "b"}})
	assert.Error(t, err)
	assert.Empty(t, r.Active())
}

func TestRun_JobErrorDoesNotPersist(t *testing.T) {
	store := session.NewInMemoryStore()
	r := New(func(o *Options) { o.Store = store })

	out, err := r.Run(context.Background(), Job{ID: "x", Start: func(context.Context) (Report, error) {
		return nil, errors.New("broken")
	}})
	require.NoError(t, err)
	assert.EqualError(t, out.Err, "broken")

	_, err = store.Load(context.Background(), "x")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestCancel_PersistsPartialTranscript(t *testing.T) {
	store := session.NewInMemoryStore()
	r := New(func(o *Options) { o.Store = store })

	slow := testutil.NewScriptedAgent("slow", testutil.Step{Content: "never", Delay: 10 * time.Second})
	m := newChat(t, slow)

	done := make(chan Outcome, 1)
	go func() {
		out, _ := r.Run(context.Background(), ChatJob("slow-job", m, core.NewUserMessage("user", "go")))
		done <- out
	}()

	require.Eventually(t, func() bool { return slow.Calls() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Cancel("slow-job"))

	var out Outcome
	select {
	case out = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop after cancel")
	}
	assert.Equal(t, "stalled/cancelled", out.Status)

	records, err := store.Load(context.Background(), "slow-job")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "go", records[0].Content)

	assert.Error(t, r.Cancel("slow-job"))
}

func TestCancel_QueuedJob(t *testing.T) {
	r := New(func(o *Options) { o.MaxConcurrent = 1 })
	release := make(chan struct{})

	blocker := Job{ID: "blocker", Start: func(context.Context) (Report, error) {
		<-release
		return staticReport{status: "done"}, nil
	}}
	queued := Job{ID: "queued", Start: func(ctx context.Context) (Report, error) {
		return staticReport{status: "ran"}, ctx.Err()
	}}

	result := make(chan []Outcome, 1)
	go func() {
		outs, _ := r.RunAll(context.Background(), []Job{blocker, queued})
		result <- outs
	}()

	require.Eventually(t, func() bool { return len(r.Active()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Cancel("queued"))
	close(release)

	outs := <-result
	assert.NoError(t, outs[0].Err)
	assert.ErrorIs(t, outs[1].Err, context.Canceled)
}
