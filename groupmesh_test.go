package groupmesh

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/groupchat"
	"github.com/hupe1980/groupmesh/internal/testutil"
	"github.com/hupe1980/groupmesh/model"
	"github.com/hupe1980/groupmesh/orchestrator"
	"github.com/hupe1980/groupmesh/runner"
)

func newMesh(t *testing.T, optFns ...func(o *Options)) (*GroupMesh, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	g, err := New(append([]func(o *Options){func(o *Options) { o.Registerer = reg }}, optFns...)...)
	require.NoError(t, err)
	return g, reg
}

func TestRunChat_ArchivesAndResumes(t *testing.T) {
	ctx := context.Background()
	g, reg := newMesh(t)

	m, err := g.NewGroupChat(testutil.Roster(testutil.NewTextAgent("a"), testutil.NewTextAgent("b")),
		func(o *groupchat.Options) { o.MaxRound = 3 })
	require.NoError(t, err)

	res, err := g.RunChat(ctx, m, core.NewUserMessage("user", "hello"))
	require.NoError(t, err)
	assert.Equal(t, groupchat.Exhausted, res.State)

	records, err := g.Archive().Load(ctx, m.ConversationID())
	require.NoError(t, err)
	assert.Len(t, records, 3)
	count, err := promtestutil.GatherAndCount(reg, "groupmesh_rounds_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	next, err := g.NewGroupChat(testutil.Roster(testutil.NewTextAgent("a"), testutil.NewTextAgent("b")),
		func(o *groupchat.Options) { o.MaxRound = 5 })
	require.NoError(t, err)
	resumed, err := g.ResumeChat(ctx, m.ConversationID(), next)
	require.NoError(t, err)
	assert.Equal(t, []string{"user", "a", "b", "a", "b"}, testutil.Speakers(resumed.Transcript))

	records, err = g.Archive().Load(ctx, m.ConversationID())
	require.NoError(t, err)
	assert.Len(t, records, 5, "resumed transcript replaces the archive")

	_, err = g.ResumeChat(ctx, "unknown", next)
	assert.Error(t, err)
}

func TestRunTask(t *testing.T) {
	oracle := model.NewMockModel("oracle", "test")
	oracle.SetResponder(func(req model.Request) (string, error) {
		if req.ResponseSchema == nil {
			return "noted", nil
		}
		data, _ := json.Marshal(orchestrator.Judgment{IsRequestSatisfied: true, IsProgressBeingMade: true, NextSpeaker: "coder"})
		return string(data), nil
	})
	g, _ := newMesh(t, func(o *Options) { o.Oracle = oracle })

	o, err := g.NewOrchestrator(testutil.Roster(testutil.NewTextAgent("coder")))
	require.NoError(t, err)
	res, err := g.RunTask(context.Background(), "task-1", o, "say hi")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.OutcomeSatisfied, res.Outcome)

	records, err := g.Archive().Load(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Len(t, records, 1, "only the ledger was broadcast")
}

func TestRunAll(t *testing.T) {
	g, _ := newMesh(t)
	var jobs []runner.Job
	for _, id := range []string{"x", "y"} {
		m, err := g.NewGroupChat(testutil.Roster(testutil.NewTextAgent("a"), testutil.NewTextAgent("b")),
			func(o *groupchat.Options) {
				o.MaxRound = 2
				o.ConversationID = id
			})
		require.NoError(t, err)
		jobs = append(jobs, runner.ChatJob(id, m, core.NewUserMessage("user", "go "+id)))
	}
	outcomes, err := g.RunAll(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	ids, err := g.Archive().List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, ids)
}

func TestNestedAgentThroughFacade(t *testing.T) {
	g, _ := newMesh(t)
	team, err := g.NewNestedAgent("team", func() (*groupchat.Manager, error) {
		return g.NewGroupChat(testutil.Roster(
			testutil.NewTextAgent("writer", "draft"),
			testutil.NewTextAgent("critic", "fine TERMINATE").TerminateOn("TERMINATE"),
		))
	})
	require.NoError(t, err)

	reply, err := team.Reply(context.Background(), []core.Message{core.NewUserMessage("user", "write")})
	require.NoError(t, err)
	assert.Equal(t, "fine", reply.Content)
}

func TestFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groupmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chat:\n  max_round: 2\nlogging:\n  level: debug\n  format: json\n"), 0o600))

	var logs bytes.Buffer
	g, err := FromConfig(context.Background(), path, &logs, func(o *Options) { o.Registerer = prometheus.NewRegistry() })
	require.NoError(t, err)

	m, err := g.NewGroupChat(testutil.Roster(testutil.NewTextAgent("a"), testutil.NewTextAgent("b")))
	require.NoError(t, err)
	res, err := g.RunChat(context.Background(), m, core.NewUserMessage("user", "hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rounds)
	assert.Contains(t, logs.String(), "groupchat.round.completed")

	_, err = FromConfig(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}
