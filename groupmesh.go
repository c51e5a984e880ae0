// Package groupmesh provides a high-level façade over the conversation
// components (group chats, nested teams, orchestrated tasks) and the
// services they share (logging, metrics, tracing and the transcript
// archive). Most applications interact with this package by:
//  1. Creating a GroupMesh via New() or FromConfig()
//  2. Building managers, nested agents and orchestrators through it
//  3. Running them with RunChat, RunTask or RunAll
//
// Every component built by the façade receives the same logger, metrics and
// tracer; finished transcripts are archived under their conversation ID.
package groupmesh

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/groupmesh/config"
	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/groupchat"
	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/model"
	"github.com/hupe1980/groupmesh/nested"
	"github.com/hupe1980/groupmesh/orchestrator"
	"github.com/hupe1980/groupmesh/runner"
	"github.com/hupe1980/groupmesh/selector"
	"github.com/hupe1980/groupmesh/session"
	"github.com/hupe1980/groupmesh/telemetry"
)

// Options configures the GroupMesh instance.
type Options struct {
	// Oracle backs arbitrated speaker selection and orchestration.
	Oracle model.Model
	// Human backs manual speaker selection.
	Human core.HumanInput

	// Archive stores finished transcripts (defaults to an in-memory store).
	Archive session.Store
	// MaxConcurrent limits conversations running at once in RunAll.
	MaxConcurrent int

	// Registerer receives the metrics (defaults to prometheus.DefaultRegisterer).
	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider

	// Config supplies defaults for every component built by the façade.
	Config *config.File

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// GroupMesh is the high-level façade aggregating shared services.
type GroupMesh struct {
	opts    Options
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	runner  *runner.Runner
}

// New creates a new GroupMesh instance with optional overrides.
func New(optFns ...func(o *Options)) (*GroupMesh, error) {
	opts := Options{
		Archive:       session.NewInMemoryStore(),
		MaxConcurrent: 10,
		Config:        &config.File{},
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Config == nil {
		opts.Config = &config.File{}
	}

	metrics, err := telemetry.NewMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}

	r := runner.New(func(o *runner.Options) {
		o.MaxConcurrent = opts.MaxConcurrent
		o.Store = opts.Archive
		o.Logger = opts.Logger
	})

	return &GroupMesh{
		opts:    opts,
		metrics: metrics,
		tracer:  telemetry.Tracer(opts.TracerProvider),
		runner:  r,
	}, nil
}

// FromConfig loads a config file and builds a GroupMesh whose logger and
// archive follow it. Logs go to w (stderr when nil). optFns run last.
func FromConfig(ctx context.Context, path string, w io.Writer, optFns ...func(o *Options)) (*GroupMesh, error) {
	file, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}
	logCfg, err := file.LoggerConfig(w)
	if err != nil {
		return nil, err
	}
	archive, err := file.OpenArchive(ctx)
	if err != nil {
		return nil, err
	}
	return New(append([]func(o *Options){func(o *Options) {
		o.Config = file
		o.Archive = archive
		o.Logger = logging.NewLogger(logCfg)
	}}, optFns...)...)
}

// Logger returns the shared logger.
func (g *GroupMesh) Logger() logging.Logger { return g.opts.Logger }

// Metrics returns the shared metrics.
func (g *GroupMesh) Metrics() *telemetry.Metrics { return g.metrics }

// Archive returns the transcript store.
func (g *GroupMesh) Archive() session.Store { return g.opts.Archive }

// Runner returns the runner used by RunAll.
func (g *GroupMesh) Runner() *runner.Runner { return g.runner }

// NewSelector builds a selector from the configured chat section, wired to
// the façade's oracle and human input.
func (g *GroupMesh) NewSelector(optFns ...func(o *selector.Options)) (*selector.Selector, error) {
	policy, cfgOpts, err := g.opts.Config.SelectorOptions(g.opts.Oracle, g.opts.Human)
	if err != nil {
		return nil, err
	}
	all := append([]func(o *selector.Options){cfgOpts, func(o *selector.Options) { o.Logger = g.opts.Logger }}, optFns...)
	return selector.New(policy, all...), nil
}

// NewGroupChat builds a manager for roster. Without an explicit selector
// the configured policy is used.
func (g *GroupMesh) NewGroupChat(roster []core.Agent, optFns ...func(o *groupchat.Options)) (*groupchat.Manager, error) {
	sel, err := g.NewSelector()
	if err != nil {
		return nil, err
	}
	all := append([]func(o *groupchat.Options){
		g.opts.Config.ChatOptions(),
		func(o *groupchat.Options) {
			o.Selector = sel
			o.Logger = g.opts.Logger
			o.Metrics = g.metrics
			o.Tracer = g.tracer
		},
	}, optFns...)
	return groupchat.New(roster, all...)
}

// NewNestedAgent exposes a team built by factory as one agent.
func (g *GroupMesh) NewNestedAgent(name string, factory nested.Factory, optFns ...func(o *nested.Options)) (*nested.Agent, error) {
	all := append([]func(o *nested.Options){func(o *nested.Options) { o.Logger = g.opts.Logger }}, optFns...)
	return nested.New(name, factory, all...)
}

// NewOrchestrator builds an orchestrator for team backed by the oracle.
func (g *GroupMesh) NewOrchestrator(team []core.Agent, optFns ...func(o *orchestrator.Options)) (*orchestrator.Orchestrator, error) {
	all := append([]func(o *orchestrator.Options){
		g.opts.Config.OrchestratorOptions(),
		func(o *orchestrator.Options) {
			o.Logger = g.opts.Logger
			o.Metrics = g.metrics
			o.Tracer = g.tracer
		},
	}, optFns...)
	return orchestrator.New(g.opts.Oracle, team, all...)
}

// RunChat starts m and archives the transcript under its conversation ID.
func (g *GroupMesh) RunChat(ctx context.Context, m *groupchat.Manager, initial core.Message) (*groupchat.Result, error) {
	out, err := g.runner.Run(ctx, runner.ChatJob(m.ConversationID(), m, initial))
	if err != nil {
		return nil, err
	}
	return chatResult(out)
}

// ResumeChat loads the archive stored under id and continues it on m.
func (g *GroupMesh) ResumeChat(ctx context.Context, id string, m *groupchat.Manager) (*groupchat.Result, error) {
	history, err := g.opts.Archive.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := g.runner.Run(ctx, runner.ResumeJob(id, m, history))
	if err != nil {
		return nil, err
	}
	return chatResult(out)
}

// RunTask runs task on o and archives the transcript under id.
func (g *GroupMesh) RunTask(ctx context.Context, id string, o *orchestrator.Orchestrator, task string) (*orchestrator.Result, error) {
	out, err := g.runner.Run(ctx, runner.TaskJob(id, o, task))
	if err != nil {
		return nil, err
	}
	if out.Err != nil {
		return nil, out.Err
	}
	res, ok := out.Report.(*orchestrator.Result)
	if !ok {
		return nil, fmt.Errorf("groupmesh: unexpected report %T", out.Report)
	}
	return res, out.PersistErr
}

// RunAll runs independent conversations concurrently.
func (g *GroupMesh) RunAll(ctx context.Context, jobs []runner.Job) ([]runner.Outcome, error) {
	return g.runner.RunAll(ctx, jobs)
}

func chatResult(out runner.Outcome) (*groupchat.Result, error) {
	if out.Err != nil {
		return nil, out.Err
	}
	res, ok := out.Report.(*groupchat.Result)
	if !ok {
		return nil, fmt.Errorf("groupmesh: unexpected report %T", out.Report)
	}
	return res, out.PersistErr
}
