package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/groupchat"
	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/orchestrator"
	"github.com/hupe1980/groupmesh/session"
)

// Report is what a finished job leaves behind. Both groupchat.Result and
// orchestrator.Result implement it.
type Report interface {
	Records() []core.Record
	Status() string
}

// Job is one conversation. Start blocks until the conversation ends.
type Job struct {
	ID    string
	Start func(ctx context.Context) (Report, error)
}

// ChatJob runs m from initial.
func ChatJob(id string, m *groupchat.Manager, initial core.Message) Job {
	return Job{ID: id, Start: func(ctx context.Context) (Report, error) {
		res, err := m.Start(ctx, initial)
		if err != nil {
			return nil, err
		}
		return res, nil
	}}
}

// ResumeJob continues m from an archived history.
func ResumeJob(id string, m *groupchat.Manager, history []core.Record) Job {
	return Job{ID: id, Start: func(ctx context.Context) (Report, error) {
		res, err := m.Resume(ctx, history)
		if err != nil {
			return nil, err
		}
		return res, nil
	}}
}

// TaskJob runs task on o.
func TaskJob(id string, o *orchestrator.Orchestrator, task string) Job {
	return Job{ID: id, Start: func(ctx context.Context) (Report, error) {
		res, err := o.Run(ctx, task)
		if err != nil {
			return nil, err
		}
		return res, nil
	}}
}

// Outcome describes a finished job. Err is the job's own error; PersistErr
// reports a failed archive write.
type Outcome struct {
	ID         string
	Status     string
	Report     Report
	Err        error
	PersistErr error
	Duration   time.Duration
}

// Options holds configuration overrides passed to New().
type Options struct {
	// MaxConcurrent limits how many jobs run at once.
	MaxConcurrent int
	// Store archives transcripts at teardown. Nil disables persistence.
	Store session.Store
	// PersistTimeout bounds a single archive write.
	PersistTimeout time.Duration
	Logger         logging.Logger
}

// Runner coordinates job execution. Public methods are safe for concurrent
// use.
type Runner struct {
	maxConcurrent  int
	store          session.Store
	persistTimeout time.Duration
	logger         logging.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New constructs a Runner with optional overrides.
func New(optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxConcurrent:  10,
		PersistTimeout: 5 * time.Second,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Runner{
		maxConcurrent:  opts.MaxConcurrent,
		store:          opts.Store,
		persistTimeout: opts.PersistTimeout,
		logger:         opts.Logger,
		active:         make(map[string]context.CancelFunc),
	}
}

// ErrDuplicateJob is returned when a job ID is already running or appears
// twice in one batch.
var ErrDuplicateJob = errors.New("runner: duplicate job id")

// Run executes a single job synchronously.
func (r *Runner) Run(ctx context.Context, job Job) (Outcome, error) {
	if err := r.register(job.ID, nil); err != nil {
		return Outcome{}, err
	}
	return r.execute(ctx, job), nil
}

// RunAll executes jobs with at most MaxConcurrent in flight and returns
// the outcomes in job order. A failing job does not stop the others; the
// error is non-nil only for invalid job lists.
func (r *Runner) RunAll(ctx context.Context, jobs []Job) ([]Outcome, error) {
	seen := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		if job.ID == "" || job.Start == nil {
			return nil, fmt.Errorf("runner: job %q is incomplete", job.ID)
		}
		if seen[job.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
		}
		seen[job.ID] = true
	}
	for i, job := range jobs {
		if err := r.register(job.ID, nil); err != nil {
			for _, prev := range jobs[:i] {
				r.unregister(prev.ID)
			}
			return nil, err
		}
	}

	outcomes := make([]Outcome, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrent)
	for i, job := range jobs {
		g.Go(func() error {
			outcomes[i] = r.execute(gctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}

// Cancel cancels a running or queued job by ID.
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	cancel, exists := r.active[id]
	if exists && cancel == nil {
		// Queued: execute starts with a cancelled context.
		r.active[id] = cancelled
	}
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("job %s not found", id)
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Active lists the IDs of jobs that are queued or running.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cancelled() {}

func (r *Runner) register(id string, cancel context.CancelFunc) error {
	if id == "" {
		return fmt.Errorf("runner: job id is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, id)
	}
	r.active[id] = cancel
	return nil
}

func (r *Runner) unregister(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

func (r *Runner) execute(ctx context.Context, job Job) Outcome {
	defer r.unregister(job.ID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	// A Cancel that arrived while the job was queued leaves the marker.
	if prev := r.active[job.ID]; prev != nil {
		cancel()
	}
	r.active[job.ID] = cancel
	r.mu.Unlock()

	r.logger.Debug("runner.job.started", "job_id", job.ID)

	start := time.Now()
	report, err := job.Start(ctx)
	out := Outcome{ID: job.ID, Report: report, Err: err, Duration: time.Since(start)}
	if report != nil {
		out.Status = report.Status()
	}
	out.PersistErr = r.persist(ctx, job.ID, report)

	if err != nil {
		r.logger.Warn("runner.job.failed", "job_id", job.ID, "error", err.Error())
	} else {
		r.logger.Info("runner.job.finished", "job_id", job.ID, "status", out.Status, "duration_ms", out.Duration.Milliseconds())
	}
	if out.PersistErr != nil {
		r.logger.Error("runner.persist.failed", "job_id", job.ID, "error", out.PersistErr.Error())
	}
	return out
}

// persist archives the transcript with a context that survives the job's
// cancellation.
func (r *Runner) persist(ctx context.Context, id string, report Report) error {
	if r.store == nil || report == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	if r.persistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.persistTimeout)
		defer cancel()
	}
	return r.store.Save(ctx, id, report.Records())
}
