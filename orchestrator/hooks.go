package orchestrator

import (
	"context"

	"github.com/hupe1980/groupmesh/core"
)

// Decision is a hook's verdict on how the loop continues.
type Decision int

const (
	Continue Decision = iota
	Terminate
	Replan
)

func (d Decision) String() string {
	switch d {
	case Terminate:
		return "terminate"
	case Replan:
		return "replan"
	default:
		return "continue"
	}
}

// PreHook inspects a judgment before the step executes. Hooks run in order
// and the first decision other than Continue wins.
type PreHook interface {
	Name() string
	Check(ctx context.Context, st *State, j Judgment) (Decision, error)
}

// PostHook inspects the outcome of an executed step.
type PostHook interface {
	Name() string
	Check(ctx context.Context, st *State, reply core.Message, replyErr error) (Decision, error)
}

// SatisfiedHook terminates once the oracle reports the request satisfied.
type SatisfiedHook struct{}

func (SatisfiedHook) Name() string { return "satisfied" }

func (SatisfiedHook) Check(_ context.Context, _ *State, j Judgment) (Decision, error) {
	if j.IsRequestSatisfied {
		return Terminate, nil
	}
	return Continue, nil
}

// StallHook counts no-progress judgments. Progress decrements the counter
// (floored at 0), or clears it when ResetOnProgress is set. Reaching
// Threshold asks for a replan.
type StallHook struct {
	Threshold       int
	ResetOnProgress bool
}

func (h StallHook) Name() string { return "stall" }

func (h StallHook) Check(_ context.Context, st *State, j Judgment) (Decision, error) {
	switch {
	case !j.IsProgressBeingMade:
		st.StalledCount++
	case h.ResetOnProgress:
		st.StalledCount = 0
	case st.StalledCount > 0:
		st.StalledCount--
	}
	if st.StalledCount >= thresholdOrDefault(h.Threshold) {
		return Replan, nil
	}
	return Continue, nil
}

func thresholdOrDefault(n int) int {
	if n <= 0 {
		return DefaultStallThreshold
	}
	return n
}

// ReplyFailureHook counts a failed reply as a stall, sharing the stall
// budget with StallHook.
type ReplyFailureHook struct {
	Threshold int
}

func (h ReplyFailureHook) Name() string { return "reply_failure" }

func (h ReplyFailureHook) Check(_ context.Context, st *State, _ core.Message, replyErr error) (Decision, error) {
	if replyErr == nil {
		return Continue, nil
	}
	st.StalledCount++
	if st.StalledCount >= thresholdOrDefault(h.Threshold) {
		return Replan, nil
	}
	return Continue, nil
}

// DefaultPreHooks returns the satisfaction and stall hooks.
func DefaultPreHooks(threshold int, resetOnProgress bool) []PreHook {
	return []PreHook{SatisfiedHook{}, StallHook{Threshold: threshold, ResetOnProgress: resetOnProgress}}
}

// DefaultPostHooks returns the reply failure hook.
func DefaultPostHooks(threshold int) []PostHook {
	return []PostHook{ReplyFailureHook{Threshold: threshold}}
}
