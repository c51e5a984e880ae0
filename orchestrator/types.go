package orchestrator

import (
	"github.com/hupe1980/groupmesh/core"
)

// Judgment is the structured progress assessment returned by the oracle
// before every turn.
type Judgment struct {
	IsRequestSatisfied  bool   `json:"is_request_satisfied"`
	IsProgressBeingMade bool   `json:"is_progress_being_made"`
	NextSpeaker         string `json:"next_speaker"`
	Instruction         string `json:"instruction"`
}

// State is the task memory. It is created once per task and survives
// introspect and reset cycles.
type State struct {
	Task         string
	Facts        string
	Plan         string
	StalledCount int
	Turn         int
	TurnBudget   int
	Replans      int
}

// Step names a state of the orchestration loop.
type Step int

const (
	ObtainNextStep Step = iota
	PreExecutionChecks
	ExecuteStep
	PostExecutionChecks
	IntrospectAndReset
	TerminateTrue
	Exhausted
)

func (s Step) String() string {
	switch s {
	case ObtainNextStep:
		return "obtain_next_step"
	case PreExecutionChecks:
		return "pre_execution_checks"
	case ExecuteStep:
		return "execute_step"
	case PostExecutionChecks:
		return "post_execution_checks"
	case IntrospectAndReset:
		return "introspect_and_reset"
	case TerminateTrue:
		return "terminate_true"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Outcome is the terminal classification of a task run.
type Outcome int

const (
	OutcomeSatisfied Outcome = iota
	OutcomeExhausted
	OutcomeStalled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSatisfied:
		return "satisfied"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeStalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Reason details the outcome.
type Reason string

const (
	ReasonSatisfied    Reason = "request_satisfied"
	ReasonTurnBudget   Reason = "turn_budget"
	ReasonReplanBudget Reason = "replan_budget"
	ReasonOracleFailed Reason = "oracle_failed"
	ReasonHookFailed   Reason = "hook_failed"
	ReasonCancelled    Reason = "cancelled"
)

// Result is the outcome of Run. Transcript holds every message of the run
// across resets, in delivery order. An exhausted run carries
// core.ErrTurnBudgetExhausted in Err; it is an outcome, not a failure.
type Result struct {
	Outcome     Outcome
	Reason      Reason
	State       State
	Transcript  []core.Message
	FinalAnswer string
	Steps       []Step
	Err         error
}

// Records returns the transcript in persisted form.
func (r *Result) Records() []core.Record { return core.MessagesToRecords(r.Transcript) }

// Status renders "outcome/reason".
func (r *Result) Status() string { return r.Outcome.String() + "/" + string(r.Reason) }
