package groupchat

import (
	"github.com/hupe1980/groupmesh/core"
)

// State is the lifecycle state of a Manager.
type State int

const (
	// Idle is the state before Start or Resume.
	Idle State = iota
	// Running means the round loop is active.
	Running
	// Terminated means a termination predicate fired or a reply budget ran out.
	Terminated
	// Stalled means the conversation could not make progress.
	Stalled
	// Exhausted means the round budget was used up.
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	case Stalled:
		return "stalled"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Final reports whether s is a terminal state.
func (s State) Final() bool { return s >= Terminated }

// Reason explains why a conversation reached its terminal state.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonTermination       Reason = "termination_message"
	ReasonReplyBudget       Reason = "reply_budget"
	ReasonMaxRound          Reason = "max_round"
	ReasonNoEligibleSpeaker Reason = "no_eligible_speaker"
	ReasonSelectionFailed   Reason = "selection_failed"
	ReasonMalformedReply    Reason = "malformed_reply"
	ReasonCancelled         Reason = "cancelled"
)

// Result is the outcome of a run. It always carries the transcript up to
// the point where the run ended.
type Result struct {
	State       State
	Reason      Reason
	Rounds      int
	Transcript  []core.Message
	Err         error
	LastSpeaker string

	records []core.Record
}

// Records returns the persisted form of the transcript, recipients included.
func (r *Result) Records() []core.Record {
	if r.records == nil {
		return core.MessagesToRecords(r.Transcript)
	}
	return append([]core.Record(nil), r.records...)
}

// Status renders "state" or "state/reason".
func (r *Result) Status() string {
	if r.Reason == ReasonNone {
		return r.State.String()
	}
	return r.State.String() + "/" + string(r.Reason)
}

// Last returns the final message of the transcript, if any.
func (r *Result) Last() (core.Message, bool) {
	if len(r.Transcript) == 0 {
		return core.Message{}, false
	}
	return r.Transcript[len(r.Transcript)-1], true
}
