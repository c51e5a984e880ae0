package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEligibleSpeaker is returned by a selector when no agent may speak next.
	ErrNoEligibleSpeaker = errors.New("no eligible speaker")
	// ErrMalformedReply marks a reply or judgment that failed validation.
	ErrMalformedReply = errors.New("malformed reply")
	// ErrOracleTimeout marks an oracle call that exceeded its deadline.
	ErrOracleTimeout = errors.New("oracle timeout")
	// ErrOracleError marks any other oracle failure.
	ErrOracleError = errors.New("oracle error")
	// ErrCancelled marks caller initiated cancellation.
	ErrCancelled = errors.New("cancelled")
	// ErrTurnBudgetExhausted is reported when a run used its whole turn budget.
	// It is a terminal outcome, not a failure.
	ErrTurnBudgetExhausted = errors.New("turn budget exhausted")
	// ErrCallLimitExceeded is returned by CallLimiter once the budget is spent.
	ErrCallLimitExceeded = errors.New("call limit exceeded")
)

// DuplicateSequenceError is returned by Transcript.Append when a message
// sequence number does not strictly increase.
type DuplicateSequenceError struct {
	Sequence int64
	Last     int64
}

func (e *DuplicateSequenceError) Error() string {
	return fmt.Sprintf("duplicate sequence %d (last appended %d)", e.Sequence, e.Last)
}

// ConfigError reports a fatal configuration problem detected at construction.
type ConfigError struct {
	Component string
	Reason    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: invalid configuration: %s", e.Component, e.Reason)
}

// NewConfigError creates a ConfigError with a formatted reason.
func NewConfigError(component, format string, args ...any) *ConfigError {
	return &ConfigError{Component: component, Reason: fmt.Sprintf(format, args...)}
}
