package groupchat

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/selector"
	"github.com/hupe1980/groupmesh/telemetry"
)

// SpeakerSelector picks the next speaker. *selector.Selector implements it.
type SpeakerSelector interface {
	Select(ctx context.Context, req selector.Request) (core.Agent, error)
}

// rosterValidator is implemented by selectors that can check their
// configuration against a roster.
type rosterValidator interface {
	Validate(roster []core.Agent, firstSpeaker string) error
}

// TerminationFunc decides, from the tail of the shared log, whether the
// conversation is over. It runs after every append.
type TerminationFunc func(tail []core.Message) bool

// Options configures a Manager.
type Options struct {
	// MaxRound bounds the number of appended messages, the initial message
	// included. Defaults to 10.
	MaxRound int
	// Selector defaults to round robin without repeats.
	Selector SpeakerSelector
	// Termination is evaluated over the last TerminationTail messages in
	// addition to every roster agent's ShouldTerminate.
	Termination     TerminationFunc
	TerminationTail int
	// MaxReplyRetries is the number of extra attempts after a failed or
	// invalid reply. Defaults to 2.
	MaxReplyRetries int
	// ReplyTimeout bounds a single Reply call. Zero means no timeout.
	ReplyTimeout time.Duration
	// FirstSpeaker overrides the selector for the first reply.
	FirstSpeaker string
	// HumanFallback takes the turn of an agent that exhausted its
	// consecutive reply budget.
	HumanFallback core.Agent

	Logger         logging.Logger
	Metrics        *telemetry.Metrics
	Tracer         trace.Tracer
	ConversationID string
}

func defaultOptions() Options {
	return Options{
		MaxRound:        10,
		TerminationTail: 1,
		MaxReplyRetries: 2,
		Logger:          logging.NoOpLogger{},
	}
}
