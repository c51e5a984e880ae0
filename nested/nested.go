package nested

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/groupmesh/agent"
	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/groupchat"
	"github.com/hupe1980/groupmesh/logging"
)

// Factory builds a fresh inner manager for one outer turn.
type Factory func() (*groupchat.Manager, error)

// ResponsePreparer turns the inner transcript into the outer reply text.
type ResponsePreparer func(inner []core.Message) string

// Options configures a nested conversation agent.
type Options struct {
	agent.BaseOptions
	// ResponsePreparer defaults to StripMarker(Marker).
	ResponsePreparer ResponsePreparer
	// Marker is the termination marker removed by the default preparer.
	Marker string
	// FirstSpeaker names the inner agent that answers the outer message.
	// Defaults to the first agent of the inner roster.
	FirstSpeaker string
	Logger       logging.Logger
}

// Agent exposes a whole inner group conversation as a single agent. Every
// Reply runs a new inner manager, so nothing carries over between turns.
type Agent struct {
	agent.BaseAgent
	factory Factory
	opts    Options
}

// New creates a nested agent named name.
func New(name string, factory Factory, optFns ...func(o *Options)) (*Agent, error) {
	if factory == nil {
		return nil, core.NewConfigError("nested", "agent %q has no factory", name)
	}
	opts := Options{
		Marker: agent.DefaultTerminationMarker,
		Logger: logging.NoOpLogger{},
	}
	opts.Description = fmt.Sprintf("Team %s", name)
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.ResponsePreparer == nil {
		opts.ResponsePreparer = StripMarker(opts.Marker)
	}
	base := opts.BaseOptions
	return &Agent{
		BaseAgent: agent.NewBaseAgent(name, core.CanReply, func(o *agent.BaseOptions) { *o = base }),
		factory:   factory,
		opts:      opts,
	}, nil
}

// Reply implements core.Agent. All outer messages but the last become
// silent inner context; the last one starts the inner run.
func (a *Agent) Reply(ctx context.Context, outer []core.Message) (core.Message, error) {
	n := len(outer)
	if n == 0 {
		return core.Message{}, fmt.Errorf("%w: nested %s received an empty transcript", core.ErrMalformedReply, a.Name())
	}

	inner, err := a.factory()
	if err != nil {
		return core.Message{}, fmt.Errorf("nested %s: %w", a.Name(), err)
	}

	first := a.opts.FirstSpeaker
	if first == "" {
		first = inner.Roster()[0].Name()
	}
	if err := inner.SetFirstSpeaker(first); err != nil {
		return core.Message{}, fmt.Errorf("nested %s: %w", a.Name(), err)
	}
	if err := inner.AddContext(outer[:n-1]...); err != nil {
		return core.Message{}, fmt.Errorf("nested %s: %w", a.Name(), err)
	}

	kickoff := outer[n-1].Clone()
	kickoff.ID = core.NewID()
	res, err := inner.Start(ctx, kickoff)
	if err != nil {
		return core.Message{}, fmt.Errorf("nested %s: %w", a.Name(), err)
	}

	a.opts.Logger.Debug(
		"nested.inner.finished",
		"agent", a.Name(),
		"conversation_id", inner.ConversationID(),
		"state", res.State.String(),
		"reason", string(res.Reason),
		"rounds", res.Rounds,
	)

	if res.State == groupchat.Stalled {
		if res.Reason == groupchat.ReasonCancelled {
			if err := ctx.Err(); err != nil {
				return core.Message{}, err
			}
			return core.Message{}, res.Err
		}
		if res.Err == nil {
			return core.Message{}, fmt.Errorf("%w: nested %s stalled (%s)", core.ErrMalformedReply, a.Name(), res.Reason)
		}
		return core.Message{}, fmt.Errorf("%w: nested %s stalled (%s): %w", core.ErrMalformedReply, a.Name(), res.Reason, res.Err)
	}

	return core.NewAssistantMessage(a.Name(), a.opts.ResponsePreparer(res.Transcript)), nil
}

// StripMarker returns a preparer that takes the newest inner message with
// text left after removing marker and trimming whitespace.
func StripMarker(marker string) ResponsePreparer {
	return func(inner []core.Message) string {
		for i := len(inner) - 1; i >= 0; i-- {
			text := inner[i].Content
			if marker != "" {
				text = strings.ReplaceAll(text, marker, "")
			}
			if text = strings.TrimSpace(text); text != "" {
				return text
			}
		}
		return ""
	}
}

// LastMessage returns a preparer that passes the final inner message through.
func LastMessage() ResponsePreparer {
	return func(inner []core.Message) string {
		if len(inner) == 0 {
			return ""
		}
		return inner[len(inner)-1].Text()
	}
}
