// Package groupchat implements the round coordinator of a multi-agent
// conversation.
//
// A Manager owns one transcript and a fixed roster. Each round it asks a
// selector for the next speaker, calls that agent's Reply with the agent's
// own view of the transcript, validates the reply and broadcasts it to the
// roster. The run ends Terminated (a termination predicate fired or a reply
// budget ran out), Exhausted (MaxRound reached) or Stalled (no eligible
// speaker, invalid replies beyond the retry budget, cancellation).
//
// Example:
//
//	m, err := groupchat.New([]core.Agent{writer, critic}, func(o *groupchat.Options) {
//	    o.MaxRound = 8
//	    o.Selector = selector.New(selector.RoundRobin)
//	})
//	if err != nil {
//	    return err
//	}
//	res, err := m.Start(ctx, core.NewUserMessage("user", "draft a haiku"))
//
// Results always carry the transcript so far, even for stalled runs.
// Resume and Seed replay persisted records without consulting the selector.
package groupchat
