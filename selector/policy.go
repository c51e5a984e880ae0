package selector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/internal/util"
	"github.com/hupe1980/groupmesh/model"
)

const defaultArbitrationPrompt = `You are coordinating a group conversation. The following participants are available:
{{.Agents}}

Read the conversation, then choose who should speak next.
Answer with JSON of the form {"speaker": "<name>"} where <name> is one of: {{join ", " .Names}}.`

type speakerChoice struct {
	Speaker string `json:"speaker"`
}

func choiceSchema(eligible []core.Agent) model.ResponseSchema {
	enum := make([]any, len(eligible))
	for i, a := range eligible {
		enum[i] = a.Name()
	}
	return model.ResponseSchema{
		Name:        "select_speaker",
		Description: "Name of the participant who speaks next",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"speaker": map[string]any{
					"type":        "string",
					"description": "Exact participant name",
					"enum":        enum,
				},
			},
			"required":             []string{"speaker"},
			"additionalProperties": false,
		},
	}
}

// arbitrate asks the oracle for a structured choice constrained to the
// eligible names. Oracle failures and invalid names count as attempts;
// cancellation aborts the selection.
func (s *Selector) arbitrate(ctx context.Context, req Request, eligible []core.Agent) (core.Agent, error) {
	if s.opts.Oracle == nil {
		return s.fallback(req, eligible), nil
	}

	names := core.AgentNames(eligible)
	lines := make([]string, len(eligible))
	for i, a := range eligible {
		lines[i] = fmt.Sprintf("%s: %s", a.Name(), a.Description())
	}
	instructions, err := util.RenderTemplate(s.opts.Instruction, map[string]any{
		"Agents": strings.Join(lines, "\n"),
		"Names":  names,
	})
	if err != nil {
		return nil, core.NewConfigError("selector", "arbitration prompt: %v", err)
	}

	schema := choiceSchema(eligible)
	messages := append([]core.Message(nil), req.Transcript...)

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		var choice speakerChoice
		err := model.CompleteStructured(ctx, s.opts.Oracle, model.Request{
			Instructions: instructions,
			Messages:     messages,
		}, schema, &choice)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, core.ErrCancelled) {
			return nil, err
		}
		if err == nil {
			if a := findByName(eligible, strings.TrimSpace(choice.Speaker)); a != nil {
				return a, nil
			}
			err = fmt.Errorf("%w: %q is not eligible", core.ErrMalformedReply, choice.Speaker)
		}

		s.opts.Logger.Warn("selector.arbitrated.retry", "attempt", attempt, "error", err.Error())
		messages = append(messages, core.NewMessage("selector", core.RoleSystem,
			fmt.Sprintf("Invalid choice. Reply with {\"speaker\": name} using one of: %s.", strings.Join(names, ", "))))
	}

	next := s.fallback(req, eligible)
	s.opts.Logger.Warn("selector.arbitrated.fallback", "attempts", s.opts.MaxAttempts, "speaker", next.Name())
	return next, nil
}

// manual asks the human for a 1-based roster index or a name. The choice is
// taken from the full roster. Empty input or exhausted attempts fall back to
// arbitration (round robin without an oracle).
func (s *Selector) manual(ctx context.Context, req Request, eligible []core.Agent) (core.Agent, error) {
	if s.opts.Human == nil {
		return s.arbitrate(ctx, req, eligible)
	}

	var b strings.Builder
	b.WriteString("Choose the next speaker:\n")
	for i, a := range req.Roster {
		mark := ""
		if findByName(eligible, a.Name()) != nil {
			mark = " *"
		}
		fmt.Fprintf(&b, "%d. %s%s\n", i+1, a.Name(), mark)
	}
	b.WriteString("Enter a number or name (empty for automatic): ")
	prompt := b.String()

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		input, err := s.opts.Human.GetInput(ctx, prompt)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			s.opts.Logger.Warn("selector.manual.input_error", "error", err.Error())
			break
		}
		input = strings.TrimSpace(input)
		if input == "" {
			break
		}
		if a := parseChoice(req.Roster, input); a != nil {
			return a, nil
		}
		s.opts.Logger.Warn("selector.manual.invalid", "attempt", attempt, "input", input)
		prompt = fmt.Sprintf("%q is not a participant. %s", input, b.String())
	}

	return s.arbitrate(ctx, req, eligible)
}

func parseChoice(roster []core.Agent, input string) core.Agent {
	if i, err := strconv.Atoi(input); err == nil {
		if i >= 1 && i <= len(roster) {
			return roster[i-1]
		}
		return nil
	}
	return findByName(roster, input)
}
