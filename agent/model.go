package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/model"
)

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	BaseOptions

	Instruction     Instruction
	EnableStreaming bool
	// Tools are advertised to the oracle. Execution happens elsewhere (an
	// ExecutorAgent in the same roster).
	Tools []model.ToolDefinition
	// MaxHistoryMessages bounds the transcript window sent to the oracle;
	// 0 sends everything.
	MaxHistoryMessages int
	// MaxModelCalls bounds oracle calls until ResetCallLimit; 0 is unlimited.
	MaxModelCalls int
	// PrefixSpeaker renders other participants' messages as "name: content".
	PrefixSpeaker bool
	Logger        logging.Logger
}

// ModelAgent replies by asking a model.Model. The agent keeps no history:
// each Reply maps the supplied transcript onto oracle roles, where the
// agent's own messages become assistant turns and everything else becomes
// user input.
type ModelAgent struct {
	BaseAgent
	llm                model.Model
	instruction        Instruction
	tools              []model.ToolDefinition
	enableStreaming    bool
	maxHistoryMessages int
	prefixSpeaker      bool
	limiter            *core.CallLimiter
	logger             logging.Logger
}

// NewModelAgent creates a new model-backed agent with sensible defaults.
//
// The agent is initialized with:
//   - CanReply capability
//   - A generic assistant instruction naming the agent
//   - Streaming disabled
//   - 20-message history window
//   - Speaker prefixes on foreign messages
func NewModelAgent(name string, llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{
		BaseOptions:        BaseOptions{Description: fmt.Sprintf("Agent %s", name)},
		Instruction:        NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", name)),
		MaxHistoryMessages: 20,
		PrefixSpeaker:      true,
		Logger:             logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	base := opts.BaseOptions
	return &ModelAgent{
		BaseAgent:          NewBaseAgent(name, core.CanReply, func(o *BaseOptions) { *o = base }),
		llm:                llm,
		instruction:        opts.Instruction,
		tools:              append([]model.ToolDefinition(nil), opts.Tools...),
		enableStreaming:    opts.EnableStreaming,
		maxHistoryMessages: opts.MaxHistoryMessages,
		prefixSpeaker:      opts.PrefixSpeaker,
		limiter:            core.NewCallLimiter(opts.MaxModelCalls),
		logger:             opts.Logger,
	}
}

// Model returns the underlying oracle.
func (a *ModelAgent) Model() model.Model { return a.llm }

// Tools returns the tool definitions advertised to the oracle.
func (a *ModelAgent) Tools() []model.ToolDefinition {
	return append([]model.ToolDefinition(nil), a.tools...)
}

// CallLimiter exposes the per-run oracle call budget.
func (a *ModelAgent) CallLimiter() *core.CallLimiter { return a.limiter }

// ResetCallLimit starts a new oracle call budget.
func (a *ModelAgent) ResetCallLimit() { a.limiter.Reset() }

// Reply implements core.Agent.
func (a *ModelAgent) Reply(ctx context.Context, transcript []core.Message) (core.Message, error) {
	if err := a.limiter.Increment(); err != nil {
		return core.Message{}, fmt.Errorf("agent %s: %w", a.Name(), err)
	}

	instructions, err := a.instruction.Resolve(ctx, transcript)
	if err != nil {
		return core.Message{}, fmt.Errorf("agent %s: resolve instruction: %w", a.Name(), err)
	}

	req := model.Request{
		Instructions: instructions,
		Messages:     a.BuildMessages(transcript),
		Tools:        a.Tools(),
		Stream:       a.enableStreaming,
	}

	a.logger.Debug("agent.reply.start", "agent", a.Name(), "messages", len(req.Messages), "tools", len(req.Tools))

	start := time.Now()
	resp, err := model.Complete(ctx, a.llm, req)
	if err != nil {
		a.logger.Warn("agent.reply.error", "agent", a.Name(), "error", err.Error())
		return core.Message{}, fmt.Errorf("agent %s: %w", a.Name(), err)
	}

	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	a.logger.Debug(
		"agent.reply.complete",
		"agent", a.Name(),
		"model", a.llm.Info().Name,
		"tokens", tokens,
		"function_calls", len(resp.Message.FunctionCalls),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	reply := resp.Message.Clone()
	reply.ID = core.NewID()
	reply.Speaker = a.Name()
	reply.Role = core.RoleAssistant
	reply.Sequence = 0
	reply.Timestamp = time.Now()
	for i := range reply.FunctionCalls {
		if reply.FunctionCalls[i].ID == "" {
			reply.FunctionCalls[i].ID = core.NewID()
		}
	}
	return reply, nil
}

// BuildMessages maps the agent's view onto oracle roles. Function calls and
// results are kept structured only when this agent issued the call; foreign
// tool traffic is rendered as text so providers never see orphaned tool
// results.
func (a *ModelAgent) BuildMessages(transcript []core.Message) []core.Message {
	window := transcript
	if a.maxHistoryMessages > 0 && len(window) > a.maxHistoryMessages {
		window = window[len(window)-a.maxHistoryMessages:]
	}

	ownCalls := map[string]bool{}
	out := make([]core.Message, 0, len(window))
	for _, m := range window {
		switch {
		case m.Speaker == a.Name() && m.Role != core.RoleTool:
			msg := core.Message{ID: m.ID, Speaker: m.Speaker, Role: core.RoleAssistant, Content: m.Content}
			if m.HasFunctionCalls() {
				msg.FunctionCalls = append([]core.FunctionCall(nil), m.FunctionCalls...)
				for _, fc := range m.FunctionCalls {
					ownCalls[fc.ID] = true
				}
			}
			out = append(out, msg)
		case m.Role == core.RoleTool && answersAll(m.FunctionResponses, ownCalls):
			out = append(out, core.Message{
				ID:                m.ID,
				Speaker:           m.Speaker,
				Role:              core.RoleTool,
				FunctionResponses: append([]core.FunctionResponse(nil), m.FunctionResponses...),
			})
		case m.Role == core.RoleSystem:
			out = append(out, core.Message{ID: m.ID, Speaker: m.Speaker, Role: core.RoleSystem, Content: m.Content})
		default:
			text := renderForeign(m)
			if text == "" {
				continue
			}
			if a.prefixSpeaker && m.Speaker != "" {
				text = m.Speaker + ": " + text
			}
			out = append(out, core.Message{ID: m.ID, Speaker: m.Speaker, Role: core.RoleUser, Content: text})
		}
	}
	return out
}

func answersAll(responses []core.FunctionResponse, calls map[string]bool) bool {
	if len(responses) == 0 {
		return false
	}
	for _, fr := range responses {
		if !calls[fr.ID] {
			return false
		}
	}
	return true
}

func renderForeign(m core.Message) string {
	if !m.HasFunctionCalls() {
		return m.Text()
	}
	var b strings.Builder
	b.WriteString(m.Content)
	for _, fc := range m.FunctionCalls {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[call %s(%s)]", fc.Name, fc.Arguments)
	}
	return b.String()
}
