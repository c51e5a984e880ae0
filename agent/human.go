package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/hupe1980/groupmesh/core"
)

// HumanAgentOptions configures a HumanAgent.
type HumanAgentOptions struct {
	BaseOptions
	// DefaultReply is sent when the human submits empty input. Empty keeps
	// the empty reply, which the coordinator treats as malformed.
	DefaultReply string
	// Confirm asks the human to confirm each reply before it is sent.
	Confirm bool
	// MaxAttempts bounds declined confirmations.
	MaxAttempts int
}

// HumanAgent relays a person's input into the conversation.
type HumanAgent struct {
	BaseAgent
	input        core.HumanInput
	defaultReply string
	confirm      bool
	maxAttempts  int
}

// NewHumanAgent creates a human agent reading from input.
func NewHumanAgent(name string, input core.HumanInput, optFns ...func(o *HumanAgentOptions)) *HumanAgent {
	opts := HumanAgentOptions{
		BaseOptions: BaseOptions{Description: fmt.Sprintf("Human participant %s", name)},
		MaxAttempts: 3,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	base := opts.BaseOptions
	return &HumanAgent{
		BaseAgent:    NewBaseAgent(name, core.CanReply|core.IsHuman, func(o *BaseOptions) { *o = base }),
		input:        input,
		defaultReply: opts.DefaultReply,
		confirm:      opts.Confirm,
		maxAttempts:  opts.MaxAttempts,
	}
}

// Reply implements core.Agent.
func (a *HumanAgent) Reply(ctx context.Context, transcript []core.Message) (core.Message, error) {
	prompt := fmt.Sprintf("[%s] your reply: ", a.Name())
	if n := len(transcript); n > 0 {
		last := transcript[n-1]
		prompt = fmt.Sprintf("%s: %s\n%s", last.Speaker, last.Text(), prompt)
	}

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		text, err := a.input.GetInput(ctx, prompt)
		if err != nil {
			return core.Message{}, fmt.Errorf("human %s: %w", a.Name(), err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			text = a.defaultReply
		}
		if !a.confirm {
			return core.NewAssistantMessage(a.Name(), text), nil
		}

		answer, err := a.input.GetInput(ctx, fmt.Sprintf("send %q? [Y/n] ", text))
		if err != nil {
			return core.Message{}, fmt.Errorf("human %s: %w", a.Name(), err)
		}
		if ans := strings.ToLower(strings.TrimSpace(answer)); ans == "" || ans == "y" || ans == "yes" {
			return core.NewAssistantMessage(a.Name(), text), nil
		}
	}
	return core.Message{}, fmt.Errorf("%w: %s declined %d replies", core.ErrMalformedReply, a.Name(), a.maxAttempts)
}

// ConsoleInput reads lines from a terminal-like reader. Calls are serialized;
// a line typed after a call was cancelled is handed to the next call.
type ConsoleInput struct {
	mu     sync.Mutex
	out    io.Writer
	lines  chan string
	errs   chan error
	start  sync.Once
	reader *bufio.Reader
}

// NewConsoleInput creates a ConsoleInput writing prompts to out and reading
// answers from in.
func NewConsoleInput(in io.Reader, out io.Writer) *ConsoleInput {
	return &ConsoleInput{
		out:    out,
		reader: bufio.NewReader(in),
		lines:  make(chan string),
		errs:   make(chan error, 1),
	}
}

func (c *ConsoleInput) readLoop() {
	for {
		line, err := c.reader.ReadString('\n')
		if line != "" || err == nil {
			c.lines <- strings.TrimRight(line, "\r\n")
		}
		if err != nil {
			c.errs <- err
			close(c.lines)
			return
		}
	}
}

// GetInput implements core.HumanInput.
func (c *ConsoleInput) GetInput(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.start.Do(func() { go c.readLoop() })

	if c.out != nil {
		if _, err := io.WriteString(c.out, prompt); err != nil {
			return "", err
		}
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if ok {
			return line, nil
		}
		select {
		case err := <-c.errs:
			c.errs <- err
			return "", err
		default:
			return "", io.EOF
		}
	}
}
