package core

import "context"

// HumanInput is the collaborator that asks a person for input. It is used by
// the manual speaker selection policy and by human agents.
type HumanInput interface {
	GetInput(ctx context.Context, prompt string) (string, error)
}

// HumanInputFunc adapts a function to the HumanInput interface.
type HumanInputFunc func(ctx context.Context, prompt string) (string, error)

// GetInput implements HumanInput.
func (f HumanInputFunc) GetInput(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
