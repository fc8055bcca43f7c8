package llm

import "context"

type Provider interface {
	// Summarize returns a full-text summary for the given prompt.
	Summarize(ctx context.Context, prompt string) (string, error)
	Close() error
}
