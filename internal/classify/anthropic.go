package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rwalker-dev/foreman/internal/api"
)

// classifierSystemPrompt asks for a strict two-line verdict so parsing
// stays trivial.
const classifierSystemPrompt = `You triage requests for a multi-agent task execution system.
Reply with exactly one of two forms:
SIMPLE
<one-paragraph direct answer to the request>
or
COMPLEX
Do not add anything else.`

// Anthropic classifies requests with a small Claude model.
type Anthropic struct {
	client *api.Client
}

// NewAnthropic creates an LLM-backed classifier on the shared client.
func NewAnthropic(client *api.Client) *Anthropic {
	return &Anthropic{client: client}
}

// Classify sends the request text to the model and parses the verdict.
// Malformed model output is treated as complex: decomposing a simple
// request is wasteful but answerable, while answering a complex request
// directly loses work.
func (a *Anthropic) Classify(ctx context.Context, text string) (Result, error) {
	out, err := a.client.Complete(ctx, classifierSystemPrompt, text, 1024)
	if err != nil {
		return Result{}, fmt.Errorf("classify request: %w", err)
	}

	verdict, answer, _ := strings.Cut(out, "\n")
	switch strings.TrimSpace(strings.ToUpper(verdict)) {
	case "SIMPLE":
		return Result{Complexity: Simple, Answer: strings.TrimSpace(answer)}, nil
	default:
		return Result{Complexity: Complex}, nil
	}
}
