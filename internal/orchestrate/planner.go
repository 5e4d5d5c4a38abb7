package orchestrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/rwalker-dev/foreman/internal/api"
)

// plannerSystemPrompt asks for one subtask per line so parsing stays
// trivial and order is explicit.
const plannerSystemPrompt = `You plan work for a multi-agent task execution system.
Break the request into 2-8 concrete subtasks a worker agent can execute independently.
Reply with one subtask per line, in execution order. No numbering, no commentary.`

// AnthropicPlanner plans subtasks with a Claude model on the shared
// client.
type AnthropicPlanner struct {
	client *api.Client
}

// NewAnthropicPlanner creates an LLM-backed planner.
func NewAnthropicPlanner(client *api.Client) *AnthropicPlanner {
	return &AnthropicPlanner{client: client}
}

// Plan asks the model for a subtask list.
func (p *AnthropicPlanner) Plan(ctx context.Context, goal string) ([]string, error) {
	out, err := p.client.Complete(ctx, plannerSystemPrompt, goal, 2048)
	if err != nil {
		return nil, fmt.Errorf("plan request: %w", err)
	}

	var steps []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line != "" {
			steps = append(steps, line)
		}
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("model returned no subtasks")
	}
	return steps, nil
}

// sequenceMarkers split a goal into steps when no LLM is configured.
var sequenceMarkers = []string{" and then ", ", then ", " then ", " and ", "; "}

// HeuristicPlanner is a deterministic, offline planner: it splits the
// goal on sequencing phrases. The fallback when no provider is
// configured and the default in tests.
type HeuristicPlanner struct{}

// Plan splits the goal into steps on sequencing markers. A goal with no
// markers becomes a single subtask.
func (HeuristicPlanner) Plan(_ context.Context, goal string) ([]string, error) {
	parts := []string{goal}
	for _, marker := range sequenceMarkers {
		var next []string
		for _, part := range parts {
			for _, piece := range strings.Split(part, marker) {
				piece = strings.TrimSpace(piece)
				if piece != "" {
					next = append(next, piece)
				}
			}
		}
		parts = next
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty goal")
	}
	return parts, nil
}
