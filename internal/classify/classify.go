// Package classify decides whether an operator request needs full task
// decomposition or can be answered directly.
package classify

import (
	"context"
	"strings"
)

// Complexity is the classifier's verdict on a request.
type Complexity string

const (
	// Simple requests are answered directly, without creating an orchestrator.
	Simple Complexity = "simple"
	// Complex requests are decomposed into a subtask tree.
	Complex Complexity = "complex"
)

// Result carries the verdict plus, for simple requests, a direct answer.
type Result struct {
	// Complexity is the verdict.
	Complexity Complexity
	// Answer is the direct response for simple requests. Empty for complex.
	Answer string
}

// Classifier decides how a request should be handled. Implementations may
// call an LLM; callers must pass a context and expect the call to block.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, text string) (Result, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, text string) (Result, error) {
	return f(ctx, text)
}

// complexMarkers are phrases that strongly suggest multi-step work.
var complexMarkers = []string{
	"build", "implement", "create", "develop", "refactor", "migrate",
	"research", "compare", "analyze", "and then", "step", "website",
	"deploy", "scrape", "collect", "report",
}

// Heuristic is a deterministic, offline classifier. It is the fallback when
// no LLM provider is configured and the default in tests.
type Heuristic struct{}

// Classify applies keyword and length heuristics. Short requests with no
// action markers are simple; everything else is complex.
func (Heuristic) Classify(_ context.Context, text string) (Result, error) {
	lower := strings.ToLower(text)
	for _, marker := range complexMarkers {
		if strings.Contains(lower, marker) {
			return Result{Complexity: Complex}, nil
		}
	}
	if len(strings.Fields(text)) <= 12 {
		return Result{
			Complexity: Simple,
			Answer:     "This looks like a direct question. Answering without decomposition.",
		}, nil
	}
	return Result{Complexity: Complex}, nil
}
