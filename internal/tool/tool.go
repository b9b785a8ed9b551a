// Package tool implements the uniform adapter interface over external tool
// backends (web search, crawling, internal retrieval) and the in-process
// calculator, normalizing every result into domain.Evidence.
package tool

import (
	"context"

	"github.com/kestrelhq/qaflow/internal/domain"
)

// Tool is the uniform interface every retrieval/action backend implements.
// It returns normalized Evidence rather than an arbitrary map, since every
// caller here is a retrieval-node dispatch rather than a free-form LLM
// tool call.
type Tool interface {
	// Name identifies the tool; must match a domain.ToolKind value.
	Name() domain.ToolKind

	// Call executes the tool against query (and, for targeted_crawl,
	// target holds the URL from the routing decision). It returns
	// normalized evidence or an error. A tool with no backend configured
	// returns a *NeedsConfigurationError.
	Call(ctx context.Context, query, target string) ([]domain.Evidence, error)
}

// Registry looks up a Tool by kind, reporting a *NeedsConfigurationError for any
// kind whose backend was never wired (the router must avoid choosing it).
type Registry struct {
	tools map[domain.ToolKind]Tool
}

// NewRegistry builds a Registry from the given tools, keyed by their own
// Name().
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[domain.ToolKind]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Get returns the tool for kind, or a *NeedsConfigurationError if unregistered.
func (r *Registry) Get(kind domain.ToolKind) (Tool, error) {
	t, ok := r.tools[kind]
	if !ok {
		return nil, &NeedsConfigurationError{Kind: kind}
	}
	return t, nil
}

// Configured reports which kinds currently have a backend registered, for
// the router to consult before choosing a tool and for /health reporting.
func (r *Registry) Configured() map[domain.ToolKind]bool {
	out := make(map[domain.ToolKind]bool, len(r.tools))
	for k := range r.tools {
		out[k] = true
	}
	return out
}

// NeedsConfigurationError reports that a routing decision named a tool
// kind with no backend wired.
type NeedsConfigurationError struct {
	Kind domain.ToolKind
}

func (e *NeedsConfigurationError) Error() string {
	return "tool: " + string(e.Kind) + " needs configuration"
}
