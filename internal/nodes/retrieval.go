package nodes

import (
	"context"
	"errors"

	"github.com/kestrelhq/qaflow/internal/domain"
	"github.com/kestrelhq/qaflow/internal/graph"
	"github.com/kestrelhq/qaflow/internal/tool"
)

// Retrieval dispatches to the tool registry per the router's decision.
// On an empty internal_retrieval result it falls back to web_search once,
// per turn, when FallbackWebOnEmptyRetrieval is enabled; the
// fallback updates routing_decision.tool so the rest of the run (and the
// final complete event) reflects which backend actually served the
// answer.
type Retrieval struct {
	Tools                       *tool.Registry
	FallbackWebOnEmptyRetrieval bool
}

func NewRetrieval(tools *tool.Registry, fallback bool) *Retrieval {
	return &Retrieval{Tools: tools, FallbackWebOnEmptyRetrieval: fallback}
}

func (r *Retrieval) Run(ctx context.Context, state domain.AgentState) graph.NodeResult {
	kind := state.RoutingDecision.Tool

	evidence, err := r.dispatch(ctx, kind, state.Query, state.RoutingDecision.Target)
	if err != nil {
		return graph.NodeResult{Err: r.classify(err)}
	}

	decision := state.RoutingDecision
	if len(evidence) == 0 && kind == domain.ToolInternalRetrieval && r.FallbackWebOnEmptyRetrieval {
		fallbackEvidence, fallbackErr := r.dispatch(ctx, domain.ToolWebSearch, state.Query, "")
		if fallbackErr == nil {
			evidence = fallbackEvidence
			decision.Tool = domain.ToolWebSearch
			decision.Reasoning = "internal_retrieval returned no results; fell back to web_search"
		}
	}

	return graph.NodeResult{
		Delta: domain.AgentState{
			RetrievedContext: evidence,
			RoutingDecision:  decision,
		},
	}
}

func (r *Retrieval) dispatch(ctx context.Context, kind domain.ToolKind, query, target string) ([]domain.Evidence, error) {
	t, err := r.Tools.Get(kind)
	if err != nil {
		return nil, err
	}
	return t.Call(ctx, query, target)
}

func (r *Retrieval) classify(err error) error {
	var needsConfig *tool.NeedsConfigurationError
	if errors.As(err, &needsConfig) {
		return nodeError(graph.NodeRetrieval, err, false)
	}
	return nodeError(graph.NodeRetrieval, err, true)
}
