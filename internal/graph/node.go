// Package graph implements the fixed-shape agent graph runtime: the
// router/planner/retrieval/generator/critic/translator/summarize/finalize
// state machine, with per-node timeouts, a bounded revision loop,
// checkpointing, and event emission.
//
// The graph is modeled as an explicit state machine over one concrete
// state type, domain.AgentState, rather than a generic, reflective
// dispatch over an arbitrary state shape — the fixed eight-node topology
// never varies between runs, so there is nothing for genericity to buy.
package graph

import (
	"context"

	"github.com/kestrelhq/qaflow/internal/domain"
)

// NodeID names one of the eight fixed nodes in the graph.
type NodeID string

const (
	NodeRouter     NodeID = "router"
	NodePlanner    NodeID = "planner"
	NodeRetrieval  NodeID = "retrieval"
	NodeGenerator  NodeID = "generator"
	NodeCritic     NodeID = "critic"
	NodeTranslator NodeID = "translator"
	NodeSummarize  NodeID = "summarize"
	NodeFinalize   NodeID = "finalize"
)

// Node computes a partial state update for one stage of the pipeline. Nodes
// must not throw uncaught errors: any failure is reported via NodeResult.Err
// and the runtime transitions to the error terminal (after retrying, if the
// node's policy allows it).
type Node interface {
	Run(ctx context.Context, state domain.AgentState) NodeResult
}

// NodeFunc adapts a plain function to the Node interface.
type NodeFunc func(ctx context.Context, state domain.AgentState) NodeResult

func (f NodeFunc) Run(ctx context.Context, state domain.AgentState) NodeResult {
	return f(ctx, state)
}

// NodeResult is the output of one node execution.
type NodeResult struct {
	// Delta is merged into the run's accumulated state via domain.Reduce.
	Delta domain.AgentState

	// Next overrides the graph's static/conditional edge for this node, when
	// set. No node in internal/nodes sets it: the engine's transition table
	// (Engine.next) decides every edge, including the router's tool branch
	// and the critic's revision loop.
	Next *NodeID

	// Err, if non-nil, is a node-level failure. The engine does not wrap it:
	// its Error() text becomes the error event's message, and a
	// *apperrors.NodeError's Retryable flag decides whether it is retried.
	Err error
}

// Goto returns a pointer to a NodeID literal, for NodeResult.Next.
func Goto(id NodeID) *NodeID {
	return &id
}
