package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrelhq/qaflow/internal/domain"
	"github.com/kestrelhq/qaflow/internal/graph"
	"github.com/kestrelhq/qaflow/internal/model"
)

// Planner produces an intent label and a short ordered plan. It is a
// no-op for calculator/direct_answer (the engine's transition table
// already skips straight to generator for those, so Planner only ever
// runs for tool kinds that need a plan).
type Planner struct {
	Model model.ChatModel
}

func NewPlanner(m model.ChatModel) *Planner {
	return &Planner{Model: m}
}

func (p *Planner) Run(ctx context.Context, state domain.AgentState) graph.NodeResult {
	var out struct {
		Intent string   `json:"intent"`
		Plan   []string `json:"plan"`
	}

	messages := []model.Message{
		{Role: model.RoleSystem, Content: "You plan how to answer a question given the chosen tool. " +
			"Respond with JSON only: {\"intent\": \"<short label>\", \"plan\": [\"step 1\", \"step 2\", ...]}. " +
			"Keep the plan to at most 4 short steps."},
		{Role: model.RoleUser, Content: plannerPrompt(state)},
	}

	if err := askJSON(ctx, p.Model, messages, &out); err != nil {
		return graph.NodeResult{Err: nodeError(graph.NodePlanner, err, true)}
	}
	if out.Intent == "" {
		out.Intent = "answer_query"
	}

	return graph.NodeResult{
		Delta: domain.AgentState{Intent: out.Intent, Plan: out.Plan},
	}
}

func plannerPrompt(state domain.AgentState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", state.Query)
	fmt.Fprintf(&b, "Chosen tool: %s (%s)\n", state.RoutingDecision.Tool, state.RoutingDecision.Reasoning)
	if state.Summary != "" {
		fmt.Fprintf(&b, "Conversation summary: %s\n", state.Summary)
	}
	return b.String()
}
