package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrelhq/qaflow/internal/apperrors"
	"github.com/kestrelhq/qaflow/internal/domain"
	"github.com/kestrelhq/qaflow/internal/graph"
	"github.com/kestrelhq/qaflow/internal/model"
)

// Critic reviews draft_answer and returns a verdict. A "rejected" verdict
// is fatal (safety/policy violation only) and surfaces as a
// CriticRejection so the engine short-circuits straight to the error
// terminal rather than retrying or looping back to the generator.
type Critic struct {
	Model model.ChatModel
}

func NewCritic(m model.ChatModel) *Critic {
	return &Critic{Model: m}
}

func (c *Critic) Run(ctx context.Context, state domain.AgentState) graph.NodeResult {
	var out struct {
		Verdict      domain.CriticVerdict `json:"verdict"`
		Reasons      []string             `json:"reasons"`
		Instructions string               `json:"instructions"`
	}

	messages := []model.Message{
		{Role: model.RoleSystem, Content: "You review a draft answer for correctness and policy compliance. " +
			"Respond with JSON only: {\"verdict\": \"approved\"|\"needs_revision\"|\"rejected\", " +
			"\"reasons\": [\"...\"], \"instructions\": \"<what to fix, if needs_revision>\"}. " +
			"Use \"rejected\" only for safety or policy violations, never for ordinary quality issues."},
		{Role: model.RoleUser, Content: criticPrompt(state)},
	}

	if err := askJSON(ctx, c.Model, messages, &out); err != nil {
		return graph.NodeResult{Err: nodeError(graph.NodeCritic, err, true)}
	}
	if out.Verdict == "" {
		out.Verdict = domain.VerdictApproved
	}

	critique := domain.Critique{Verdict: out.Verdict, Reasons: out.Reasons, Instructions: out.Instructions}
	delta := domain.AgentState{Critique: critique}

	// revision_count is budget state, not a critic opinion: only the engine
	// knows MaxRevisions, so it alone decides whether a needs_revision verdict
	// increments the counter and loops back, or trips BudgetExceeded.
	if out.Verdict == domain.VerdictRejected {
		return graph.NodeResult{
			Delta: delta,
			Err:   &apperrors.CriticRejection{Reasons: out.Reasons},
		}
	}

	return graph.NodeResult{Delta: delta}
}

func criticPrompt(state domain.AgentState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\n", state.Query)
	fmt.Fprintf(&b, "Draft answer:\n%s\n", state.DraftAnswer)
	return b.String()
}
