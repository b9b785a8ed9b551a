package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrelhq/qaflow/internal/domain"
	"github.com/kestrelhq/qaflow/internal/graph"
	"github.com/kestrelhq/qaflow/internal/model"
	"github.com/kestrelhq/qaflow/internal/tool"
)

// Generator produces draft_answer and citations from retrieved_context.
// On a revision pass (revision_count > 0) it folds critique.instructions
// into the prompt so the next draft actually addresses the critic's
// feedback.
//
// Router sends ToolCalculator and ToolDirectAnswer straight to this node,
// bypassing retrieval (graph.Engine.next). ToolDirectAnswer still needs the
// LLM to produce an answer, but ToolCalculator has a deterministic backend
// of its own: this node calls it directly rather than asking the LLM to do
// arithmetic.
type Generator struct {
	Model model.ChatModel
	Tools *tool.Registry
}

func NewGenerator(m model.ChatModel, tools *tool.Registry) *Generator {
	return &Generator{Model: m, Tools: tools}
}

func (g *Generator) Run(ctx context.Context, state domain.AgentState) graph.NodeResult {
	if state.RoutingDecision.Tool == domain.ToolCalculator {
		return g.runCalculator(ctx, state)
	}

	messages := []model.Message{
		{Role: model.RoleSystem, Content: "You are the answer-drafting stage of a question-answering pipeline. " +
			"Write a direct, well-supported answer using only the provided evidence. " +
			"Cite evidence by its 1-based index in square brackets, e.g. [1]."},
		{Role: model.RoleUser, Content: generatorPrompt(state)},
	}

	out, err := g.Model.Chat(ctx, messages, nil)
	if err != nil {
		return graph.NodeResult{Err: nodeError(graph.NodeGenerator, err, true)}
	}

	return graph.NodeResult{
		Delta: domain.AgentState{
			DraftAnswer: out.Text,
			Citations:   extractCitations(out.Text, len(state.RetrievedContext)),
		},
	}
}

// runCalculator evaluates state.Query through the calculator tool and
// drafts an answer from its result directly, with no LLM round trip.
func (g *Generator) runCalculator(ctx context.Context, state domain.AgentState) graph.NodeResult {
	if g.Tools == nil {
		return graph.NodeResult{Err: nodeError(graph.NodeGenerator, fmt.Errorf("generator: no tool registry configured for calculator routing"), false)}
	}

	calc, err := g.Tools.Get(domain.ToolCalculator)
	if err != nil {
		return graph.NodeResult{Err: nodeError(graph.NodeGenerator, err, false)}
	}

	// An everyday phrasing the router accepted ("15% of 1500", "12 plus 7")
	// is rewritten into an expression the calculator can parse.
	expr := state.Query
	if phrase := naturalArithmeticPattern.FindString(expr); phrase != "" {
		expr = strings.NewReplacer(
			"%", "/100*", " percent", "/100*", "percent", "/100*", " of ", " ", "of", "",
			"multiplied by", "*", "divided by", "/", "plus", "+", "minus", "-", "times", "*",
		).Replace(strings.ToLower(phrase))
	}

	evidence, err := calc.Call(ctx, expr, "")
	if err != nil {
		return graph.NodeResult{Err: nodeError(graph.NodeGenerator, err, false)}
	}

	answer := "I couldn't compute a result for that expression."
	if len(evidence) > 0 {
		answer = evidence[0].Text
	}

	return graph.NodeResult{
		Delta: domain.AgentState{
			RetrievedContext: evidence,
			DraftAnswer:      answer,
		},
	}
}

func generatorPrompt(state domain.AgentState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\n", state.Query)

	if len(state.RetrievedContext) > 0 {
		b.WriteString("Evidence:\n")
		for i, ev := range state.RetrievedContext {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, ev.Source, ev.Text)
		}
		b.WriteString("\n")
	}

	if state.RevisionCount > 0 && state.Critique.Instructions != "" {
		fmt.Fprintf(&b, "Your previous draft needed revision: %s\n", state.Critique.Instructions)
		fmt.Fprintf(&b, "Previous draft:\n%s\n\n", state.DraftAnswer)
	}

	b.WriteString("Write the answer now.")
	return b.String()
}

// extractCitations returns the evidence indices (1-based, as written by
// the model) referenced in text, deduplicated and bounded to the number
// of evidence items actually available.
func extractCitations(text string, evidenceCount int) []int {
	if evidenceCount == 0 {
		return nil
	}
	seen := make(map[int]bool)
	var out []int
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		j := strings.IndexByte(text[i:], ']')
		if j < 0 {
			continue
		}
		numStr := text[i+1 : i+j]
		var n int
		if _, err := fmt.Sscanf(numStr, "%d", &n); err != nil {
			continue
		}
		if n >= 1 && n <= evidenceCount && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
