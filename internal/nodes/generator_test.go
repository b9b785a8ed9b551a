package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kestrelhq/qaflow/internal/apperrors"
	"github.com/kestrelhq/qaflow/internal/domain"
	"github.com/kestrelhq/qaflow/internal/model"
	"github.com/kestrelhq/qaflow/internal/tool"
)

func TestGeneratorExtractsCitationsWithinBounds(t *testing.T) {
	m := &model.MockChatModel{Responses: []model.ChatOut{
		{Text: "Paris is the capital of France [1]. It is also a major hub [2][2][9]."},
	}}
	g := NewGenerator(m, nil)

	result := g.Run(context.Background(), domain.AgentState{
		Query:            "what is the capital of France",
		RetrievedContext: []domain.Evidence{{Text: "fact 1"}, {Text: "fact 2"}},
	})

	if result.Delta.DraftAnswer == "" {
		t.Fatal("expected draft answer set")
	}
	if len(result.Delta.Citations) != 2 || result.Delta.Citations[0] != 1 || result.Delta.Citations[1] != 2 {
		t.Errorf("expected citations [1 2] deduplicated and bounded, got %+v", result.Delta.Citations)
	}
}

func TestGeneratorNoEvidenceYieldsNoCitations(t *testing.T) {
	m := &model.MockChatModel{Responses: []model.ChatOut{{Text: "Some answer [1]."}}}
	g := NewGenerator(m, nil)

	result := g.Run(context.Background(), domain.AgentState{Query: "q"})

	if result.Delta.Citations != nil {
		t.Errorf("expected no citations when there is no retrieved context, got %+v", result.Delta.Citations)
	}
}

func TestGeneratorFoldsRevisionInstructionsIntoPrompt(t *testing.T) {
	m := &model.MockChatModel{Responses: []model.ChatOut{{Text: "revised answer"}}}
	g := NewGenerator(m, nil)

	g.Run(context.Background(), domain.AgentState{
		Query:         "q",
		DraftAnswer:   "old draft",
		RevisionCount: 1,
		Critique:      domain.Critique{Instructions: "cite your sources"},
	})

	if len(m.Calls) != 1 {
		t.Fatalf("expected one model call, got %d", len(m.Calls))
	}
	prompt := m.Calls[0].Messages[1].Content
	if !strings.Contains(prompt, "cite your sources") || !strings.Contains(prompt, "old draft") {
		t.Errorf("expected revision instructions and previous draft folded into the prompt, got %q", prompt)
	}
}

func TestGeneratorModelErrorSurfacesAsRetryableNodeError(t *testing.T) {
	m := &model.MockChatModel{Err: context.DeadlineExceeded}
	g := NewGenerator(m, nil)

	result := g.Run(context.Background(), domain.AgentState{Query: "q"})

	if result.Err == nil {
		t.Fatal("expected an error")
	}
	var nodeErr *apperrors.NodeError
	if !errors.As(result.Err, &nodeErr) || !nodeErr.Retryable {
		t.Errorf("expected a retryable NodeError, got %v", result.Err)
	}
}

func TestGeneratorCalculatorRoutingBypassesModel(t *testing.T) {
	m := &model.MockChatModel{Err: fmt.Errorf("model should not be called for calculator routing")}
	g := NewGenerator(m, tool.NewRegistry(tool.NewCalculator()))

	result := g.Run(context.Background(), domain.AgentState{
		Query:           "1500 * 0.15",
		RoutingDecision: domain.RoutingDecision{Tool: domain.ToolCalculator},
	})

	if result.Err != nil {
		t.Fatalf("expected no error, got %v", result.Err)
	}
	if !strings.Contains(result.Delta.DraftAnswer, "225") {
		t.Errorf("expected draft answer to contain the computed result 225, got %q", result.Delta.DraftAnswer)
	}
	if len(m.Calls) != 0 {
		t.Errorf("expected the LLM to never be called for calculator routing, got %d calls", len(m.Calls))
	}
}

func TestGeneratorCalculatorRoutingWithoutRegistryIsNonRetryableError(t *testing.T) {
	g := NewGenerator(&model.MockChatModel{}, nil)

	result := g.Run(context.Background(), domain.AgentState{
		Query:           "2+2",
		RoutingDecision: domain.RoutingDecision{Tool: domain.ToolCalculator},
	})

	if result.Err == nil {
		t.Fatal("expected an error when no tool registry is configured")
	}
	var nodeErr *apperrors.NodeError
	if !errors.As(result.Err, &nodeErr) || nodeErr.Retryable {
		t.Errorf("expected a non-retryable NodeError, got %v", result.Err)
	}
}
