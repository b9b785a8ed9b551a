package nodes

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelhq/qaflow/internal/apperrors"
	"github.com/kestrelhq/qaflow/internal/domain"
	"github.com/kestrelhq/qaflow/internal/model"
)

func TestCriticApprovedLeavesRevisionCountUnchanged(t *testing.T) {
	m := &model.MockChatModel{Responses: []model.ChatOut{{Text: `{"verdict": "approved"}`}}}
	c := NewCritic(m)

	result := c.Run(context.Background(), domain.AgentState{DraftAnswer: "x", RevisionCount: 1})

	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Delta.Critique.Verdict != domain.VerdictApproved {
		t.Errorf("expected approved, got %q", result.Delta.Critique.Verdict)
	}
	if result.Delta.RevisionCount != 0 {
		t.Errorf("approved verdict should not bump revision_count, got %d", result.Delta.RevisionCount)
	}
}

func TestCriticNeedsRevisionLeavesRevisionCountToTheEngine(t *testing.T) {
	// The critic only reports a verdict; only the engine knows MaxRevisions
	// and therefore owns the decision to bump revision_count or trip
	// BudgetExceeded (see graph.Engine.Run).
	m := &model.MockChatModel{Responses: []model.ChatOut{
		{Text: `{"verdict": "needs_revision", "instructions": "add a source"}`},
	}}
	c := NewCritic(m)

	result := c.Run(context.Background(), domain.AgentState{DraftAnswer: "x", RevisionCount: 1})

	if result.Delta.RevisionCount != 0 {
		t.Errorf("expected the critic to leave revision_count unset, got %d", result.Delta.RevisionCount)
	}
	if result.Delta.Critique.Verdict != domain.VerdictNeedsRevision {
		t.Errorf("expected needs_revision verdict, got %q", result.Delta.Critique.Verdict)
	}
	if result.Delta.Critique.Instructions != "add a source" {
		t.Errorf("unexpected instructions: %q", result.Delta.Critique.Instructions)
	}
}

func TestCriticRejectedReturnsCriticRejectionError(t *testing.T) {
	m := &model.MockChatModel{Responses: []model.ChatOut{
		{Text: `{"verdict": "rejected", "reasons": ["unsafe content"]}`},
	}}
	c := NewCritic(m)

	result := c.Run(context.Background(), domain.AgentState{DraftAnswer: "x"})

	var rejection *apperrors.CriticRejection
	if !errors.As(result.Err, &rejection) {
		t.Fatalf("expected a CriticRejection, got %v", result.Err)
	}
	if result.Delta.RevisionCount != 0 {
		t.Errorf("rejected verdict should not bump revision_count, got %d", result.Delta.RevisionCount)
	}
}

func TestCriticDefaultsToApprovedWhenModelOmitsVerdict(t *testing.T) {
	m := &model.MockChatModel{Responses: []model.ChatOut{{Text: `{}`}}}
	c := NewCritic(m)

	result := c.Run(context.Background(), domain.AgentState{DraftAnswer: "x"})

	if result.Delta.Critique.Verdict != domain.VerdictApproved {
		t.Errorf("expected default approved verdict, got %q", result.Delta.Critique.Verdict)
	}
}
