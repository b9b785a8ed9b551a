package nodes

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelhq/qaflow/internal/apperrors"
	"github.com/kestrelhq/qaflow/internal/domain"
	"github.com/kestrelhq/qaflow/internal/model"
)

func TestTranslatorSkipsModelWhenTargetMatchesBaseLanguage(t *testing.T) {
	m := &model.MockChatModel{}
	tr := NewTranslator(m, "en")

	result := tr.Run(context.Background(), domain.AgentState{DraftAnswer: "hello", TargetLanguage: "en-US"})

	if result.Delta.FinalAnswer != "hello" {
		t.Errorf("expected identity pass-through, got %q", result.Delta.FinalAnswer)
	}
	if m.CallCount() != 0 {
		t.Error("expected no model call for a same-language target")
	}
}

func TestTranslatorSkipsModelWhenTargetUnset(t *testing.T) {
	m := &model.MockChatModel{}
	tr := NewTranslator(m, "en")

	result := tr.Run(context.Background(), domain.AgentState{DraftAnswer: "hello"})

	if result.Delta.FinalAnswer != "hello" {
		t.Errorf("expected identity pass-through, got %q", result.Delta.FinalAnswer)
	}
}

func TestTranslatorCallsModelForDifferentLanguage(t *testing.T) {
	m := &model.MockChatModel{Responses: []model.ChatOut{{Text: "bonjour"}}}
	tr := NewTranslator(m, "en")

	result := tr.Run(context.Background(), domain.AgentState{DraftAnswer: "hello", TargetLanguage: "fr"})

	if result.Delta.FinalAnswer != "bonjour" {
		t.Errorf("expected translated text, got %q", result.Delta.FinalAnswer)
	}
	if m.CallCount() != 1 {
		t.Errorf("expected exactly one model call, got %d", m.CallCount())
	}
}

func TestTranslatorModelErrorSurfacesAsRetryableNodeError(t *testing.T) {
	m := &model.MockChatModel{Err: context.DeadlineExceeded}
	tr := NewTranslator(m, "en")

	result := tr.Run(context.Background(), domain.AgentState{DraftAnswer: "hello", TargetLanguage: "fr"})

	if result.Err == nil {
		t.Fatal("expected an error")
	}
	var nodeErr *apperrors.NodeError
	if !errors.As(result.Err, &nodeErr) || !nodeErr.Retryable {
		t.Errorf("expected a retryable NodeError, got %v", result.Err)
	}
}
