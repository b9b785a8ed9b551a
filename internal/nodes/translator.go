package nodes

import (
	"context"
	"fmt"

	"github.com/kestrelhq/qaflow/internal/domain"
	"github.com/kestrelhq/qaflow/internal/graph"
	"github.com/kestrelhq/qaflow/internal/model"
	"golang.org/x/text/language"
)

// Translator produces the final-language rendering of draft_answer. When
// target_language matches the base language (or is unset), it is the
// identity function and makes no model call — a no-op path through the
// node itself, not an engine-level skip of it.
type Translator struct {
	Model       model.ChatModel
	BaseLanguage string
}

func NewTranslator(m model.ChatModel, baseLanguage string) *Translator {
	if baseLanguage == "" {
		baseLanguage = "en"
	}
	return &Translator{Model: m, BaseLanguage: baseLanguage}
}

func (t *Translator) Run(ctx context.Context, state domain.AgentState) graph.NodeResult {
	target := state.TargetLanguage
	if target == "" || sameLanguage(target, t.BaseLanguage) {
		return graph.NodeResult{Delta: domain.AgentState{FinalAnswer: state.DraftAnswer}}
	}

	messages := []model.Message{
		{Role: model.RoleSystem, Content: fmt.Sprintf(
			"Translate the given text into %s. Preserve meaning, tone, and any bracketed citation markers "+
				"like [1] exactly as written. Respond with the translation only.", target)},
		{Role: model.RoleUser, Content: state.DraftAnswer},
	}

	out, err := t.Model.Chat(ctx, messages, nil)
	if err != nil {
		return graph.NodeResult{Err: nodeError(graph.NodeTranslator, err, true)}
	}

	return graph.NodeResult{Delta: domain.AgentState{FinalAnswer: out.Text}}
}

// sameLanguage compares BCP-47 tags by base language subtag, so "en-US"
// and "en" are treated as the same language.
func sameLanguage(a, b string) bool {
	tagA, errA := language.Parse(a)
	tagB, errB := language.Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}
	baseA, _ := tagA.Base()
	baseB, _ := tagB.Base()
	return baseA == baseB
}
