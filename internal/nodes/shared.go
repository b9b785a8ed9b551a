// Package nodes implements the eight fixed graph.Node stages: router,
// planner, retrieval, generator, critic, translator, summarize, finalize.
// Each is a small struct holding a model.ChatModel and/or a tool.Registry,
// built by its own constructor, whose Run method satisfies graph.Node —
// small, independently testable units wired together by the engine.
package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kestrelhq/qaflow/internal/apperrors"
	"github.com/kestrelhq/qaflow/internal/domain"
	"github.com/kestrelhq/qaflow/internal/graph"
	"github.com/kestrelhq/qaflow/internal/model"
)

// askJSON sends messages to m and decodes the response text as JSON into
// out. Every structured node (router, planner, critic) uses this instead
// of hand-parsing free text, since every provider adapter returns plain
// text on ChatOut.Text.
func askJSON(ctx context.Context, m model.ChatModel, messages []model.Message, out interface{}) error {
	result, err := m.Chat(ctx, messages, nil)
	if err != nil {
		return err
	}

	text := extractJSON(result.Text)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("nodes: decoding model response: %w", err)
	}
	return nil
}

// extractJSON strips a ```json fenced block if present, otherwise returns
// the text unchanged. Models frequently wrap structured responses in
// markdown fences despite being asked not to.
func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// nodeError wraps err as a retryable or fatal apperrors.NodeError for a
// NodeResult.Err field.
func nodeError(id graph.NodeID, err error, retryable bool) error {
	return &apperrors.NodeError{
		NodeID:    string(id),
		Stage:     string(id),
		Message:   err.Error(),
		Retryable: retryable,
	}
}

// recentMessages returns up to n of the most recent chat messages, oldest
// first, for nodes that only need short-term context rather than the full
// history.
func recentMessages(history []domain.Message, n int) []domain.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func toModelMessages(history []domain.Message) []model.Message {
	out := make([]model.Message, len(history))
	for i, m := range history {
		role := model.RoleUser
		if m.Role == domain.RoleAssistant {
			role = model.RoleAssistant
		}
		out[i] = model.Message{Role: role, Content: m.Content}
	}
	return out
}
