// Package summarize implements standard and hierarchical conversation
// summarization: a pure function over []domain.Message that calls an
// injected model.ChatModel, plus BacklogWorker, a periodic consistency
// sweep that catches sessions whose summary has drifted stale (see
// backlog.go doc comment).
package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrelhq/qaflow/internal/domain"
	"github.com/kestrelhq/qaflow/internal/model"
)

// Config holds the thresholds governing when and how summarization runs.
type Config struct {
	StandardThreshold     int // summarize once len(history) >= this (10)
	HierarchicalThreshold int // switch to hierarchical mode at this length (100)
	ChunkSize             int // messages per chunk in hierarchical mode (20)
	KeepRecentMessages    int // trailing messages excluded from compression (4)
	SummaryCharCap        int // hard cap on the final summary string (4096)
}

// Summarizer produces a fresh summary for a session's history, calling
// back into model.ChatModel. A failure here is non-fatal to the run:
// callers should record the error as AgentState.SummaryWarn and keep the
// prior summary rather than failing the whole request.
type Summarizer struct {
	Model model.ChatModel
	Cfg   Config
	// onChunkSummary, if set, is invoked once per produced chunk summary.
	// Used only by tests to observe the hierarchical production trace.
	onChunkSummary func(chunkSummary string)
}

func NewSummarizer(m model.ChatModel, cfg Config) *Summarizer {
	applyDefaults(&cfg)
	return &Summarizer{Model: m, Cfg: cfg}
}

func applyDefaults(cfg *Config) {
	if cfg.StandardThreshold <= 0 {
		cfg.StandardThreshold = 10
	}
	if cfg.HierarchicalThreshold <= 0 {
		cfg.HierarchicalThreshold = 100
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 20
	}
	if cfg.KeepRecentMessages <= 0 {
		cfg.KeepRecentMessages = 4
	}
	if cfg.SummaryCharCap <= 0 {
		cfg.SummaryCharCap = 4096
	}
}

// Summarize returns a new summary string for history given priorSummary,
// or ("", nil) when history is too short to warrant summarization.
func (s *Summarizer) Summarize(ctx context.Context, history []domain.Message, priorSummary string) (string, error) {
	if len(history) < s.Cfg.StandardThreshold {
		return "", nil
	}

	keep := s.Cfg.KeepRecentMessages
	if keep > len(history) {
		keep = len(history)
	}
	prefix := history[:len(history)-keep]

	var summary string
	var err error
	if len(history) >= s.Cfg.HierarchicalThreshold {
		summary, err = s.hierarchical(ctx, prefix, priorSummary)
	} else {
		summary, err = s.standard(ctx, prefix, priorSummary)
	}
	if err != nil {
		return "", err
	}

	return truncate(summary, s.Cfg.SummaryCharCap), nil
}

// standard summarizes prefix in a single call, folding in priorSummary.
func (s *Summarizer) standard(ctx context.Context, prefix []domain.Message, priorSummary string) (string, error) {
	return s.summarizeChunk(ctx, prefix, priorSummary)
}

// hierarchical partitions prefix into Cfg.ChunkSize chunks, summarizes
// each independently, then folds the chunk summaries and priorSummary
// into one meta-summary.
func (s *Summarizer) hierarchical(ctx context.Context, prefix []domain.Message, priorSummary string) (string, error) {
	chunkSummaries := make([]string, 0, (len(prefix)/s.Cfg.ChunkSize)+1)

	for start := 0; start < len(prefix); start += s.Cfg.ChunkSize {
		end := start + s.Cfg.ChunkSize
		if end > len(prefix) {
			end = len(prefix)
		}
		chunkSummary, err := s.summarizeChunk(ctx, prefix[start:end], "")
		if err != nil {
			return "", fmt.Errorf("summarize: chunk [%d:%d]: %w", start, end, err)
		}
		chunkSummaries = append(chunkSummaries, chunkSummary)
		if s.onChunkSummary != nil {
			s.onChunkSummary(chunkSummary)
		}
	}

	return s.summarizeMeta(ctx, chunkSummaries, priorSummary)
}

func (s *Summarizer) summarizeChunk(ctx context.Context, messages []domain.Message, priorSummary string) (string, error) {
	var b strings.Builder
	if priorSummary != "" {
		b.WriteString("Prior summary: ")
		b.WriteString(priorSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("Conversation to summarize:\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	out, err := s.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: "Summarize the conversation concisely, preserving facts, decisions, " +
			"and open questions. Incorporate the prior summary if given. Respond with the summary text only."},
		{Role: model.RoleUser, Content: b.String()},
	}, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}

func (s *Summarizer) summarizeMeta(ctx context.Context, chunkSummaries []string, priorSummary string) (string, error) {
	var b strings.Builder
	if priorSummary != "" {
		b.WriteString("Prior summary: ")
		b.WriteString(priorSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("Chunk summaries, in order:\n")
	for i, cs := range chunkSummaries {
		fmt.Fprintf(&b, "%d. %s\n", i+1, cs)
	}

	out, err := s.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: "Combine these chunk summaries (and the prior summary, if given) into " +
			"one coherent meta-summary. Respond with the summary text only."},
		{Role: model.RoleUser, Content: b.String()},
	}, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
