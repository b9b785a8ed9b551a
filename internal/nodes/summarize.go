package nodes

import (
	"context"

	"github.com/kestrelhq/qaflow/internal/domain"
	"github.com/kestrelhq/qaflow/internal/graph"
	"github.com/kestrelhq/qaflow/internal/summarize"
)

// Summarize wraps summarize.Summarizer as a graph node. A summarization
// failure is non-fatal: it is recorded as SummaryWarn and the prior
// summary is carried forward unchanged rather than failing the run.
type Summarize struct {
	Summarizer *summarize.Summarizer
}

func NewSummarize(s *summarize.Summarizer) *Summarize {
	return &Summarize{Summarizer: s}
}

func (s *Summarize) Run(ctx context.Context, state domain.AgentState) graph.NodeResult {
	newSummary, err := s.Summarizer.Summarize(ctx, state.ChatHistory, state.Summary)
	if err != nil {
		return graph.NodeResult{
			Delta: domain.AgentState{SummaryWarn: "summarization failed: " + err.Error()},
		}
	}
	if newSummary == "" {
		return graph.NodeResult{}
	}
	return graph.NodeResult{Delta: domain.AgentState{Summary: newSummary}}
}
