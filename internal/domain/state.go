// Package domain defines the shared data model that flows through the graph
// runtime, the broker, and the persistence layer: sessions, messages,
// checkpoints, jobs, events, and the agent state itself.
package domain

import "time"

// Role identifies the sender of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a session's conversation history. Messages are
// append-only within a session except on explicit session-clear.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolKind is the closed set of tools a routing decision may select. Adding a
// tool requires a code change — this is intentional, it preserves exhaustive
// handling in the router and retrieval nodes and keeps adapter cost
// predictable.
type ToolKind string

const (
	ToolWebSearch         ToolKind = "web_search"
	ToolTargetedCrawl     ToolKind = "targeted_crawl"
	ToolInternalRetrieval ToolKind = "internal_retrieval"
	ToolCalculator        ToolKind = "calculator"
	ToolTranslate         ToolKind = "translate"
	ToolDirectAnswer      ToolKind = "direct_answer"
)

// RoutingDecision records which tool the router chose and why.
type RoutingDecision struct {
	Tool      ToolKind `json:"tool"`
	Reasoning string   `json:"reasoning"`
	Target    string   `json:"target,omitempty"` // URL, only set for targeted_crawl
}

// Evidence is a normalized unit of retrieved content, uniform across every
// tool/retriever backend.
type Evidence struct {
	Text   string   `json:"text"`
	Source string   `json:"source"`
	Score  *float64 `json:"score,omitempty"`
}

// CriticVerdict is the outcome of the critic node's review of a draft answer.
type CriticVerdict string

const (
	VerdictApproved      CriticVerdict = "approved"
	VerdictNeedsRevision CriticVerdict = "needs_revision"
	VerdictRejected      CriticVerdict = "rejected"
)

// Critique is the critic node's structured review.
type Critique struct {
	Verdict      CriticVerdict `json:"verdict"`
	Reasons      []string      `json:"reasons,omitempty"`
	Instructions string        `json:"instructions,omitempty"`
}

// StateError carries a node-level failure forward into the state so the
// runtime can decide whether to retry or terminate.
type StateError struct {
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// AgentState is the single tagged record threaded through every node of the
// graph. It is both the in-memory run state and the persisted checkpoint
// body. Node outputs are partial deltas merged into this struct by Reduce —
// never dynamic maps, so every field the graph can produce is declared here.
type AgentState struct {
	Query        string    `json:"query"`
	ChatHistory  []Message `json:"chat_history"`
	Summary      string    `json:"summary"`
	SummaryWarn  string    `json:"summary_warning,omitempty"`

	RoutingDecision RoutingDecision `json:"routing_decision"`

	Intent string   `json:"intent"`
	Plan   []string `json:"plan,omitempty"`

	RetrievedContext []Evidence `json:"retrieved_context,omitempty"`

	DraftAnswer string `json:"draft_answer"`
	Citations   []int  `json:"citations,omitempty"`

	Critique      Critique `json:"critique"`
	RevisionCount int      `json:"revision_count"`

	FinalAnswer string `json:"final_answer"`

	TargetLanguage string `json:"target_language"`

	Error *StateError `json:"error,omitempty"`
}

// Reduce merges a partial state update (delta) into the accumulated state
// (prev). It is deterministic and field-wise: a zero-valued field in delta
// means "unchanged", a non-zero one means "replace" (or, for RevisionCount,
// "take the higher value" since nodes only ever increment it).
func Reduce(prev, delta AgentState) AgentState {
	if delta.Query != "" {
		prev.Query = delta.Query
	}
	if delta.ChatHistory != nil {
		prev.ChatHistory = delta.ChatHistory
	}
	if delta.Summary != "" {
		prev.Summary = delta.Summary
	}
	if delta.SummaryWarn != "" {
		prev.SummaryWarn = delta.SummaryWarn
	}
	if delta.RoutingDecision.Tool != "" {
		prev.RoutingDecision = delta.RoutingDecision
	}
	if delta.Intent != "" {
		prev.Intent = delta.Intent
	}
	if delta.Plan != nil {
		prev.Plan = delta.Plan
	}
	if delta.RetrievedContext != nil {
		prev.RetrievedContext = delta.RetrievedContext
	}
	if delta.DraftAnswer != "" {
		prev.DraftAnswer = delta.DraftAnswer
	}
	if delta.Citations != nil {
		prev.Citations = delta.Citations
	}
	if delta.Critique.Verdict != "" {
		prev.Critique = delta.Critique
	}
	if delta.RevisionCount > prev.RevisionCount {
		prev.RevisionCount = delta.RevisionCount
	}
	if delta.FinalAnswer != "" {
		prev.FinalAnswer = delta.FinalAnswer
	}
	if delta.TargetLanguage != "" {
		prev.TargetLanguage = delta.TargetLanguage
	}
	if delta.Error != nil {
		prev.Error = delta.Error
	}
	return prev
}

// Diff returns the subset of fields in next that differ from prev, suitable
// for the state_delta event payload (only changed fields).
func Diff(prev, next AgentState) AgentState {
	var d AgentState
	if next.Query != prev.Query {
		d.Query = next.Query
	}
	if len(next.ChatHistory) != len(prev.ChatHistory) {
		d.ChatHistory = next.ChatHistory
	}
	if next.Summary != prev.Summary {
		d.Summary = next.Summary
	}
	if next.SummaryWarn != prev.SummaryWarn {
		d.SummaryWarn = next.SummaryWarn
	}
	if next.RoutingDecision != prev.RoutingDecision {
		d.RoutingDecision = next.RoutingDecision
	}
	if next.Intent != prev.Intent {
		d.Intent = next.Intent
	}
	if !stringsEqual(next.Plan, prev.Plan) {
		d.Plan = next.Plan
	}
	if len(next.RetrievedContext) != len(prev.RetrievedContext) {
		d.RetrievedContext = next.RetrievedContext
	}
	if next.DraftAnswer != prev.DraftAnswer {
		d.DraftAnswer = next.DraftAnswer
	}
	if !intsEqual(next.Citations, prev.Citations) {
		d.Citations = next.Citations
	}
	if !critiqueEqual(next.Critique, prev.Critique) {
		d.Critique = next.Critique
	}
	if next.RevisionCount != prev.RevisionCount {
		d.RevisionCount = next.RevisionCount
	}
	if next.FinalAnswer != prev.FinalAnswer {
		d.FinalAnswer = next.FinalAnswer
	}
	if next.TargetLanguage != prev.TargetLanguage {
		d.TargetLanguage = next.TargetLanguage
	}
	if next.Error != prev.Error {
		d.Error = next.Error
	}
	return d
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func critiqueEqual(a, b Critique) bool {
	return a.Verdict == b.Verdict && a.Instructions == b.Instructions && stringsEqual(a.Reasons, b.Reasons)
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
