package nodes

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/kestrelhq/qaflow/internal/domain"
	"github.com/kestrelhq/qaflow/internal/graph"
	"github.com/kestrelhq/qaflow/internal/model"
	"github.com/kestrelhq/qaflow/internal/tool"
)

var arithmeticPattern = regexp.MustCompile(`^[\s0-9+\-*/().%]+$`)

// naturalArithmeticPattern catches everyday phrasings of arithmetic that the
// strict symbolic pattern above misses because they contain letters, e.g.
// "What is 15% of 1500?" or "what's 12 plus 7". It drives routing, and the
// generator reuses it to pull the arithmetic phrase out of the query and
// rewrite it as an expression for the calculator tool (no model call).
var naturalArithmeticPattern = regexp.MustCompile(
	`(?i)\d+(\.\d+)?\s*(%|percent)\s*of\s*\d+(\.\d+)?|` +
		`\d+(\.\d+)?\s*(plus|minus|times|multiplied by|divided by)\s*\d+(\.\d+)?`,
)

// Router selects a routing_decision from (query, summary, recent history).
// Cheap, deterministic priority rules run first (explicit URL, arithmetic
// expression, explicit translation intent); anything left ambiguous falls
// to the LLM, which defaults to direct_answer on low confidence.
type Router struct {
	Model    model.ChatModel
	Tools    *tool.Registry
	KeepLast int
}

func NewRouter(m model.ChatModel, tools *tool.Registry, keepLast int) *Router {
	return &Router{Model: m, Tools: tools, KeepLast: keepLast}
}

func (r *Router) Run(ctx context.Context, state domain.AgentState) graph.NodeResult {
	if target, ok := explicitURL(state.Query); ok {
		return decision(domain.ToolTargetedCrawl, "query names an explicit URL to fetch", target)
	}
	if looksArithmetic(state.Query) {
		return decision(domain.ToolCalculator, "query is a bare arithmetic expression", "")
	}
	if looksLikeTranslationRequest(state.Query) {
		return decision(domain.ToolTranslate, "query explicitly asks for translation", "")
	}
	if looksLikeDocumentLookup(state.Query) && r.configured(domain.ToolInternalRetrieval) {
		return decision(domain.ToolInternalRetrieval, "query references a document/title best served by internal retrieval", "")
	}

	var out struct {
		Tool      domain.ToolKind `json:"tool"`
		Reasoning string          `json:"reasoning"`
	}

	messages := []model.Message{
		{Role: model.RoleSystem, Content: routerSystemPrompt(r.Tools)},
		{Role: model.RoleUser, Content: routerUserPrompt(state, r.KeepLast)},
	}

	if err := askJSON(ctx, r.Model, messages, &out); err != nil {
		return graph.NodeResult{Err: nodeError(graph.NodeRouter, err, true)}
	}

	if out.Tool == "" || !r.configured(out.Tool) {
		return decision(domain.ToolDirectAnswer, "insufficient confidence to select a tool", "")
	}
	return decision(out.Tool, out.Reasoning, "")
}

func (r *Router) configured(kind domain.ToolKind) bool {
	switch kind {
	case domain.ToolCalculator, domain.ToolTargetedCrawl, domain.ToolTranslate, domain.ToolDirectAnswer:
		return true
	}
	if r.Tools == nil {
		return false
	}
	return r.Tools.Configured()[kind]
}

func decision(kind domain.ToolKind, reasoning, target string) graph.NodeResult {
	return graph.NodeResult{
		Delta: domain.AgentState{
			RoutingDecision: domain.RoutingDecision{Tool: kind, Reasoning: reasoning, Target: target},
		},
	}
}

func explicitURL(query string) (string, bool) {
	for _, field := range strings.Fields(query) {
		u, err := url.ParseRequestURI(field)
		if err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
			return field, true
		}
	}
	return "", false
}

func looksArithmetic(query string) bool {
	q := strings.TrimSpace(query)
	if q == "" {
		return false
	}
	if arithmeticPattern.MatchString(q) && strings.ContainsAny(q, "+-*/%") {
		return true
	}
	return naturalArithmeticPattern.MatchString(q)
}

func looksLikeTranslationRequest(query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(q, "translate") || strings.Contains(q, "in french") ||
		strings.Contains(q, "in spanish") || strings.Contains(q, "into ")
}

func looksLikeDocumentLookup(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range []string{"according to", "in the document", "chapter", "book titled", "per the manual"} {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

func routerSystemPrompt(tools *tool.Registry) string {
	configured := map[domain.ToolKind]bool{}
	if tools != nil {
		configured = tools.Configured()
	}
	return fmt.Sprintf(`You are the routing stage of a question-answering pipeline. Choose exactly one tool
for the given query and respond with JSON only: {"tool": "<kind>", "reasoning": "<one sentence>"}.

Valid kinds: web_search, internal_retrieval, translate, direct_answer (always available);
targeted_crawl and calculator are handled before you see this prompt.
web_search is configured: %v. internal_retrieval is configured: %v.
Prefer internal_retrieval for document or book-title lookups. Choose direct_answer when no
tool is clearly needed or your confidence is low.`,
		configured[domain.ToolWebSearch], configured[domain.ToolInternalRetrieval])
}

func routerUserPrompt(state domain.AgentState, keepLast int) string {
	var b strings.Builder
	if state.Summary != "" {
		b.WriteString("Conversation summary: ")
		b.WriteString(state.Summary)
		b.WriteString("\n\n")
	}
	if recent := recentMessages(state.ChatHistory, keepLast); len(recent) > 0 {
		b.WriteString("Recent turns:\n")
		for _, m := range recent {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Query: %s", state.Query)
	return b.String()
}
