package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/askdoc/internal/clauses"
	"github.com/mohammad-safakhou/askdoc/internal/helpers"
	"github.com/mohammad-safakhou/askdoc/internal/ingest"
	"github.com/mohammad-safakhou/askdoc/internal/llm"
	"github.com/mohammad-safakhou/askdoc/internal/telemetry"
	"github.com/mohammad-safakhou/askdoc/internal/vectorindex"
)

// Searcher is the retrieval surface tools depend on.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]ingest.Chunk, error)
	SearchScored(ctx context.Context, query string, k int) ([]vectorindex.ScoredChunk, error)
}

// Tool is one retrieval strategy the agent can invoke. Invoke never fails:
// internal errors are converted to textual observations so a broken tool
// cannot abort a question.
type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, query string) string
}

// Router holds the closed tool set and resolves actions by name.
type Router struct {
	tools []Tool
}

// NewRouter wires the three retrieval tools. matcher may be nil when no
// clause index was built for the document.
func NewRouter(searcher Searcher, provider llm.Provider, matcher *clauses.Matcher) *Router {
	logger := log.New(log.Writer(), "[AGENT] ", log.LstdFlags)
	return &Router{tools: []Tool{
		&semanticSearchTool{searcher: searcher, provider: provider, logger: logger},
		&tabularDataTool{searcher: searcher, provider: provider, logger: logger},
		&exclusionsTool{searcher: searcher, matcher: matcher, logger: logger},
	}}
}

// Tools returns the tool set in a stable order.
func (r *Router) Tools() []Tool { return r.tools }

// Lookup resolves a tool by name.
func (r *Router) Lookup(name string) (Tool, bool) {
	for _, t := range r.tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// semanticSearchTool is the general-purpose search. It first attempts a
// one-shot geographic entity expansion; expansion is strictly best-effort
// and any failure keeps the original query.
type semanticSearchTool struct {
	searcher Searcher
	provider llm.Provider
	logger   *log.Logger
}

func (t *semanticSearchTool) Name() string { return "general_semantic_search" }

func (t *semanticSearchTool) Description() string {
	return "Use this as a general-purpose search for any information that doesn't fit the other specialized tools, especially for finding contact details or addresses."
}

func (t *semanticSearchTool) Invoke(ctx context.Context, query string) string {
	telemetry.ToolInvocations.WithLabelValues(t.Name()).Inc()

	expanded := t.expandEntities(ctx, query)
	results, err := t.searcher.SearchScored(ctx, expanded, 5)
	if err != nil {
		telemetry.ToolFailures.WithLabelValues(t.Name()).Inc()
		t.logger.Printf("semantic search failed: %v", err)
		return fmt.Sprintf("An error occurred during the search: %v", err)
	}
	if len(results) == 0 {
		return "No relevant information found in the document for this query."
	}

	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("Result %d (Relevance: %.2f):\n%s", i+1, r.Score, r.Chunk.Text)
	}
	return strings.Join(blocks, "\n---\n")
}

const entityExpansionPrompt = `You are a query analysis assistant. Look at the following search query and identify if there is a geographic location (like a state or city). If there is, respond with a JSON object listing that location and its primary city. If not, respond with an empty list.
Example 1: "Insurance Ombudsman in Gujarat" -> {"entities": ["Gujarat", "Ahmedabad"]}
Example 2: "Maternity benefits" -> {"entities": []}
Respond with only the JSON object.

Query: "%s"`

// expandEntities rewrites a location-bearing query to OR-match the location
// and its primary city, widening recall. Returns the query unchanged on any
// failure.
func (t *semanticSearchTool) expandEntities(ctx context.Context, query string) string {
	raw, err := t.provider.Generate(ctx, fmt.Sprintf(entityExpansionPrompt, query))
	if err != nil {
		t.logger.Printf("entity expansion skipped: %v", err)
		return query
	}
	payload, err := helpers.ExtractJSON(raw)
	if err != nil {
		t.logger.Printf("entity expansion skipped: %v", err)
		return query
	}
	var parsed struct {
		Entities []string `json:"entities"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil || len(parsed.Entities) == 0 {
		return query
	}

	terms := make([]string, len(parsed.Entities))
	for i, e := range parsed.Entities {
		terms[i] = fmt.Sprintf("%q", e)
	}
	base := strings.TrimSpace(strings.Replace(query, parsed.Entities[0], "", 1))
	expanded := fmt.Sprintf("%s (%s)", base, strings.Join(terms, " OR "))
	t.logger.Printf("expanded search query to: %q", expanded)
	return expanded
}

// tabularDataTool biases retrieval toward tables and answers strictly from
// the retrieved table text.
type tabularDataTool struct {
	searcher Searcher
	provider llm.Provider
	logger   *log.Logger
}

func (t *tabularDataTool) Name() string { return "query_tabular_data" }

func (t *tabularDataTool) Description() string {
	return "Use this for questions about specific plan details, co-payments, coverage limits, or other data likely found in tables."
}

const tableAnswerPrompt = `You are a data analyst. Your task is to answer the user's question based only on the following table data.
If the answer is not in the table, state that clearly.

Table Data:
%s

Question: %s

Answer:`

func (t *tabularDataTool) Invoke(ctx context.Context, query string) string {
	telemetry.ToolInvocations.WithLabelValues(t.Name()).Inc()

	chunks, err := t.searcher.Search(ctx, "table of benefits schedule policy "+query, 3)
	if err != nil {
		telemetry.ToolFailures.WithLabelValues(t.Name()).Inc()
		t.logger.Printf("tabular search failed: %v", err)
		return "An error occurred while querying tabular data."
	}
	if len(chunks) == 0 {
		return "Could not find any relevant tables in the document to answer this question."
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	answer, err := t.provider.Generate(ctx, fmt.Sprintf(tableAnswerPrompt, strings.Join(texts, "\n---\n"), query))
	if err != nil {
		telemetry.ToolFailures.WithLabelValues(t.Name()).Inc()
		t.logger.Printf("tabular answer failed: %v", err)
		return "An error occurred while querying tabular data."
	}
	return strings.TrimSpace(answer)
}

// exclusionsTool biases retrieval toward exclusion and limitation language
// and returns the retrieved passages verbatim. Absence of a match is
// reported with an explicit disclaimer so it is never read as coverage.
type exclusionsTool struct {
	searcher Searcher
	matcher  *clauses.Matcher
	logger   *log.Logger
}

func (t *exclusionsTool) Name() string { return "find_policy_exclusions" }

func (t *exclusionsTool) Description() string {
	return "Use this to check if a specific item, service, or condition is explicitly NOT covered or has limitations. Best for questions like 'Is X covered?'."
}

func (t *exclusionsTool) Invoke(ctx context.Context, query string) string {
	telemetry.ToolInvocations.WithLabelValues(t.Name()).Inc()

	var blocks []string
	if t.matcher != nil {
		if ref, ok := clauses.Reference(query); ok {
			hits, err := t.matcher.Find(ref, 3)
			if err != nil {
				t.logger.Printf("clause lookup failed: %v", err)
			}
			for _, h := range hits {
				blocks = append(blocks, fmt.Sprintf("Clause match (%s):\n%s", ref, h.Text))
			}
		}
	}

	augmented := query + ` exclusion "not covered" limitation "items of personal comfort" "annexure ii"`
	results, err := t.searcher.SearchScored(ctx, augmented, 5)
	if err != nil {
		telemetry.ToolFailures.WithLabelValues(t.Name()).Inc()
		t.logger.Printf("exclusion search failed: %v", err)
		return "An error occurred while searching for exclusions."
	}
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("Result (Relevance: %.2f):\n%s", r.Score, r.Chunk.Text))
	}
	if len(blocks) == 0 {
		return fmt.Sprintf("No specific exclusions or limitations regarding '%s' were found. This does not guarantee coverage.", query)
	}
	return strings.Join(blocks, "\n---\n")
}
