package clauses

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/askdoc/internal/ingest"
)

// clauseRefPattern recognises explicit clause or section references such as
// "Clause 4.2", "section 7" or "annexure ii" inside a query.
var clauseRefPattern = regexp.MustCompile(`(?i)\b(clause|section|annexure|article)\s+([0-9]+(?:\.[0-9]+)*|[ivxlc]+)\b`)

// Reference extracts the first explicit clause/section reference from a
// query, returning the normalized phrase ("clause 4.2") and whether one
// was found.
func Reference(query string) (string, bool) {
	m := clauseRefPattern.FindStringSubmatch(query)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1] + " " + m[2]), true
}

// Matcher is an in-memory full-text index over one ingestion's chunk set,
// used to answer exact clause/section lookups that embedding similarity
// tends to blur. It lives and dies with the request.
type Matcher struct {
	index  bleve.Index
	chunks map[string]ingest.Chunk
}

type indexedChunk struct {
	Text    string `json:"text"`
	Section string `json:"section"`
}

// NewMatcher builds the index over the given chunks.
func NewMatcher(chunks []ingest.Chunk) (*Matcher, error) {
	mapping := bleve.NewIndexMapping()
	index, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("creating clause index: %w", err)
	}

	m := &Matcher{index: index, chunks: make(map[string]ingest.Chunk, len(chunks))}
	batch := index.NewBatch()
	for i, ch := range chunks {
		id := strconv.Itoa(i)
		m.chunks[id] = ch
		if err := batch.Index(id, indexedChunk{Text: ch.Text, Section: ch.Metadata.Section}); err != nil {
			return nil, fmt.Errorf("indexing chunk %d: %w", i, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("populating clause index: %w", err)
	}
	return m, nil
}

// Find returns up to limit chunks containing the referenced clause, best
// matches first. An empty result means the reference does not appear
// verbatim in the document.
func (m *Matcher) Find(ref string, limit int) ([]ingest.Chunk, error) {
	if limit <= 0 {
		limit = 3
	}
	query := bleve.NewMatchPhraseQuery(ref)
	req := bleve.NewSearchRequest(query)
	req.Size = limit

	res, err := m.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("clause search: %w", err)
	}

	var out []ingest.Chunk
	for _, hit := range res.Hits {
		if ch, ok := m.chunks[hit.ID]; ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

// Close releases the in-memory index.
func (m *Matcher) Close() error {
	return m.index.Close()
}
