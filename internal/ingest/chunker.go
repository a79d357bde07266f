package ingest

import (
	"log"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Mode selects the separator priority and section handling used when
// splitting a document.
type Mode string

const (
	// ModeGeneral splits on paragraph, line, sentence, comma, space and
	// finally character boundaries.
	ModeGeneral Mode = "general"
	// ModePolicy first tries to split on detected section headers so that
	// chunks never straddle a section boundary, falling back to a
	// policy-specific separator priority.
	ModePolicy Mode = "policy"
)

const (
	// Chunks shorter than this are formatting artifacts, not content.
	minChunkChars = 50
	// Minimum ratio of non-whitespace characters for a chunk to survive.
	minContentRatio = 0.3
)

var (
	generalSeparators = []string{"\n\n", "\n", ".", "!", "?", ",", " ", ""}
	policySeparators  = []string{"\n\n", "\nSECTION", "\nClause", ".", " ", ""}
)

// Chunker splits raw documents into overlapping passages bounded by a
// character budget, annotating each with positional metadata.
type Chunker struct {
	size    int
	overlap int
	logger  *log.Logger
}

// NewChunker creates a chunker producing chunks of at most size characters
// with overlap characters shared between neighbours. overlap must be
// smaller than size.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &Chunker{
		size:    size,
		overlap: overlap,
		logger:  log.New(log.Writer(), "[CHUNKER] ", log.LstdFlags),
	}
}

// Chunk splits every document according to mode. A document that cannot be
// chunked degrades to a single raw chunk; chunking never fails a batch.
func (c *Chunker) Chunk(docs []Document, mode Mode) []Chunk {
	var all []Chunk
	for _, doc := range docs {
		all = append(all, c.chunkOne(doc, mode)...)
	}
	c.logger.Printf("created %d chunks from %d documents", len(all), len(docs))
	return all
}

func (c *Chunker) chunkOne(doc Document, mode Mode) (chunks []Chunk) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("chunking %s failed (%v), passing document through unchanged", doc.Source, r)
			chunks = []Chunk{rawChunk(doc)}
		}
	}()

	if strings.TrimSpace(doc.Text) == "" {
		return nil
	}

	var texts []string
	var sectionNames []string
	switch mode {
	case ModePolicy:
		sections := detectSections(doc.Text)
		if len(sections) >= 2 {
			for _, sec := range sections {
				parts := c.splitText(sec.body, policySeparators)
				texts = append(texts, parts...)
				for range parts {
					sectionNames = append(sectionNames, sec.name)
				}
			}
		} else {
			texts = c.splitText(doc.Text, policySeparators)
		}
	default:
		texts = c.splitText(doc.Text, generalSeparators)
	}

	kept := make([]Chunk, 0, len(texts))
	keptSections := make([]string, 0, len(texts))
	for i, text := range texts {
		if !keepChunk(text) {
			continue
		}
		kept = append(kept, Chunk{Text: text})
		if len(sectionNames) > 0 {
			keptSections = append(keptSections, sectionNames[i])
		}
	}

	for i := range kept {
		section := ""
		if len(keptSections) > 0 {
			section = keptSections[i]
		}
		// The section marker rides in the text itself so it participates
		// in embedding similarity, not just in metadata filters.
		if section != "" {
			kept[i].Text = "Section: " + section + "\n\n" + kept[i].Text
		}
		kept[i].Metadata = ChunkMetadata{
			Source:     doc.Source,
			Section:    section,
			ChunkIndex: i,
			ChunkCount: len(kept),
			CharLength: len(kept[i].Text),
			TokenCount: CountTokens(kept[i].Text),
		}
	}
	return kept
}

// splitText recursively splits text on the separator priority list and
// reassembles the pieces into chunks of at most c.size characters where
// each chunk begins with the last c.overlap characters of its predecessor.
func (c *Chunker) splitText(text string, separators []string) []string {
	partLimit := c.size - c.overlap
	if partLimit <= 0 {
		partLimit = c.size
	}
	parts := splitRecursive(text, separators, partLimit)

	var out []string
	cur := ""
	for _, p := range parts {
		if cur != "" && len(cur)+len(p) > c.size {
			out = append(out, cur)
			if c.overlap > 0 && len(cur) > c.overlap {
				cur = tailRunes(cur, c.overlap)
			}
		}
		cur += p
	}
	if strings.TrimSpace(cur) != "" {
		out = append(out, cur)
	}
	return out
}

// splitRecursive breaks text into pieces no longer than limit, preferring
// earlier separators and descending the priority list only for pieces that
// remain too long. The empty separator means a hard character split.
func splitRecursive(text string, separators []string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	sep := ""
	var rest []string
	for i, s := range separators {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}
	if sep == "" {
		return hardSplit(text, limit)
	}

	var parts []string
	for _, piece := range strings.SplitAfter(text, sep) {
		if piece == "" {
			continue
		}
		if len(piece) <= limit {
			parts = append(parts, piece)
			continue
		}
		parts = append(parts, splitRecursive(piece, rest, limit)...)
	}
	return parts
}

// hardSplit cuts text into limit-sized pieces on rune boundaries.
func hardSplit(text string, limit int) []string {
	var parts []string
	for len(text) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = limit
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// tailRunes returns the trailing n bytes of s, adjusted forward to the
// nearest rune boundary.
func tailRunes(s string, n int) string {
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

// keepChunk applies the post-filter: drop near-empty chunks and chunks
// that are mostly whitespace.
func keepChunk(text string) bool {
	if len(strings.TrimSpace(text)) < minChunkChars {
		return false
	}
	content := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			content++
		}
	}
	total := utf8.RuneCountInString(text)
	return total > 0 && float64(content)/float64(total) >= minContentRatio
}

func rawChunk(doc Document) Chunk {
	return Chunk{
		Text: doc.Text,
		Metadata: ChunkMetadata{
			Source:     doc.Source,
			ChunkIndex: 0,
			ChunkCount: 1,
			CharLength: len(doc.Text),
			TokenCount: CountTokens(doc.Text),
		},
	}
}

// Section header families recognised in policy documents.
var sectionHeaderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*SECTION\s+\d+\s*[-:]?\s*(.+)$`),
	regexp.MustCompile(`(?i)^\s*CLAUSE\s+\d+\s*[-:]?\s*(.+)$`),
	regexp.MustCompile(`^\s*(\d+\.\s*\S.*)$`),
	regexp.MustCompile(`^\s*([A-Z][A-Z\s]+):\s*$`),
}

type section struct {
	name string
	body string
}

// detectSections scans line by line for recognised headers and groups the
// following lines under each. Fewer than two detected sections means the
// document has no usable section structure.
func detectSections(text string) []section {
	var sections []section
	current := ""
	var body []string

	flush := func() {
		if current != "" && len(body) > 0 {
			sections = append(sections, section{name: current, body: strings.Join(body, "\n")})
		}
		body = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		header := ""
		for _, pat := range sectionHeaderPatterns {
			if m := pat.FindStringSubmatch(trimmed); m != nil {
				header = strings.ToLower(strings.TrimSpace(m[1]))
				break
			}
		}
		if header != "" {
			flush()
			current = header
			continue
		}
		body = append(body, trimmed)
	}
	flush()

	if len(sections) < 2 {
		return nil
	}
	return sections
}
