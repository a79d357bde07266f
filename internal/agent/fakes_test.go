package agent

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/askdoc/internal/ingest"
	"github.com/mohammad-safakhou/askdoc/internal/vectorindex"
)

// scriptProvider replays canned completions in order and records the
// prompts it saw.
type scriptProvider struct {
	responses []string
	err       error
	prompts   []string
}

func (p *scriptProvider) Generate(_ context.Context, prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return "", p.err
	}
	if len(p.responses) == 0 {
		return "", errors.New("script exhausted")
	}
	out := p.responses[0]
	p.responses = p.responses[1:]
	return out, nil
}

func (p *scriptProvider) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0, 0}
	}
	return vecs, nil
}

type fakeSearcher struct {
	scored  []vectorindex.ScoredChunk
	chunks  []ingest.Chunk
	err     error
	queries []string
}

func (s *fakeSearcher) Search(_ context.Context, query string, k int) ([]ingest.Chunk, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	if k < len(s.chunks) {
		return s.chunks[:k], nil
	}
	return s.chunks, nil
}

func (s *fakeSearcher) SearchScored(_ context.Context, query string, k int) ([]vectorindex.ScoredChunk, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	if k < len(s.scored) {
		return s.scored[:k], nil
	}
	return s.scored, nil
}
