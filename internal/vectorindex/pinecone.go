package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/askdoc/config"
	"github.com/mohammad-safakhou/askdoc/internal/ingest"
)

// ErrNotInitialized is returned when search or add is called before
// Initialize has completed.
var ErrNotInitialized = errors.New("vector index not initialized")

// Upserts are batched to bound peak request payload size.
const addBatchSize = 10

const defaultControlURL = "https://api.pinecone.io"

// Embedder turns text into fixed-length vectors matching the index
// dimensionality.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// ScoredChunk pairs a retrieved chunk with its relevance score in [0,1];
// higher is more relevant.
type ScoredChunk struct {
	Chunk ingest.Chunk
	Score float64
}

// Client is a minimal REST client to a Pinecone-compatible vector index.
// It assumes cosine metric and creates the index if missing.
type Client struct {
	cfg        config.PineconeConfig
	threshold  float64
	embedder   Embedder
	httpClient *http.Client
	logger     *log.Logger

	controlURL string
	host       string
}

// New creates an uninitialized client. threshold is the minimum relevance
// score for SearchScored results.
func New(cfg config.PineconeConfig, threshold float64, embedder Embedder) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		threshold:  threshold,
		embedder:   embedder,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.New(log.Writer(), "[INDEX] ", log.LstdFlags),
		controlURL: defaultControlURL,
	}
}

type indexDescription struct {
	Name   string `json:"name"`
	Host   string `json:"host"`
	Status struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

// Initialize ensures the backing index exists with the configured
// dimensionality and cosine metric, creating it if absent, and resolves
// the index host. Safe to call more than once.
func (c *Client) Initialize(ctx context.Context) error {
	desc, err := c.describeIndex(ctx)
	if err == nil {
		c.host = desc.Host
		return nil
	}

	createBody := map[string]interface{}{
		"name":      c.cfg.IndexName,
		"dimension": c.cfg.Dimension,
		"metric":    "cosine",
		"spec": map[string]interface{}{
			"serverless": map[string]interface{}{
				"cloud":  c.cfg.Cloud,
				"region": c.cfg.Region,
			},
		},
	}
	var created indexDescription
	if err := c.doJSON(ctx, http.MethodPost, c.controlURL+"/indexes", createBody, &created); err != nil {
		// A concurrent Initialize may have created it in between.
		if desc, derr := c.describeIndex(ctx); derr == nil {
			c.host = desc.Host
			return nil
		}
		return fmt.Errorf("creating index %s: %w", c.cfg.IndexName, err)
	}
	c.logger.Printf("created index %s (dimension %d)", c.cfg.IndexName, c.cfg.Dimension)

	if created.Host != "" {
		c.host = created.Host
		return nil
	}
	desc, err = c.describeIndex(ctx)
	if err != nil {
		return fmt.Errorf("resolving host for index %s: %w", c.cfg.IndexName, err)
	}
	c.host = desc.Host
	return nil
}

func (c *Client) describeIndex(ctx context.Context) (indexDescription, error) {
	var desc indexDescription
	err := c.doJSON(ctx, http.MethodGet, c.controlURL+"/indexes/"+c.cfg.IndexName, nil, &desc)
	if err != nil {
		return indexDescription{}, err
	}
	if desc.Host == "" {
		return indexDescription{}, fmt.Errorf("index %s has no host yet", c.cfg.IndexName)
	}
	return desc, nil
}

// Add assigns one fresh unique identifier per chunk, upserts in batches of
// ten and returns the identifiers in input order. A failed batch aborts
// the call; earlier batches are not rolled back, cleanup is the caller's
// job on overall pipeline failure.
func (c *Client) Add(ctx context.Context, chunks []ingest.Chunk) ([]string, error) {
	if c.host == "" {
		return nil, ErrNotInitialized
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = uuid.New().String()
	}

	batches := (len(chunks) + addBatchSize - 1) / addBatchSize
	for i := 0; i < len(chunks); i += addBatchSize {
		end := i + addBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := c.upsertBatch(ctx, chunks[i:end], ids[i:end]); err != nil {
			return nil, fmt.Errorf("upserting batch %d/%d: %w", i/addBatchSize+1, batches, err)
		}
		c.logger.Printf("added batch %d/%d", i/addBatchSize+1, batches)
	}
	return ids, nil
}

func (c *Client) upsertBatch(ctx context.Context, chunks []ingest.Chunk, ids []string) error {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vecs, err := c.embedder.CreateEmbedding(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if len(vecs) != len(chunks) {
		return fmt.Errorf("embedding returned %d vectors for %d chunks", len(vecs), len(chunks))
	}

	vectors := make([]map[string]interface{}, len(chunks))
	for i, ch := range chunks {
		vectors[i] = map[string]interface{}{
			"id":     ids[i],
			"values": vecs[i],
			"metadata": map[string]interface{}{
				"text":        ch.Text,
				"source":      ch.Metadata.Source,
				"section":     ch.Metadata.Section,
				"chunk_index": ch.Metadata.ChunkIndex,
				"chunk_count": ch.Metadata.ChunkCount,
				"char_length": ch.Metadata.CharLength,
				"token_count": ch.Metadata.TokenCount,
			},
		}
	}
	return c.doJSON(ctx, http.MethodPost, c.hostURL()+"/vectors/upsert", map[string]interface{}{"vectors": vectors}, nil)
}

// Search returns up to k nearest chunks by embedding similarity,
// unfiltered by score.
func (c *Client) Search(ctx context.Context, query string, k int) ([]ingest.Chunk, error) {
	scored, err := c.query(ctx, query, k)
	if err != nil {
		return nil, err
	}
	chunks := make([]ingest.Chunk, len(scored))
	for i, s := range scored {
		chunks[i] = s.Chunk
	}
	return chunks, nil
}

// SearchScored returns up to k nearest chunks with scores, discarding any
// result below the similarity threshold. May return zero results.
func (c *Client) SearchScored(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	scored, err := c.query(ctx, query, k)
	if err != nil {
		return nil, err
	}
	filtered := scored[:0]
	for _, s := range scored {
		if s.Score >= c.threshold {
			filtered = append(filtered, s)
		}
	}
	c.logger.Printf("found %d relevant chunks (threshold %.2f)", len(filtered), c.threshold)
	return filtered, nil
}

func (c *Client) query(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if c.host == "" {
		return nil, ErrNotInitialized
	}
	if k <= 0 {
		k = 5
	}

	vecs, err := c.embedder.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding returned %d vectors for one query", len(vecs))
	}

	body := map[string]interface{}{
		"vector":          vecs[0],
		"topK":            k,
		"includeMetadata": true,
	}
	var out struct {
		Matches []struct {
			ID       string                 `json:"id"`
			Score    float64                `json:"score"`
			Metadata map[string]interface{} `json:"metadata"`
		} `json:"matches"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.hostURL()+"/query", body, &out); err != nil {
		return nil, err
	}

	results := make([]ScoredChunk, 0, len(out.Matches))
	for _, m := range out.Matches {
		results = append(results, ScoredChunk{Chunk: chunkFromMetadata(m.Metadata), Score: m.Score})
	}
	return results, nil
}

// Delete removes the given identifiers best-effort: failures are logged,
// never returned, so cleanup cannot break an already-successful request.
// The returned error is only for callers that track orphaned entries.
func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if c.host == "" {
		c.logger.Printf("delete skipped: index not initialized")
		return ErrNotInitialized
	}
	err := c.doJSON(ctx, http.MethodPost, c.hostURL()+"/vectors/delete", map[string]interface{}{"ids": ids}, nil)
	if err != nil {
		c.logger.Printf("deleting %d vectors failed: %v", len(ids), err)
		return err
	}
	c.logger.Printf("deleted %d vectors", len(ids))
	return nil
}

// hostURL returns the data-plane base URL for the resolved index host.
func (c *Client) hostURL() string {
	if strings.HasPrefix(c.host, "http://") || strings.HasPrefix(c.host, "https://") {
		return c.host
	}
	return "https://" + c.host
}

func chunkFromMetadata(meta map[string]interface{}) ingest.Chunk {
	ch := ingest.Chunk{}
	if v, ok := meta["text"].(string); ok {
		ch.Text = v
	}
	if v, ok := meta["source"].(string); ok {
		ch.Metadata.Source = v
	}
	if v, ok := meta["section"].(string); ok {
		ch.Metadata.Section = v
	}
	if v, ok := meta["chunk_index"].(float64); ok {
		ch.Metadata.ChunkIndex = int(v)
	}
	if v, ok := meta["chunk_count"].(float64); ok {
		ch.Metadata.ChunkCount = int(v)
	}
	if v, ok := meta["char_length"].(float64); ok {
		ch.Metadata.CharLength = int(v)
	}
	if v, ok := meta["token_count"].(float64); ok {
		ch.Metadata.TokenCount = int(v)
	}
	return ch
}

func (c *Client) doJSON(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
