package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/askdoc/config"
	"github.com/mohammad-safakhou/askdoc/internal/ingest"
)

type stubEmbedder struct{}

func (stubEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return vecs, nil
}

type failingEmbedder struct{}

func (failingEmbedder) CreateEmbedding(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding backend down")
}

// fakeIndex emulates the control and data plane endpoints the client uses.
type fakeIndex struct {
	mu           sync.Mutex
	upsertSizes  []int
	upsertedIDs  []string
	deletedIDs   []string
	queryMatches []map[string]interface{}
}

// serverWithSelfHost serves both planes from one address; the describe
// response advertises the server's own URL as the index host.
func (f *fakeIndex) serverWithSelfHost(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/indexes/test-index", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"name": "test-index", "host": srv.URL})
	})
	mux.HandleFunc("/vectors/upsert", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Vectors []struct {
				ID string `json:"id"`
			} `json:"vectors"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.upsertSizes = append(f.upsertSizes, len(body.Vectors))
		for _, v := range body.Vectors {
			f.upsertedIDs = append(f.upsertedIDs, v.ID)
		}
		f.mu.Unlock()
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"matches": f.queryMatches})
	})
	mux.HandleFunc("/vectors/delete", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs []string `json:"ids"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.deletedIDs = append(f.deletedIDs, body.IDs...)
		f.mu.Unlock()
		w.Write([]byte(`{}`))
	})
	srv = httptest.NewServer(mux)
	return srv
}

func TestAddBatchesAndReturnsIDsInOrder(t *testing.T) {
	f := &fakeIndex{}
	srv := f.serverWithSelfHost(t)
	defer srv.Close()

	c := New(config.PineconeConfig{APIKey: "k", IndexName: "test-index", Dimension: 3, Timeout: 5 * time.Second}, 0.7, stubEmbedder{})
	c.controlURL = srv.URL
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	chunks := make([]ingest.Chunk, 23)
	for i := range chunks {
		chunks[i] = ingest.Chunk{Text: fmt.Sprintf("chunk %d", i)}
	}
	ids, err := c.Add(context.Background(), chunks)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(ids) != 23 {
		t.Fatalf("got %d ids, want 23", len(ids))
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if id == "" || seen[id] {
			t.Fatalf("ids must be unique and non-empty, got %q", id)
		}
		seen[id] = true
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	wantSizes := []int{10, 10, 3}
	if len(f.upsertSizes) != len(wantSizes) {
		t.Fatalf("got %d batches, want %d", len(f.upsertSizes), len(wantSizes))
	}
	for i, n := range wantSizes {
		if f.upsertSizes[i] != n {
			t.Errorf("batch %d size = %d, want %d", i, f.upsertSizes[i], n)
		}
	}
	for i, id := range ids {
		if f.upsertedIDs[i] != id {
			t.Fatalf("upserted id %d = %q, want %q (input order)", i, f.upsertedIDs[i], id)
		}
	}
}

func TestConcurrentAddsIssueDisjointIDs(t *testing.T) {
	f := &fakeIndex{}
	srv := f.serverWithSelfHost(t)
	defer srv.Close()

	c := New(config.PineconeConfig{APIKey: "k", IndexName: "test-index", Dimension: 3, Timeout: 5 * time.Second}, 0.7, stubEmbedder{})
	c.controlURL = srv.URL
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Two independent requests index their documents concurrently.
	const requests = 2
	const perRequest = 15
	idSets := make([][]string, requests)
	errs := make([]error, requests)
	var wg sync.WaitGroup
	for r := 0; r < requests; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			chunks := make([]ingest.Chunk, perRequest)
			for i := range chunks {
				chunks[i] = ingest.Chunk{Text: fmt.Sprintf("request %d chunk %d", r, i)}
			}
			idSets[r], errs[r] = c.Add(context.Background(), chunks)
		}(r)
	}
	wg.Wait()
	for r, err := range errs {
		if err != nil {
			t.Fatalf("Add %d: %v", r, err)
		}
	}

	owner := map[string]int{}
	for r, ids := range idSets {
		if len(ids) != perRequest {
			t.Fatalf("request %d got %d ids, want %d", r, len(ids), perRequest)
		}
		for _, id := range ids {
			if prev, ok := owner[id]; ok {
				t.Fatalf("id %q issued to both request %d and request %d", id, prev, r)
			}
			owner[id] = r
		}
	}

	// One request's cleanup must not touch the other's chunks.
	if err := c.Delete(context.Background(), idSets[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := map[string]bool{}
	for _, id := range f.deletedIDs {
		deleted[id] = true
	}
	for _, id := range idSets[0] {
		if !deleted[id] {
			t.Errorf("request 0 id %q was not deleted", id)
		}
	}
	for _, id := range idSets[1] {
		if deleted[id] {
			t.Errorf("request 1 id %q was deleted by request 0's cleanup", id)
		}
	}
}

func TestAddBeforeInitialize(t *testing.T) {
	c := New(config.PineconeConfig{IndexName: "test-index"}, 0.7, stubEmbedder{})
	if _, err := c.Add(context.Background(), []ingest.Chunk{{Text: "x"}}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("got %v, want ErrNotInitialized", err)
	}
	if _, err := c.Search(context.Background(), "q", 5); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("got %v, want ErrNotInitialized", err)
	}
}

func TestSearchScoredFiltersBelowThreshold(t *testing.T) {
	f := &fakeIndex{
		queryMatches: []map[string]interface{}{
			{"id": "a", "score": 0.91, "metadata": map[string]interface{}{"text": "high", "chunk_index": 0.0}},
			{"id": "b", "score": 0.70, "metadata": map[string]interface{}{"text": "boundary"}},
			{"id": "c", "score": 0.42, "metadata": map[string]interface{}{"text": "low"}},
		},
	}
	srv := f.serverWithSelfHost(t)
	defer srv.Close()

	c := New(config.PineconeConfig{APIKey: "k", IndexName: "test-index", Dimension: 3, Timeout: 5 * time.Second}, 0.7, stubEmbedder{})
	c.controlURL = srv.URL
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	scored, err := c.SearchScored(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("SearchScored: %v", err)
	}
	if len(scored) != 2 {
		t.Fatalf("got %d results, want 2 (threshold inclusive)", len(scored))
	}
	for _, s := range scored {
		if s.Score < 0.7 {
			t.Errorf("result %q below threshold: %v", s.Chunk.Text, s.Score)
		}
	}

	plain, err := c.Search(context.Background(), "query", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(plain) != 3 {
		t.Fatalf("unfiltered Search got %d results, want 3", len(plain))
	}
}

func TestSearchEmbeddingFailure(t *testing.T) {
	f := &fakeIndex{}
	srv := f.serverWithSelfHost(t)
	defer srv.Close()

	c := New(config.PineconeConfig{APIKey: "k", IndexName: "test-index", Dimension: 3, Timeout: 5 * time.Second}, 0.7, failingEmbedder{})
	c.controlURL = srv.URL
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := c.Search(context.Background(), "query", 5); err == nil {
		t.Fatal("expected error when embedding fails")
	}
}

func TestDelete(t *testing.T) {
	f := &fakeIndex{}
	srv := f.serverWithSelfHost(t)
	defer srv.Close()

	c := New(config.PineconeConfig{APIKey: "k", IndexName: "test-index", Dimension: 3, Timeout: 5 * time.Second}, 0.7, stubEmbedder{})
	c.controlURL = srv.URL
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := c.Delete(context.Background(), nil); err != nil {
		t.Fatalf("Delete of nothing should succeed, got %v", err)
	}
	if err := c.Delete(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.deletedIDs) != 2 {
		t.Fatalf("server saw %d deleted ids, want 2", len(f.deletedIDs))
	}
}
