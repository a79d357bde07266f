package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohammad-safakhou/askdoc/internal/agent"
	"github.com/mohammad-safakhou/askdoc/internal/cache"
	"github.com/mohammad-safakhou/askdoc/internal/clauses"
	"github.com/mohammad-safakhou/askdoc/internal/ingest"
	"github.com/mohammad-safakhou/askdoc/internal/llm"
	"github.com/mohammad-safakhou/askdoc/internal/store"
	"github.com/mohammad-safakhou/askdoc/internal/telemetry"
	"github.com/mohammad-safakhou/askdoc/internal/vectorindex"
)

// DocumentLoader downloads and decodes a document.
type DocumentLoader interface {
	LoadFromURL(ctx context.Context, rawURL string) ([]ingest.Document, error)
}

// Index is the vector index surface the orchestrator needs: ingestion,
// retrieval for the tools, and request-scoped cleanup.
type Index interface {
	agent.Searcher
	Initialize(ctx context.Context) error
	Add(ctx context.Context, chunks []ingest.Chunk) ([]string, error)
	Delete(ctx context.Context, ids []string) error
}

// Options carries the orchestrator knobs; zero values fall back to the
// configuration defaults.
type Options struct {
	MaxConcurrentQuestions int
	MaxAgentIterations     int
	CleanupTimeout         time.Duration
}

// Orchestrator runs one QA request end to end: ingest the document once,
// answer all questions concurrently, clean up the indexed chunks.
type Orchestrator struct {
	loader   DocumentLoader
	chunker  *ingest.Chunker
	index    Index
	provider llm.Provider
	store    *store.Store       // optional
	answers  *cache.AnswerCache // optional
	opts     Options
	logger   *log.Logger

	// cleanupDone is signalled after the deferred delete finishes; tests
	// use it, production callers never wait.
	cleanupDone chan struct{}
}

func NewOrchestrator(loader DocumentLoader, chunker *ingest.Chunker, index Index, provider llm.Provider, st *store.Store, answers *cache.AnswerCache, opts Options) *Orchestrator {
	if opts.MaxConcurrentQuestions <= 0 {
		opts.MaxConcurrentQuestions = 5
	}
	if opts.MaxAgentIterations <= 0 {
		opts.MaxAgentIterations = 5
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = 30 * time.Second
	}
	return &Orchestrator{
		loader:      loader,
		chunker:     chunker,
		index:       index,
		provider:    provider,
		store:       st,
		answers:     answers,
		opts:        opts,
		logger:      log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
		cleanupDone: make(chan struct{}, 16),
	}
}

// Run ingests the document at documentURL and answers every question. The
// returned slice always has one formatted answer per question, in input
// order. A non-nil error means the whole request failed before any
// question could be answered.
func (o *Orchestrator) Run(ctx context.Context, documentURL string, questions []string) ([]string, error) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.run")
	defer span.End()

	chunks, ids, err := o.ingest(ctx, documentURL)
	if err != nil {
		telemetry.RunsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	defer o.cleanup(documentURL, ids)

	matcher, err := clauses.NewMatcher(chunks)
	if err != nil {
		// Exact clause lookup is an enhancement; retrieval still works.
		o.logger.Printf("clause matcher unavailable: %v", err)
		matcher = nil
	} else {
		defer matcher.Close()
	}

	router := agent.NewRouter(o.index, o.provider, matcher)
	ag := agent.New(o.provider, router, o.opts.MaxAgentIterations)

	answers := make([]string, len(questions))
	var errCount int64
	sem := make(chan struct{}, o.opts.MaxConcurrentQuestions)
	var wg sync.WaitGroup
	for i, question := range questions {
		wg.Add(1)
		go func(i int, question string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					o.logger.Printf("question %d panicked: %v", i, r)
					answers[i] = agent.ProcessingErrorAnswer
					atomic.AddInt64(&errCount, 1)
				}
			}()
			answers[i] = o.answerOne(ctx, ag, documentURL, question, &errCount)
		}(i, question)
	}
	wg.Wait()

	duration := time.Since(start)
	o.logger.Printf("answered %d questions in %s (%d errors)", len(questions), duration, errCount)
	telemetry.RunsTotal.WithLabelValues("ok").Inc()
	o.audit(documentURL, len(questions), int(errCount), duration)
	return answers, nil
}

// ingest downloads, chunks and indexes the document. Any failure here is
// fatal for the request.
func (o *Orchestrator) ingest(ctx context.Context, documentURL string) ([]ingest.Chunk, []string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.ingest")
	defer span.End()
	start := time.Now()

	docs, err := o.loader.LoadFromURL(ctx, documentURL)
	if err != nil {
		return nil, nil, fmt.Errorf("loading document: %w", err)
	}
	chunks := o.chunker.Chunk(docs, ingest.ModePolicy)
	if len(chunks) == 0 {
		return nil, nil, fmt.Errorf("document %s produced no indexable text", documentURL)
	}
	o.logger.Printf("chunked %s into %d chunks", documentURL, len(chunks))

	if err := o.index.Initialize(ctx); err != nil {
		return nil, nil, fmt.Errorf("initializing index: %w", err)
	}
	ids, err := o.index.Add(ctx, chunks)
	if err != nil {
		return nil, nil, fmt.Errorf("indexing document: %w", err)
	}
	telemetry.IngestDuration.Observe(time.Since(start).Seconds())
	return chunks, ids, nil
}

func (o *Orchestrator) answerOne(ctx context.Context, ag *agent.Agent, documentURL, question string, errCount *int64) string {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.question")
	defer span.End()
	start := time.Now()
	defer func() { telemetry.AnswerDuration.Observe(time.Since(start).Seconds()) }()

	completed := ag.CompleteQuestion(ctx, question)

	if o.answers != nil {
		if hit, ok := o.answers.Get(ctx, documentURL, completed); ok {
			telemetry.CacheHits.Inc()
			telemetry.QuestionsTotal.WithLabelValues("cached").Inc()
			return hit
		}
	}

	answer := FormatAnswer(ag.ProcessQuestion(ctx, completed))
	if answer == FormatAnswer(agent.ProcessingErrorAnswer) {
		atomic.AddInt64(errCount, 1)
		telemetry.QuestionsTotal.WithLabelValues("error").Inc()
		return answer
	}
	telemetry.QuestionsTotal.WithLabelValues("ok").Inc()
	if o.answers != nil {
		o.answers.Set(ctx, documentURL, completed, answer)
	}
	return answer
}

// cleanup deletes this request's vectors in the background. The response
// is already on its way, so failures are only logged and, when a store is
// configured, recorded for the janitor to retry.
func (o *Orchestrator) cleanup(documentURL string, ids []string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.opts.CleanupTimeout)
		defer cancel()
		defer func() {
			select {
			case o.cleanupDone <- struct{}{}:
			default:
			}
		}()

		if err := o.index.Delete(ctx, ids); err != nil {
			o.logger.Printf("cleanup for %s failed: %v", documentURL, err)
			if o.store != nil {
				rec := store.OrphanRecord{RunID: documentURL, ChunkIDs: ids}
				if serr := o.store.RecordOrphans(ctx, rec); serr != nil {
					o.logger.Printf("recording orphans failed: %v", serr)
				}
			}
		}
	}()
}

// audit saves one run record, best-effort.
func (o *Orchestrator) audit(documentURL string, questionCount, errorCount int, duration time.Duration) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := o.store.SaveRun(ctx, store.RunRecord{
		DocumentURL:   documentURL,
		QuestionCount: questionCount,
		ErrorCount:    errorCount,
		Duration:      duration,
	})
	if err != nil {
		o.logger.Printf("saving run audit failed: %v", err)
	}
}

// WaitCleanup blocks until one background cleanup completes or the context
// expires. Exposed for tests.
func (o *Orchestrator) WaitCleanup(ctx context.Context) error {
	select {
	case <-o.cleanupDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// compile-time check that the production client satisfies Index
var _ Index = (*vectorindex.Client)(nil)
