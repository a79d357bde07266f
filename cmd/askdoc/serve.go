package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/askdoc/config"
	"github.com/mohammad-safakhou/askdoc/internal/cache"
	"github.com/mohammad-safakhou/askdoc/internal/ingest"
	"github.com/mohammad-safakhou/askdoc/internal/llm"
	"github.com/mohammad-safakhou/askdoc/internal/pipeline"
	srv "github.com/mohammad-safakhou/askdoc/internal/server"
	"github.com/mohammad-safakhou/askdoc/internal/store"
	"github.com/mohammad-safakhou/askdoc/internal/telemetry"
	"github.com/mohammad-safakhou/askdoc/internal/vectorindex"
)

func serveCMD() *cobra.Command {
	var cfgPath string

	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the QA HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/askdoc.yaml)")

	return serve
}

func runServe(cfg *config.Config) error {
	logger := log.New(log.Writer(), "[ASKDOC] ", log.LstdFlags)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	provider := llm.NewProvider(cfg.LLM)
	index := vectorindex.New(cfg.Pinecone, cfg.Retrieval.SimilarityThreshold, provider)
	loader := ingest.NewLoader(cfg.Pipeline.DownloadTimeout)
	chunker := ingest.NewChunker(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)

	// Postgres and Redis are optional; the QA path runs without them.
	var st *store.Store
	if cfg.Storage.Postgres.Configured() {
		dsn, err := cfg.Storage.Postgres.DSN()
		if err != nil {
			return err
		}
		if err := srv.Migrate("file://migrations", dsn, "up", 0); err != nil {
			return err
		}
		st, err = store.NewWithDSN(ctx, dsn)
		if err != nil {
			return err
		}
		defer st.Close()
	}

	var answers *cache.AnswerCache
	if cfg.Storage.Redis.Host != "" {
		var err error
		answers, err = cache.New(ctx, cfg.Storage.Redis, cfg.Cache.TTL)
		if err != nil {
			logger.Printf("answer cache disabled: %v", err)
			answers = nil
		} else {
			defer answers.Close()
		}
	}

	orch := pipeline.NewOrchestrator(loader, chunker, index, provider, st, answers, pipeline.Options{
		MaxConcurrentQuestions: cfg.Pipeline.MaxConcurrentQuestions,
		MaxAgentIterations:     cfg.Pipeline.MaxAgentIterations,
	})

	if st != nil {
		janitor, err := pipeline.NewJanitor(st, index, cfg.Pipeline.CleanupCron)
		if err != nil {
			return err
		}
		go janitor.Run(ctx)
	}

	server := srv.New(cfg, orch)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	logger.Printf("listening on %s", cfg.Server.Listen)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
