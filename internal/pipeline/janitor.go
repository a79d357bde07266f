package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/mohammad-safakhou/askdoc/internal/store"
)

// OrphanDeleter is the index subset the janitor needs.
type OrphanDeleter interface {
	Delete(ctx context.Context, ids []string) error
}

// Janitor retries deletion of vectors whose request-time cleanup failed.
// It runs on a cron schedule and trims the ledger as batches succeed.
type Janitor struct {
	store    *store.Store
	index    OrphanDeleter
	schedule *cronexpr.Expression
	logger   *log.Logger
}

func NewJanitor(st *store.Store, index OrphanDeleter, cronSpec string) (*Janitor, error) {
	if cronSpec == "" {
		cronSpec = "0 * * * *"
	}
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return nil, fmt.Errorf("parsing cleanup cron %q: %w", cronSpec, err)
	}
	return &Janitor{
		store:    st,
		index:    index,
		schedule: expr,
		logger:   log.New(log.Writer(), "[JANITOR] ", log.LstdFlags),
	}, nil
}

// Run sweeps on the schedule until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	for {
		next := j.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep retries every pending orphan batch once.
func (j *Janitor) Sweep(ctx context.Context) {
	orphans, err := j.store.ListOrphans(ctx, 100)
	if err != nil {
		j.logger.Printf("listing orphans failed: %v", err)
		return
	}
	for _, rec := range orphans {
		if err := j.index.Delete(ctx, rec.ChunkIDs); err != nil {
			j.logger.Printf("retry delete for %s failed: %v", rec.RunID, err)
			continue
		}
		if err := j.store.DeleteOrphans(ctx, rec.RunID); err != nil {
			j.logger.Printf("clearing ledger for %s failed: %v", rec.RunID, err)
			continue
		}
		j.logger.Printf("reclaimed %d vectors for %s", len(rec.ChunkIDs), rec.RunID)
	}
}
