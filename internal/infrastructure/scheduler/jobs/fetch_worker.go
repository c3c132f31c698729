package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maratonahub/cp-tracker/internal/application/rating"
)

// ══════════════════════════════════════════════════════════════════════════════
// FETCH WORKER POOL
// ══════════════════════════════════════════════════════════════════════════════

// FetchWorkerPool runs the rating fetch workers. Each worker claims one
// queued request at a time, performs the blocking external lookup, and
// applies the result; claim atomicity in the queue keeps concurrent
// workers on disjoint problems. This is a long-running pool, not a
// scheduled job.
type FetchWorkerPool struct {
	ratings      *rating.Service
	workers      int
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewFetchWorkerPool creates the pool.
func NewFetchWorkerPool(svc *rating.Service, workers int, pollInterval time.Duration, logger *slog.Logger) *FetchWorkerPool {
	if workers <= 0 {
		workers = 2
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FetchWorkerPool{ratings: svc, workers: workers, pollInterval: pollInterval, logger: logger}
}

// Run blocks until ctx is cancelled, then waits for in-flight fetches.
func (p *FetchWorkerPool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *FetchWorkerPool) workerLoop(ctx context.Context, id int) {
	logger := p.logger.With(slog.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return
		}
		worked, err := p.ratings.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("fetch processing failed", slog.String("error", err.Error()))
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollInterval):
		}
	}
}
