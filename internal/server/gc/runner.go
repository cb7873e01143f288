// Package gc contains the background reclamation pipelines: three
// independent sweepers (abandoned uploads, orphaned blobs, expired files),
// each batched, idempotent and self-rescheduling.
package gc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"loft/internal/server/blob"
	"loft/internal/server/metadata"
)

// BatchLimit bounds one sweep so a single run has bounded latency; a
// backlog larger than one batch is drained by self-rescheduling.
const BatchLimit = 100

// Result summarizes one sweep run.
type Result struct {
	Scanned  int  // candidate rows fetched
	Cleaned  int  // metadata rows removed
	NotFound int  // storage reported the object already gone
	Errors   int  // per-item storage failures
	Full     bool // the batch hit BatchLimit
}

// Sweeper runs one bounded reclamation batch.
type Sweeper interface {
	Name() string
	Sweep(ctx context.Context) (Result, error)
}

// Runner drives a sweeper: a periodic tick, plus an immediate follow-up run
// whenever a sweep reports a full batch with zero errors. A sweep with
// errors waits for the next scheduled tick instead of rescheduling.
type Runner struct {
	sweeper  Sweeper
	interval time.Duration
	kick     chan struct{}
	done     chan struct{}
}

func NewRunner(sweeper Sweeper, interval time.Duration) *Runner {
	return &Runner{
		sweeper:  sweeper,
		interval: interval,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (r *Runner) Start(ctx context.Context) {
	slog.Info("gc runner started", "sweeper", r.sweeper.Name(), "interval", r.interval)

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		// Run once immediately on start
		r.run(ctx)

		for {
			select {
			case <-ticker.C:
				r.run(ctx)
			case <-r.kick:
				r.run(ctx)
			case <-ctx.Done():
				slog.Info("gc runner stopping", "sweeper", r.sweeper.Name())
				close(r.done)
				return
			}
		}
	}()
}

// Wait blocks until the runner has fully stopped.
func (r *Runner) Wait() {
	<-r.done
}

func (r *Runner) run(ctx context.Context) {
	res, err := r.sweeper.Sweep(ctx)
	if err != nil {
		slog.Error("gc sweep failed", "sweeper", r.sweeper.Name(), "error", err)
		return
	}
	if res.Full && res.Errors == 0 {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// fetchConfig loads the stored configuration, (nil, nil) when no client has
// supplied one yet.
func fetchConfig(ctx context.Context, store metadata.Store) (*metadata.StoredConfig, error) {
	var cfg *metadata.StoredConfig
	err := store.RunTx(ctx, func(tx metadata.Tx) error {
		var err error
		cfg, err = tx.GetConfig()
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// outcome is the result of one storage delete within a batch.
type outcome struct {
	key    string
	status blob.DeleteStatus
	err    error
}

// gone reports whether the stored object is confirmed absent: either we
// deleted it or it was never there. Only gone items may have their
// metadata rows removed.
func (o outcome) gone() bool {
	return o.err == nil
}

// deleteAll fans storage deletes out across the batch. Failures are
// captured per item and never block the rest of the batch.
func deleteAll(ctx context.Context, store blob.Store, keys []string) []outcome {
	outcomes := make([]outcome, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			status, err := store.Delete(ctx, key)
			outcomes[i] = outcome{key: key, status: status, err: err}
		}(i, key)
	}
	wg.Wait()
	return outcomes
}

func tally(outcomes []outcome) (notFound, errors int) {
	for _, o := range outcomes {
		switch {
		case o.err != nil:
			errors++
		case o.status == blob.NotFound:
			notFound++
		}
	}
	return notFound, errors
}
