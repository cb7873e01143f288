package gc

import (
	"context"
	"log/slog"
	"time"

	"loft/internal/server/blob"
	"loft/internal/server/metadata"
)

// BlobSweeper reclaims orphaned blobs: refcount zero, last touched before
// the grace period. The grace period absorbs the read-then-decrement window
// of in-flight transactions; a blob that has just hit zero may be about to
// be referenced again.
type BlobSweeper struct {
	store metadata.Store
	blobs *blob.Factory
	now   func() time.Time
}

func NewBlobSweeper(store metadata.Store, blobs *blob.Factory) *BlobSweeper {
	return &BlobSweeper{store: store, blobs: blobs, now: time.Now}
}

func (s *BlobSweeper) Name() string { return "blobs" }

func (s *BlobSweeper) Sweep(ctx context.Context) (Result, error) {
	cfg, err := fetchConfig(ctx, s.store)
	if err != nil {
		return Result{}, err
	}
	if cfg == nil {
		return Result{}, nil
	}
	if cfg.FreezeGC {
		slog.Warn("blob gc is frozen, skipping sweep")
		return Result{}, nil
	}
	storage, err := s.blobs.Get(cfg.Config.Storage)
	if err != nil {
		return Result{}, err
	}

	cutoff := s.now().UTC().Add(-cfg.Config.BlobGracePeriod())
	var candidates []metadata.Blob
	err = s.store.RunTx(ctx, func(tx metadata.Tx) error {
		var err error
		candidates, err = tx.OrphanedBlobs(cutoff, BatchLimit)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return Result{}, nil
	}

	keys := make([]string, len(candidates))
	for i, b := range candidates {
		keys[i] = b.BlobID
	}
	outcomes := deleteAll(ctx, storage, keys)

	res := Result{Scanned: len(candidates), Full: len(candidates) == BatchLimit}
	res.NotFound, res.Errors = tally(outcomes)

	err = s.store.RunTx(ctx, func(tx metadata.Tx) error {
		for _, o := range outcomes {
			if !o.gone() {
				continue
			}
			// Re-verify orphanhood inside the cleanup transaction: the blob
			// may have been re-referenced since candidate selection, in
			// which case its row must survive.
			b, err := tx.GetBlob(o.key)
			if err != nil {
				return err
			}
			if b == nil || b.RefCount != 0 || b.UpdatedAt.After(cutoff) {
				continue
			}
			if err := tx.DeleteBlob(o.key); err != nil {
				return err
			}
			res.Cleaned++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	slog.Info("blob gc sweep complete",
		"scanned", res.Scanned,
		"cleaned", res.Cleaned,
		"not_found", res.NotFound,
		"errors", res.Errors,
	)
	return res, nil
}
