package gc

import (
	"context"
	"log/slog"
	"time"

	"loft/internal/server/blob"
	"loft/internal/server/metadata"
)

// UploadSweeper reclaims abandoned uploads: rows whose deadline passed
// without a commit. The stored object (which may never have arrived) is
// deleted first; the row is removed only once storage confirms the object
// is gone.
type UploadSweeper struct {
	store metadata.Store
	blobs *blob.Factory
	now   func() time.Time
}

func NewUploadSweeper(store metadata.Store, blobs *blob.Factory) *UploadSweeper {
	return &UploadSweeper{store: store, blobs: blobs, now: time.Now}
}

func (s *UploadSweeper) Name() string { return "uploads" }

func (s *UploadSweeper) Sweep(ctx context.Context) (Result, error) {
	cfg, err := fetchConfig(ctx, s.store)
	if err != nil {
		return Result{}, err
	}
	if cfg == nil {
		// Nothing has ever been uploaded; nothing to reclaim.
		return Result{}, nil
	}
	if cfg.FreezeGC {
		slog.Warn("upload gc is frozen, skipping sweep")
		return Result{}, nil
	}
	storage, err := s.blobs.Get(cfg.Config.Storage)
	if err != nil {
		return Result{}, err
	}

	var candidates []metadata.Upload
	err = s.store.RunTx(ctx, func(tx metadata.Tx) error {
		var err error
		candidates, err = tx.ExpiredUploads(s.now().UTC(), BatchLimit)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return Result{}, nil
	}

	keys := make([]string, len(candidates))
	for i, u := range candidates {
		keys[i] = u.BlobID
	}
	outcomes := deleteAll(ctx, storage, keys)

	res := Result{Scanned: len(candidates), Full: len(candidates) == BatchLimit}
	res.NotFound, res.Errors = tally(outcomes)

	err = s.store.RunTx(ctx, func(tx metadata.Tx) error {
		for _, o := range outcomes {
			if !o.gone() {
				continue
			}
			// The upload may have been consumed by a racing commit after
			// candidate selection; its row is already gone then.
			up, err := tx.GetUpload(o.key)
			if err != nil {
				return err
			}
			if up == nil {
				continue
			}
			if err := tx.DeleteUpload(o.key); err != nil {
				return err
			}
			res.Cleaned++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	slog.Info("upload gc sweep complete",
		"scanned", res.Scanned,
		"cleaned", res.Cleaned,
		"not_found", res.NotFound,
		"errors", res.Errors,
	)
	return res, nil
}
