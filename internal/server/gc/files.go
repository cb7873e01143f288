package gc

import (
	"context"
	"log/slog"
	"time"

	"loft/internal/server/metadata"
)

// FileSweeper reclaims expired files. It only touches metadata: the file
// row is removed and the blob's refcount drops, after which the blob
// sweeper handles physical deletion on its own cadence. Because there is
// no destructive storage I/O here, the freeze flag does not apply.
type FileSweeper struct {
	store metadata.Store
	now   func() time.Time
}

func NewFileSweeper(store metadata.Store) *FileSweeper {
	return &FileSweeper{store: store, now: time.Now}
}

func (s *FileSweeper) Name() string { return "files" }

func (s *FileSweeper) Sweep(ctx context.Context) (Result, error) {
	cfg, err := fetchConfig(ctx, s.store)
	if err != nil {
		return Result{}, err
	}
	if cfg == nil {
		return Result{}, nil
	}

	res := Result{}
	err = s.store.RunTx(ctx, func(tx metadata.Tx) error {
		files, err := tx.ExpiredFiles(s.now().UTC(), BatchLimit)
		if err != nil {
			return err
		}
		res.Scanned = len(files)
		res.Full = len(files) == BatchLimit
		for _, f := range files {
			if err := tx.DeleteFile(f.Path); err != nil {
				return err
			}
			if err := tx.AddRef(f.BlobID, -1); err != nil {
				return err
			}
			res.Cleaned++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if res.Scanned > 0 {
		slog.Info("file gc sweep complete", "scanned", res.Scanned, "cleaned", res.Cleaned)
	}
	return res, nil
}
