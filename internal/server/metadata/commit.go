package metadata

import (
	"context"
	"fmt"
	"time"
)

// CommitEntry binds a previously-uploaded blob to a path. Basis follows the
// same tri-state rule as a journal destination. ExpiresAt, when set, makes
// the committed file time-limited.
type CommitEntry struct {
	Path      string     `json:"path"`
	BlobID    string     `json:"blob_id"`
	Basis     Basis      `json:"basis"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CommitFiles transitions pending uploads into referenced files, all inside
// one transaction. Unlike Transact, every entry is validated against the
// pre-transaction state before anything is applied: commits are typically
// independent, so batch semantics beat journal semantics here.
//
// The committed blob's metadata (content type, size) is taken from the
// uploads row, never from the caller; an entry whose blob id has no pending
// upload fails the whole batch with ErrNoUpload.
func (e *Engine) CommitFiles(ctx context.Context, entries []CommitEntry) error {
	if len(entries) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(entries))
	for i, en := range entries {
		if en.Path == "" {
			return fmt.Errorf("%w: entry %d: path is required", ErrInvalid, i+1)
		}
		if en.BlobID == "" {
			return fmt.Errorf("%w: entry %d (%q): blob id is required", ErrInvalid, i+1, en.Path)
		}
		if _, dup := seen[en.Path]; dup {
			// Batch validation runs against pre-transaction state, so two
			// entries for one path would be order-dependent. Reject.
			return fmt.Errorf("%w: entry %d: duplicate path %q in commit batch", ErrInvalid, i+1, en.Path)
		}
		seen[en.Path] = struct{}{}
	}

	now := e.now().UTC()
	return e.store.RunTx(ctx, func(tx Tx) error {
		type planned struct {
			entry    CommitEntry
			upload   *Upload
			existing *File // file being overwritten, nil when vacant
		}
		plan := make([]planned, 0, len(entries))

		// Validate everything upfront.
		for i, en := range entries {
			up, err := tx.GetUpload(en.BlobID)
			if err != nil {
				return err
			}
			if up == nil {
				return fmt.Errorf("%w: %q (entry %d)", ErrNoUpload, en.BlobID, i+1)
			}
			existing, err := checkDest(tx, i+1, Dest{Path: en.Path, Basis: en.Basis})
			if err != nil {
				return err
			}
			plan = append(plan, planned{entry: en, upload: up, existing: existing})
		}

		// Apply.
		for _, p := range plan {
			en := p.entry
			if p.existing != nil {
				if err := tx.AddRef(p.existing.BlobID, -1); err != nil {
					return err
				}
				if err := tx.UpdateFile(File{Path: en.Path, BlobID: en.BlobID, ExpiresAt: en.ExpiresAt}); err != nil {
					return err
				}
			} else {
				if err := tx.InsertFile(File{Path: en.Path, BlobID: en.BlobID, ExpiresAt: en.ExpiresAt}); err != nil {
					return err
				}
			}
			if err := tx.InsertBlob(Blob{
				BlobID:      en.BlobID,
				ContentType: p.upload.ContentType,
				Size:        p.upload.Size,
				RefCount:    1,
				UpdatedAt:   now,
			}); err != nil {
				return err
			}
			// The upload is consumed; it can never be committed twice.
			if err := tx.DeleteUpload(en.BlobID); err != nil {
				return err
			}
		}
		return nil
	})
}
