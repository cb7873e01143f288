package metadata

import (
	"context"
	"encoding/base64"
	"fmt"
)

// DefaultPageSize bounds List pages when the caller does not specify one.
const DefaultPageSize = 50

// Page is one slice of a listing. ContinueCursor is opaque; feed it back
// into List to fetch the next page. IsDone is set on the final page.
type Page struct {
	Files          []FileMetadata `json:"files"`
	ContinueCursor string         `json:"continue_cursor,omitempty"`
	IsDone         bool           `json:"is_done"`
}

// Stat returns the resolved metadata for the file at path, or nil when no
// such file exists. A file whose blob is missing is corruption, not
// absence, and fails hard.
func (e *Engine) Stat(ctx context.Context, path string) (*FileMetadata, error) {
	var out *FileMetadata
	err := e.store.RunTx(ctx, func(tx Tx) error {
		f, err := tx.GetFile(path)
		if err != nil {
			return err
		}
		if f == nil {
			return nil
		}
		out, err = resolveFile(tx, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns files in ascending path order, restricted to those whose
// path starts with prefix when prefix is non-empty. Cursor is either empty
// (start from the beginning) or the ContinueCursor of a previous page.
func (e *Engine) List(ctx context.Context, prefix, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	after, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	page := &Page{Files: []FileMetadata{}}
	err = e.store.RunTx(ctx, func(tx Tx) error {
		// Fetch one extra row to learn whether another page exists.
		files, err := tx.ListFiles(prefix, after, limit+1)
		if err != nil {
			return err
		}
		page.IsDone = len(files) <= limit
		if !page.IsDone {
			files = files[:limit]
		}
		for i := range files {
			md, err := resolveFile(tx, &files[i])
			if err != nil {
				return err
			}
			page.Files = append(page.Files, *md)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !page.IsDone && len(page.Files) > 0 {
		page.ContinueCursor = encodeCursor(page.Files[len(page.Files)-1].Path)
	}
	return page, nil
}

// resolveFile joins a file row with its blob. Every read path funnels
// through here so the file-references-live-blob invariant is checked
// uniformly.
func resolveFile(tx Tx, f *File) (*FileMetadata, error) {
	b, err := tx.GetBlob(f.BlobID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: file %q references missing blob %q", ErrCorrupt, f.Path, f.BlobID)
	}
	return &FileMetadata{
		Path:        f.Path,
		BlobID:      f.BlobID,
		ContentType: b.ContentType,
		Size:        b.Size,
		ExpiresAt:   f.ExpiresAt,
	}, nil
}

func encodeCursor(path string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(path))
}

func decodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("%w: bad cursor: %v", ErrInvalid, err)
	}
	return string(raw), nil
}
