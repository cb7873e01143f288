package metadata

import (
	"context"
	"time"
)

// Store is the durable metadata store. RunTx executes fn inside a single
// serializable transaction: either every mutation fn performed becomes
// visible, or none does. Returning an error from fn rolls the transaction
// back and propagates the error unchanged.
type Store interface {
	RunTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of row operations available inside a transaction. Lookups
// return (nil, nil) for ordinary absence; errors are reserved for storage
// failures and constraint violations.
type Tx interface {
	GetFile(path string) (*File, error)
	InsertFile(f File) error
	UpdateFile(f File) error // keyed by f.Path
	DeleteFile(path string) error

	GetBlob(id string) (*Blob, error)
	InsertBlob(b Blob) error
	// AddRef adjusts a blob's reference count by delta and stamps
	// UpdatedAt. Fails if the blob does not exist.
	AddRef(id string, delta int) error
	DeleteBlob(id string) error

	GetUpload(id string) (*Upload, error)
	InsertUpload(u Upload) error
	UpdateUpload(u Upload) error
	DeleteUpload(id string) error

	// ListFiles returns up to limit files whose path starts with prefix
	// and sorts strictly after the cursor path, in ascending path order.
	ListFiles(prefix, after string, limit int) ([]File, error)
	// ExpiredUploads returns up to limit uploads whose deadline has passed.
	ExpiredUploads(now time.Time, limit int) ([]Upload, error)
	// OrphanedBlobs returns up to limit blobs with a zero reference count
	// whose last refcount change is at or before cutoff.
	OrphanedBlobs(cutoff time.Time, limit int) ([]Blob, error)
	// ExpiredFiles returns up to limit files whose expiry has passed.
	ExpiredFiles(now time.Time, limit int) ([]File, error)

	GetConfig() (*StoredConfig, error)
	PutConfig(cfg Config, checksum string) error
	// SetFreezeGC flips the emergency GC circuit breaker. Fails with
	// ErrNotConfigured when no config row exists yet.
	SetFreezeGC(frozen bool) error

	Stats() (*Stats, error)
}
