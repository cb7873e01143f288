package metadata

import "time"

// Upload is a pending, uncommitted blob awaiting association with a path.
// ContentType and Size stay at their zero values until the upload proxy
// observes the actual bytes.
type Upload struct {
	BlobID      string
	ContentType string
	Size        int64
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Blob is a stored byte object tracked by reference count. ContentType and
// Size are immutable once the blob is committed. UpdatedAt records the last
// refcount mutation and gates orphan reclamation.
type Blob struct {
	BlobID      string
	ContentType string
	Size        int64
	RefCount    int
	UpdatedAt   time.Time
}

// File binds a path to a blob. Paths are flat opaque strings; there is no
// directory hierarchy. ExpiresAt is nil for files that never expire.
type File struct {
	Path      string
	BlobID    string
	ExpiresAt *time.Time
}

// FileMetadata is the resolved file view returned by Stat and List, joining
// the file row with its blob's metadata.
type FileMetadata struct {
	Path        string     `json:"path"`
	BlobID      string     `json:"blob_id"`
	ContentType string     `json:"content_type,omitempty"`
	Size        int64      `json:"size"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Stats holds aggregate metadata-layer statistics.
type Stats struct {
	Files           int64 `json:"files"`
	Blobs           int64 `json:"blobs"`
	PendingUploads  int64 `json:"pending_uploads"`
	OrphanedBlobs   int64 `json:"orphaned_blobs"`
	ReferencedBytes int64 `json:"referenced_bytes"`
}
