// Package service orchestrates the control plane around the metadata
// engine: pending-upload registration, the upload/download proxy for
// backends without signed URLs, stored-configuration updates and stats.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"loft/internal/server/blob"
	"loft/internal/server/config"
	"loft/internal/server/metadata"
)

// Sentinel errors for the service layer.
var (
	ErrNotFound      = errors.New("blob not found")
	ErrUploadExpired = errors.New("upload has expired")
	ErrBlobTooLarge  = errors.New("blob exceeds maximum allowed size")
)

// Service wires the metadata engine to the storage backend described by the
// stored configuration.
type Service struct {
	store  metadata.Store
	engine *metadata.Engine
	blobs  *blob.Factory
	cfg    *config.Config
	now    func() time.Time
}

func New(store metadata.Store, engine *metadata.Engine, blobs *blob.Factory, cfg *config.Config) *Service {
	return &Service{
		store:  store,
		engine: engine,
		blobs:  blobs,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Engine exposes the transaction engine for the API layer.
func (s *Service) Engine() *metadata.Engine {
	return s.engine
}

// PendingUpload is returned after registering an upload.
type PendingUpload struct {
	BlobID    string    `json:"blob_id"`
	UploadURL string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// storedConfig fetches the stored configuration, failing with
// ErrNotConfigured when no client has supplied one.
func (s *Service) storedConfig(ctx context.Context) (*metadata.StoredConfig, error) {
	var sc *metadata.StoredConfig
	err := s.store.RunTx(ctx, func(tx metadata.Tx) error {
		var err error
		sc, err = tx.GetConfig()
		return err
	})
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, metadata.ErrNotConfigured
	}
	return sc, nil
}

// RegisterPendingUpload creates an upload row with a TTL and returns the
// URL the client should PUT the bytes to: a presigned backend URL when the
// backend supports signing, the server proxy otherwise. An empty blobID
// lets the server pick one.
func (s *Service) RegisterPendingUpload(ctx context.Context, blobID, contentType string, size int64) (*PendingUpload, error) {
	if size > s.cfg.MaxBlobSize {
		return nil, ErrBlobTooLarge
	}
	sc, err := s.storedConfig(ctx)
	if err != nil {
		return nil, err
	}
	if blobID == "" {
		blobID = uuid.NewString()
	}

	now := s.now().UTC()
	upload := metadata.Upload{
		BlobID:      blobID,
		ContentType: contentType,
		Size:        size,
		ExpiresAt:   now.Add(sc.Config.UploadTTL()),
		CreatedAt:   now,
	}
	if err := s.store.RunTx(ctx, func(tx metadata.Tx) error {
		return tx.InsertUpload(upload)
	}); err != nil {
		return nil, fmt.Errorf("failed to register upload: %w", err)
	}

	storage, err := s.blobs.Get(sc.Config.Storage)
	if err != nil {
		return nil, err
	}
	uploadURL, err := storage.SignUpload(blobID, sc.Config.UploadURLTTL())
	if errors.Is(err, blob.ErrUnsupported) {
		uploadURL = s.cfg.BaseURL + "/api/uploads/" + blobID + "/data"
	} else if err != nil {
		return nil, err
	}

	slog.Info("registered pending upload",
		"blob_id", blobID,
		"content_type", contentType,
		"expires_at", upload.ExpiresAt,
	)
	return &PendingUpload{
		BlobID:    blobID,
		UploadURL: uploadURL,
		ExpiresAt: upload.ExpiresAt,
	}, nil
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// ProxyUpload streams body to the storage backend on behalf of a client
// whose backend has no signed uploads, then records the observed size and
// content type on the upload row. Returns the number of bytes stored.
func (s *Service) ProxyUpload(ctx context.Context, blobID, contentType string, contentLength int64, body io.Reader) (int64, error) {
	if contentLength > s.cfg.MaxBlobSize {
		return 0, ErrBlobTooLarge
	}
	sc, err := s.storedConfig(ctx)
	if err != nil {
		return 0, err
	}

	var upload *metadata.Upload
	if err := s.store.RunTx(ctx, func(tx metadata.Tx) error {
		var err error
		upload, err = tx.GetUpload(blobID)
		return err
	}); err != nil {
		return 0, err
	}
	if upload == nil {
		return 0, fmt.Errorf("%w: %q", metadata.ErrNoUpload, blobID)
	}
	if upload.ExpiresAt.Before(s.now()) {
		return 0, ErrUploadExpired
	}

	storage, err := s.blobs.Get(sc.Config.Storage)
	if err != nil {
		return 0, err
	}

	// One byte over the limit is enough to detect oversize without
	// trusting the declared length.
	counter := &countingReader{r: io.LimitReader(body, s.cfg.MaxBlobSize+1)}
	if err := storage.Put(ctx, blobID, counter, blob.PutOptions{
		ContentType:   contentType,
		ContentLength: contentLength,
	}); err != nil {
		return 0, fmt.Errorf("failed to store blob: %w", err)
	}
	if counter.n > s.cfg.MaxBlobSize {
		if _, derr := storage.Delete(ctx, blobID); derr != nil {
			slog.Error("failed to remove oversized blob", "blob_id", blobID, "error", derr)
		}
		return 0, ErrBlobTooLarge
	}

	if contentType == "" {
		contentType = upload.ContentType
	}
	upload.ContentType = contentType
	upload.Size = counter.n
	if err := s.store.RunTx(ctx, func(tx metadata.Tx) error {
		return tx.UpdateUpload(*upload)
	}); err != nil {
		return 0, fmt.Errorf("failed to record upload metadata: %w", err)
	}

	slog.Info("proxied upload", "blob_id", blobID, "size", counter.n)
	return counter.n, nil
}

// DownloadURL returns a time-limited URL serving the blob's bytes. Falls
// back to the server proxy when the backend cannot sign URLs.
func (s *Service) DownloadURL(ctx context.Context, blobID string) (string, error) {
	sc, err := s.storedConfig(ctx)
	if err != nil {
		return "", err
	}
	known, err := s.blobKnown(ctx, blobID)
	if err != nil {
		return "", err
	}
	if !known {
		return "", fmt.Errorf("%w: %q", ErrNotFound, blobID)
	}

	storage, err := s.blobs.Get(sc.Config.Storage)
	if err != nil {
		return "", err
	}
	u, err := storage.SignDownload(blobID, sc.Config.DownloadURLTTL())
	if errors.Is(err, blob.ErrUnsupported) {
		return s.cfg.BaseURL + "/api/blobs/" + blobID + "/data", nil
	}
	if err != nil {
		return "", err
	}
	return u, nil
}

// blobKnown reports whether blobID is tracked, either committed or pending.
func (s *Service) blobKnown(ctx context.Context, blobID string) (bool, error) {
	var known bool
	err := s.store.RunTx(ctx, func(tx metadata.Tx) error {
		b, err := tx.GetBlob(blobID)
		if err != nil {
			return err
		}
		if b != nil {
			known = true
			return nil
		}
		u, err := tx.GetUpload(blobID)
		if err != nil {
			return err
		}
		known = u != nil
		return nil
	})
	return known, err
}

// OpenBlob fetches the blob's bytes for the download proxy.
func (s *Service) OpenBlob(ctx context.Context, blobID string) (data []byte, contentType string, err error) {
	sc, err := s.storedConfig(ctx)
	if err != nil {
		return nil, "", err
	}
	err = s.store.RunTx(ctx, func(tx metadata.Tx) error {
		b, err := tx.GetBlob(blobID)
		if err != nil {
			return err
		}
		if b != nil {
			contentType = b.ContentType
			return nil
		}
		u, err := tx.GetUpload(blobID)
		if err != nil {
			return err
		}
		if u != nil {
			contentType = u.ContentType
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	storage, err := s.blobs.Get(sc.Config.Storage)
	if err != nil {
		return nil, "", err
	}
	data, err = storage.Get(ctx, blobID)
	if err != nil {
		return nil, "", err
	}
	if data == nil {
		return nil, "", fmt.Errorf("%w: %q", ErrNotFound, blobID)
	}
	return data, contentType, nil
}

// SetConfig stores client-supplied configuration. The write is gated on a
// payload checksum, so re-supplying unchanged config is a no-op. Returns
// whether anything was written.
func (s *Service) SetConfig(ctx context.Context, cfg metadata.Config) (bool, error) {
	if err := cfg.Storage.Validate(); err != nil {
		return false, fmt.Errorf("invalid storage config: %w", err)
	}
	checksum := metadata.Checksum(cfg)

	changed := false
	err := s.store.RunTx(ctx, func(tx metadata.Tx) error {
		cur, err := tx.GetConfig()
		if err != nil {
			return err
		}
		if cur != nil && cur.Checksum == checksum {
			return nil
		}
		changed = true
		return tx.PutConfig(cfg, checksum)
	})
	if err != nil {
		return false, err
	}
	if changed {
		slog.Info("stored configuration updated", "backend", cfg.Storage.Kind, "checksum", checksum)
	}
	return changed, nil
}

// SetFreezeGC flips the emergency GC circuit breaker. Reachable only
// through the admin channel.
func (s *Service) SetFreezeGC(ctx context.Context, frozen bool) error {
	err := s.store.RunTx(ctx, func(tx metadata.Tx) error {
		return tx.SetFreezeGC(frozen)
	})
	if err != nil {
		return err
	}
	slog.Warn("gc freeze flag changed", "frozen", frozen)
	return nil
}

// Stats returns aggregate metadata statistics.
func (s *Service) Stats(ctx context.Context) (*metadata.Stats, error) {
	var stats *metadata.Stats
	err := s.store.RunTx(ctx, func(tx metadata.Tx) error {
		var err error
		stats, err = tx.Stats()
		return err
	})
	return stats, err
}
