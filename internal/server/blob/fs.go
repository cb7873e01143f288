package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// FSConfig parameterizes the local-filesystem backend.
type FSConfig struct {
	BasePath string `json:"base_path"`
}

func (c FSConfig) validate() error {
	if c.BasePath == "" {
		return errors.New("fs backend requires base_path")
	}
	return nil
}

// FS stores blobs as zstd-compressed files in a flat directory. It cannot
// mint signed URLs, so clients go through the server's proxy endpoints.
type FS struct {
	basePath string
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// NewFS creates the filesystem backend, ensuring the base directory exists.
func NewFS(cfg FSConfig) (*FS, error) {
	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", cfg.BasePath, err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &FS{basePath: cfg.BasePath, enc: enc, dec: dec}, nil
}

func (f *FS) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	path, err := f.objectPath(key)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read object body: %w", err)
	}
	compressed := f.enc.EncodeAll(data, nil)

	// Write-then-rename so a crashed Put never leaves a truncated object.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0644); err != nil {
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize object %s: %w", key, err)
	}
	return nil
}

func (f *FS) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := f.objectPath(key)
	if err != nil {
		return nil, err
	}
	compressed, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	data, err := f.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress object %s: %w", key, err)
	}
	return data, nil
}

func (f *FS) Delete(ctx context.Context, key string) (DeleteStatus, error) {
	path, err := f.objectPath(key)
	if err != nil {
		return "", err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return NotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return Deleted, nil
}

func (f *FS) SignUpload(key string, expiresIn time.Duration) (string, error) {
	return "", ErrUnsupported
}

func (f *FS) SignDownload(key string, expiresIn time.Duration) (string, error) {
	return "", ErrUnsupported
}

// objectPath maps a key to its on-disk location. Keys are opaque ids, never
// paths; anything that could escape the base directory is rejected.
func (f *FS) objectPath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, "/\\") || key == "." || key == ".." {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(f.basePath, key+".zst"), nil
}
