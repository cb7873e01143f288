// Package blob provides the storage backend adapter: a small capability
// interface over key-value object stores, with interchangeable Bunny,
// S3-compatible, local-filesystem and in-memory implementations.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// DeleteStatus is the outcome of a Delete. Deletion is idempotent at the
// status level: deleting an absent key reports NotFound rather than failing.
type DeleteStatus string

const (
	Deleted  DeleteStatus = "deleted"
	NotFound DeleteStatus = "not_found"
)

// ErrUnsupported is returned by the signing operations when the backend has
// no way to mint time-limited URLs; callers fall back to proxying through
// the server.
var ErrUnsupported = errors.New("not supported by this storage backend")

// PutOptions carries object metadata alongside the bytes.
type PutOptions struct {
	ContentType   string
	ContentLength int64 // -1 when unknown
}

// Store is the capability set every storage backend provides. Get returns
// (nil, nil) when the key does not exist. Errors are reserved for real
// failures (network, 5xx); absence is never an error.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (DeleteStatus, error)
	// SignUpload mints a time-limited URL a client can PUT bytes to.
	SignUpload(key string, expiresIn time.Duration) (string, error)
	// SignDownload mints a time-limited URL serving the object's bytes.
	SignDownload(key string, expiresIn time.Duration) (string, error)
}

// Kind selects a backend implementation.
type Kind string

const (
	KindBunny  Kind = "bunny"
	KindS3     Kind = "s3"
	KindFS     Kind = "fs"
	KindMemory Kind = "memory"
)

// Config is the tagged backend union carried in stored configuration.
// Exactly the section matching Kind must be populated.
type Config struct {
	Kind  Kind         `json:"kind"`
	Bunny *BunnyConfig `json:"bunny,omitempty"`
	S3    *S3Config    `json:"s3,omitempty"`
	FS    *FSConfig    `json:"fs,omitempty"`
}

// Validate checks that the union is well-formed.
func (c Config) Validate() error {
	switch c.Kind {
	case KindBunny:
		if c.Bunny == nil {
			return errors.New("bunny backend requires a bunny section")
		}
		return c.Bunny.validate()
	case KindS3:
		if c.S3 == nil {
			return errors.New("s3 backend requires an s3 section")
		}
		return c.S3.validate()
	case KindFS:
		if c.FS == nil {
			return errors.New("fs backend requires an fs section")
		}
		return c.FS.validate()
	case KindMemory:
		return nil
	default:
		return fmt.Errorf("unknown storage backend %q", c.Kind)
	}
}

// New constructs the backend described by cfg.
func New(cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindBunny:
		return NewBunny(*cfg.Bunny), nil
	case KindS3:
		return NewS3(*cfg.S3), nil
	case KindFS:
		return NewFS(*cfg.FS)
	case KindMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Kind)
}
