package blob

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newFSBackend(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(FSConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestFSRoundTrip(t *testing.T) {
	ctx := context.Background()

	t.Run("put then get", func(t *testing.T) {
		fs := newFSBackend(t)
		payload := bytes.Repeat([]byte("some fairly compressible content. "), 100)

		if err := fs.Put(ctx, "key1", bytes.NewReader(payload), PutOptions{}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := fs.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("round trip corrupted the payload: got %d bytes, want %d", len(got), len(payload))
		}
	})

	t.Run("objects are stored compressed", func(t *testing.T) {
		fs := newFSBackend(t)
		payload := bytes.Repeat([]byte("aaaaaaaaaaaaaaaa"), 512)

		if err := fs.Put(ctx, "key1", bytes.NewReader(payload), PutOptions{}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		onDisk, err := os.ReadFile(filepath.Join(fs.basePath, "key1.zst"))
		if err != nil {
			t.Fatalf("reading stored object: %v", err)
		}
		if len(onDisk) >= len(payload) {
			t.Errorf("stored object is %d bytes, plaintext is %d", len(onDisk), len(payload))
		}
	})

	t.Run("missing key is nil not an error", func(t *testing.T) {
		fs := newFSBackend(t)
		got, err := fs.Get(ctx, "nope")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != nil {
			t.Errorf("got %d bytes for a missing key", len(got))
		}
	})

	t.Run("overwrite replaces the object", func(t *testing.T) {
		fs := newFSBackend(t)
		if err := fs.Put(ctx, "key1", bytes.NewReader([]byte("first")), PutOptions{}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := fs.Put(ctx, "key1", bytes.NewReader([]byte("second")), PutOptions{}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := fs.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != "second" {
			t.Errorf("got %q, want %q", got, "second")
		}
	})
}

func TestFSDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("existing object", func(t *testing.T) {
		fs := newFSBackend(t)
		if err := fs.Put(ctx, "key1", bytes.NewReader([]byte("data")), PutOptions{}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		status, err := fs.Delete(ctx, "key1")
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if status != Deleted {
			t.Errorf("status = %s, want %s", status, Deleted)
		}
	})

	t.Run("absent object reports not found", func(t *testing.T) {
		fs := newFSBackend(t)
		status, err := fs.Delete(ctx, "nope")
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if status != NotFound {
			t.Errorf("status = %s, want %s", status, NotFound)
		}
	})
}

func TestFSKeyValidation(t *testing.T) {
	fs := newFSBackend(t)
	ctx := context.Background()

	for _, key := range []string{"", ".", "..", "a/b", `a\b`, "../escape"} {
		if err := fs.Put(ctx, key, bytes.NewReader(nil), PutOptions{}); err == nil {
			t.Errorf("key %q was accepted", key)
		}
	}
}

func TestFSSigningUnsupported(t *testing.T) {
	fs := newFSBackend(t)
	if _, err := fs.SignUpload("key", 0); !errors.Is(err, ErrUnsupported) {
		t.Errorf("SignUpload error = %v, want ErrUnsupported", err)
	}
	if _, err := fs.SignDownload("key", 0); !errors.Is(err, ErrUnsupported) {
		t.Errorf("SignDownload error = %v, want ErrUnsupported", err)
	}
}
