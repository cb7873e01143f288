package metadata

import (
	"context"
	"errors"
	"testing"
	"time"
)

// seed populates the store with blobs (id to refcount) and files (path to
// blob id) outside any engine transaction.
func seed(t *testing.T, store *MemStore, blobs map[string]int, files map[string]string) {
	t.Helper()
	err := store.RunTx(context.Background(), func(tx Tx) error {
		for id, refs := range blobs {
			if err := tx.InsertBlob(Blob{BlobID: id, Size: 10, RefCount: refs, UpdatedAt: time.Now().UTC()}); err != nil {
				return err
			}
		}
		for path, id := range files {
			if err := tx.InsertFile(File{Path: path, BlobID: id}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seeding failed: %v", err)
	}
}

func getFile(t *testing.T, store *MemStore, path string) *File {
	t.Helper()
	var f *File
	err := store.RunTx(context.Background(), func(tx Tx) error {
		var err error
		f, err = tx.GetFile(path)
		return err
	})
	if err != nil {
		t.Fatalf("GetFile(%q): %v", path, err)
	}
	return f
}

func getBlob(t *testing.T, store *MemStore, id string) *Blob {
	t.Helper()
	var b *Blob
	err := store.RunTx(context.Background(), func(tx Tx) error {
		var err error
		b, err = tx.GetBlob(id)
		return err
	})
	if err != nil {
		t.Fatalf("GetBlob(%q): %v", id, err)
	}
	return b
}

func assertRefCount(t *testing.T, store *MemStore, id string, want int) {
	t.Helper()
	b := getBlob(t, store, id)
	if b == nil {
		t.Fatalf("blob %q does not exist", id)
	}
	if b.RefCount != want {
		t.Errorf("blob %q refcount = %d, want %d", id, b.RefCount, want)
	}
}

func assertConflict(t *testing.T, err error, code ConflictCode, opIndex int) *ConflictError {
	t.Helper()
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if ce.Code != code {
		t.Errorf("conflict code = %s, want %s", ce.Code, code)
	}
	if ce.OpIndex != opIndex {
		t.Errorf("conflict op index = %d, want %d", ce.OpIndex, opIndex)
	}
	return ce
}

func src(path, blobID string) Source {
	return Source{Path: path, BlobID: blobID}
}

func TestTransactDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes file and drops the reference", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1}, map[string]string{"a.txt": "b1"})
		engine := NewEngine(store)

		if err := engine.Transact(ctx, []Op{Delete(src("a.txt", "b1"))}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if getFile(t, store, "a.txt") != nil {
			t.Error("file still exists after delete")
		}
		assertRefCount(t, store, "b1", 0)
	})

	t.Run("missing file conflicts", func(t *testing.T) {
		store := NewMemStore()
		engine := NewEngine(store)

		err := engine.Transact(ctx, []Op{Delete(src("nope.txt", "b1"))})
		assertConflict(t, err, SourceNotFound, 1)
	})

	t.Run("stale blob id conflicts", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b2": 1}, map[string]string{"a.txt": "b2"})
		engine := NewEngine(store)

		err := engine.Transact(ctx, []Op{Delete(src("a.txt", "b1"))})
		ce := assertConflict(t, err, SourceChanged, 1)
		if ce.Expected != "b1" || ce.Found != "b2" {
			t.Errorf("expected/found = %q/%q, want b1/b2", ce.Expected, ce.Found)
		}
		assertRefCount(t, store, "b2", 1)
	})
}

func TestTransactMove(t *testing.T) {
	ctx := context.Background()

	t.Run("to vacant destination", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1}, map[string]string{"a.txt": "b1"})
		engine := NewEngine(store)

		err := engine.Transact(ctx, []Op{Move(src("a.txt", "b1"), "b.txt", MustBeAbsent())})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if getFile(t, store, "a.txt") != nil {
			t.Error("source still exists after move")
		}
		dst := getFile(t, store, "b.txt")
		if dst == nil || dst.BlobID != "b1" {
			t.Fatalf("destination = %+v, want blob b1", dst)
		}
		assertRefCount(t, store, "b1", 1)
	})

	t.Run("clears attributes on the destination", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1}, nil)
		expiry := time.Now().Add(time.Hour).UTC()
		err := store.RunTx(ctx, func(tx Tx) error {
			return tx.InsertFile(File{Path: "a.txt", BlobID: "b1", ExpiresAt: &expiry})
		})
		if err != nil {
			t.Fatalf("seeding failed: %v", err)
		}
		engine := NewEngine(store)

		if err := engine.Transact(ctx, []Op{Move(src("a.txt", "b1"), "b.txt", NoCheck())}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dst := getFile(t, store, "b.txt"); dst.ExpiresAt != nil {
			t.Error("expiry carried over to the destination")
		}
	})

	t.Run("overwrite drops the old destination reference", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1, "b2": 1}, map[string]string{"a.txt": "b1", "b.txt": "b2"})
		engine := NewEngine(store)

		err := engine.Transact(ctx, []Op{Move(src("a.txt", "b1"), "b.txt", MustEqual("b2"))})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dst := getFile(t, store, "b.txt"); dst.BlobID != "b1" {
			t.Errorf("destination blob = %q, want b1", dst.BlobID)
		}
		assertRefCount(t, store, "b1", 1)
		assertRefCount(t, store, "b2", 0)
	})

	t.Run("absent basis rejects occupied destination", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1, "b2": 1}, map[string]string{"a.txt": "b1", "b.txt": "b2"})
		engine := NewEngine(store)

		err := engine.Transact(ctx, []Op{Move(src("a.txt", "b1"), "b.txt", MustBeAbsent())})
		assertConflict(t, err, DestExists, 1)
	})

	t.Run("equals basis rejects changed destination", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1, "b3": 1}, map[string]string{"a.txt": "b1", "b.txt": "b3"})
		engine := NewEngine(store)

		err := engine.Transact(ctx, []Op{Move(src("a.txt", "b1"), "b.txt", MustEqual("b2"))})
		assertConflict(t, err, DestChanged, 1)
	})

	t.Run("equals basis rejects vacant destination", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1}, map[string]string{"a.txt": "b1"})
		engine := NewEngine(store)

		err := engine.Transact(ctx, []Op{Move(src("a.txt", "b1"), "b.txt", MustEqual("b2"))})
		assertConflict(t, err, DestNotFound, 1)
	})

	t.Run("self move keeps the reference and clears attrs", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1}, nil)
		expiry := time.Now().Add(time.Hour).UTC()
		err := store.RunTx(ctx, func(tx Tx) error {
			return tx.InsertFile(File{Path: "a.txt", BlobID: "b1", ExpiresAt: &expiry})
		})
		if err != nil {
			t.Fatalf("seeding failed: %v", err)
		}
		engine := NewEngine(store)

		if err := engine.Transact(ctx, []Op{Move(src("a.txt", "b1"), "a.txt", NoCheck())}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		f := getFile(t, store, "a.txt")
		if f == nil || f.BlobID != "b1" {
			t.Fatalf("file = %+v, want blob b1", f)
		}
		if f.ExpiresAt != nil {
			t.Error("expiry survived a self move")
		}
		assertRefCount(t, store, "b1", 1)
	})
}

func TestTransactCopy(t *testing.T) {
	ctx := context.Background()

	t.Run("shares the blob and bumps the refcount", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1}, map[string]string{"a.txt": "b1"})
		engine := NewEngine(store)

		journal := []Op{
			Copy(src("a.txt", "b1"), "copy1.txt", MustBeAbsent()),
			Copy(src("a.txt", "b1"), "copy2.txt", MustBeAbsent()),
		}
		if err := engine.Transact(ctx, journal); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertRefCount(t, store, "b1", 3)
		for _, p := range []string{"a.txt", "copy1.txt", "copy2.txt"} {
			if f := getFile(t, store, p); f == nil || f.BlobID != "b1" {
				t.Errorf("file %q = %+v, want blob b1", p, f)
			}
		}
	})

	t.Run("overwrite swaps the destination reference", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1, "b2": 1}, map[string]string{"a.txt": "b1", "b.txt": "b2"})
		engine := NewEngine(store)

		err := engine.Transact(ctx, []Op{Copy(src("a.txt", "b1"), "b.txt", NoCheck())})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertRefCount(t, store, "b1", 2)
		assertRefCount(t, store, "b2", 0)
	})
}

func TestTransactSetAttributes(t *testing.T) {
	ctx := context.Background()
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	newStore := func(t *testing.T, fileExpiry *time.Time) *MemStore {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1}, nil)
		err := store.RunTx(ctx, func(tx Tx) error {
			return tx.InsertFile(File{Path: "a.txt", BlobID: "b1", ExpiresAt: fileExpiry})
		})
		if err != nil {
			t.Fatalf("seeding failed: %v", err)
		}
		return store
	}

	t.Run("set", func(t *testing.T) {
		store := newStore(t, nil)
		engine := NewEngine(store)
		err := engine.Transact(ctx, []Op{SetAttributes(src("a.txt", "b1"), ExpireAt(expiry))})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		f := getFile(t, store, "a.txt")
		if f.ExpiresAt == nil || !f.ExpiresAt.Equal(expiry) {
			t.Errorf("expiry = %v, want %v", f.ExpiresAt, expiry)
		}
	})

	t.Run("clear", func(t *testing.T) {
		store := newStore(t, &expiry)
		engine := NewEngine(store)
		err := engine.Transact(ctx, []Op{SetAttributes(src("a.txt", "b1"), ClearAttrs())})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f := getFile(t, store, "a.txt"); f.ExpiresAt != nil {
			t.Errorf("expiry = %v, want nil", f.ExpiresAt)
		}
	})

	t.Run("preserve", func(t *testing.T) {
		store := newStore(t, &expiry)
		engine := NewEngine(store)
		err := engine.Transact(ctx, []Op{SetAttributes(src("a.txt", "b1"), PreserveAttrs())})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		f := getFile(t, store, "a.txt")
		if f.ExpiresAt == nil || !f.ExpiresAt.Equal(expiry) {
			t.Errorf("expiry = %v, want %v", f.ExpiresAt, expiry)
		}
	})

	t.Run("refcount is untouched", func(t *testing.T) {
		store := newStore(t, nil)
		engine := NewEngine(store)
		err := engine.Transact(ctx, []Op{SetAttributes(src("a.txt", "b1"), ExpireAt(expiry))})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertRefCount(t, store, "b1", 1)
	})
}

func TestTransactJournals(t *testing.T) {
	ctx := context.Background()

	t.Run("later ops see earlier effects", func(t *testing.T) {
		// Delete the destination, then move into the freed path with an
		// absent basis. Only valid because op 2 sees op 1's effect.
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1, "b2": 1}, map[string]string{"a.txt": "b1", "b.txt": "b2"})
		engine := NewEngine(store)

		journal := []Op{
			Delete(src("b.txt", "b2")),
			Move(src("a.txt", "b1"), "b.txt", MustBeAbsent()),
		}
		if err := engine.Transact(ctx, journal); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if getFile(t, store, "a.txt") != nil {
			t.Error("a.txt still exists")
		}
		if f := getFile(t, store, "b.txt"); f == nil || f.BlobID != "b1" {
			t.Errorf("b.txt = %+v, want blob b1", f)
		}
		assertRefCount(t, store, "b1", 1)
		assertRefCount(t, store, "b2", 0)
	})

	t.Run("swap through a temporary", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1, "b2": 1}, map[string]string{"x": "b1", "y": "b2"})
		engine := NewEngine(store)

		journal := []Op{
			Move(src("x", "b1"), "tmp", MustBeAbsent()),
			Move(src("y", "b2"), "x", MustBeAbsent()),
			Move(src("tmp", "b1"), "y", MustBeAbsent()),
		}
		if err := engine.Transact(ctx, journal); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f := getFile(t, store, "x"); f.BlobID != "b2" {
			t.Errorf("x blob = %q, want b2", f.BlobID)
		}
		if f := getFile(t, store, "y"); f.BlobID != "b1" {
			t.Errorf("y blob = %q, want b1", f.BlobID)
		}
		if getFile(t, store, "tmp") != nil {
			t.Error("tmp still exists after swap")
		}
		assertRefCount(t, store, "b1", 1)
		assertRefCount(t, store, "b2", 1)
	})

	t.Run("mid journal conflict rolls everything back", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1, "b2": 1}, map[string]string{"a.txt": "b1", "b.txt": "b2"})
		engine := NewEngine(store)

		journal := []Op{
			Delete(src("a.txt", "b1")),
			Move(src("b.txt", "wrong-blob"), "c.txt", MustBeAbsent()),
		}
		err := engine.Transact(ctx, journal)
		assertConflict(t, err, SourceChanged, 2)

		// Op 1 must not have stuck.
		if getFile(t, store, "a.txt") == nil {
			t.Error("a.txt was deleted despite the journal aborting")
		}
		assertRefCount(t, store, "b1", 1)
	})

	t.Run("empty journal is a no-op", func(t *testing.T) {
		engine := NewEngine(NewMemStore())
		if err := engine.Transact(ctx, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("malformed op fails upfront as invalid", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1}, map[string]string{"a.txt": "b1"})
		engine := NewEngine(store)

		journal := []Op{
			Delete(src("a.txt", "b1")),
			{Kind: OpMove, Source: src("a.txt", "b1")}, // no dest
		}
		err := engine.Transact(ctx, journal)
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid, got %v", err)
		}
		if getFile(t, store, "a.txt") == nil {
			t.Error("validation failure must not apply any op")
		}
	})
}

func TestByPathOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("move resolves the current blob id", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1}, map[string]string{"a.txt": "b1"})
		engine := NewEngine(store)

		if err := engine.MoveByPath(ctx, "a.txt", "b.txt"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f := getFile(t, store, "b.txt"); f == nil || f.BlobID != "b1" {
			t.Errorf("b.txt = %+v, want blob b1", f)
		}
	})

	t.Run("move to occupied destination conflicts", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1, "b2": 1}, map[string]string{"a.txt": "b1", "b.txt": "b2"})
		engine := NewEngine(store)

		err := engine.MoveByPath(ctx, "a.txt", "b.txt")
		assertConflict(t, err, DestExists, 1)
	})

	t.Run("move of missing source", func(t *testing.T) {
		engine := NewEngine(NewMemStore())
		err := engine.MoveByPath(ctx, "nope.txt", "b.txt")
		if !errors.Is(err, ErrFileNotFound) {
			t.Fatalf("expected ErrFileNotFound, got %v", err)
		}
	})

	t.Run("copy shares the blob", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1}, map[string]string{"a.txt": "b1"})
		engine := NewEngine(store)

		if err := engine.CopyByPath(ctx, "a.txt", "b.txt"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertRefCount(t, store, "b1", 2)
	})

	t.Run("delete of absent path succeeds", func(t *testing.T) {
		engine := NewEngine(NewMemStore())
		if err := engine.DeleteByPath(ctx, "nope.txt"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("delete removes the file", func(t *testing.T) {
		store := NewMemStore()
		seed(t, store, map[string]int{"b1": 1}, map[string]string{"a.txt": "b1"})
		engine := NewEngine(store)

		if err := engine.DeleteByPath(ctx, "a.txt"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if getFile(t, store, "a.txt") != nil {
			t.Error("file still exists after delete")
		}
		assertRefCount(t, store, "b1", 0)
	})
}
