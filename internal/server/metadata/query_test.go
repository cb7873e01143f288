package metadata

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestStat(t *testing.T) {
	ctx := context.Background()

	t.Run("joins file and blob metadata", func(t *testing.T) {
		store := NewMemStore()
		err := store.RunTx(ctx, func(tx Tx) error {
			if err := tx.InsertBlob(Blob{BlobID: "b1", ContentType: "text/plain", Size: 42, RefCount: 1}); err != nil {
				return err
			}
			return tx.InsertFile(File{Path: "a.txt", BlobID: "b1"})
		})
		if err != nil {
			t.Fatalf("seeding failed: %v", err)
		}
		engine := NewEngine(store)

		md, err := engine.Stat(ctx, "a.txt")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if md.Path != "a.txt" || md.BlobID != "b1" || md.ContentType != "text/plain" || md.Size != 42 {
			t.Errorf("metadata = %+v", md)
		}
	})

	t.Run("absent file is nil not an error", func(t *testing.T) {
		engine := NewEngine(NewMemStore())
		md, err := engine.Stat(ctx, "nope.txt")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if md != nil {
			t.Errorf("metadata = %+v, want nil", md)
		}
	})

	t.Run("file with missing blob is corruption", func(t *testing.T) {
		store := NewMemStore()
		err := store.RunTx(ctx, func(tx Tx) error {
			return tx.InsertFile(File{Path: "a.txt", BlobID: "ghost"})
		})
		if err != nil {
			t.Fatalf("seeding failed: %v", err)
		}
		engine := NewEngine(store)

		_, err = engine.Stat(ctx, "a.txt")
		if !errors.Is(err, ErrCorrupt) {
			t.Fatalf("expected ErrCorrupt, got %v", err)
		}
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()

	// Ten files under two prefixes sharing one blob.
	newStore := func(t *testing.T) *MemStore {
		store := NewMemStore()
		err := store.RunTx(ctx, func(tx Tx) error {
			if err := tx.InsertBlob(Blob{BlobID: "b1", Size: 10, RefCount: 10}); err != nil {
				return err
			}
			for i := 0; i < 5; i++ {
				if err := tx.InsertFile(File{Path: fmt.Sprintf("docs/%d.txt", i), BlobID: "b1"}); err != nil {
					return err
				}
				if err := tx.InsertFile(File{Path: fmt.Sprintf("pics/%d.png", i), BlobID: "b1"}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("seeding failed: %v", err)
		}
		return store
	}

	t.Run("returns ascending path order", func(t *testing.T) {
		engine := NewEngine(newStore(t))
		page, err := engine.List(ctx, "", "", 100)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(page.Files) != 10 {
			t.Fatalf("got %d files, want 10", len(page.Files))
		}
		if !page.IsDone {
			t.Error("expected final page")
		}
		for i := 1; i < len(page.Files); i++ {
			if page.Files[i-1].Path >= page.Files[i].Path {
				t.Errorf("out of order: %q before %q", page.Files[i-1].Path, page.Files[i].Path)
			}
		}
	})

	t.Run("prefix restricts the listing", func(t *testing.T) {
		engine := NewEngine(newStore(t))
		page, err := engine.List(ctx, "docs/", "", 100)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(page.Files) != 5 {
			t.Fatalf("got %d files, want 5", len(page.Files))
		}
		for _, f := range page.Files {
			if f.Path[:5] != "docs/" {
				t.Errorf("unexpected path %q", f.Path)
			}
		}
	})

	t.Run("pagination walks the whole set", func(t *testing.T) {
		engine := NewEngine(newStore(t))

		var all []string
		cursor := ""
		pages := 0
		for {
			page, err := engine.List(ctx, "", cursor, 3)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			pages++
			for _, f := range page.Files {
				all = append(all, f.Path)
			}
			if page.IsDone {
				if page.ContinueCursor != "" {
					t.Error("final page carries a cursor")
				}
				break
			}
			if page.ContinueCursor == "" {
				t.Fatal("non-final page missing its cursor")
			}
			cursor = page.ContinueCursor
		}
		if len(all) != 10 {
			t.Fatalf("walked %d files, want 10", len(all))
		}
		if pages != 4 {
			t.Errorf("walked %d pages, want 4", pages)
		}
		seen := make(map[string]bool)
		for _, p := range all {
			if seen[p] {
				t.Errorf("path %q returned twice", p)
			}
			seen[p] = true
		}
	})

	t.Run("prefix and cursor compose", func(t *testing.T) {
		engine := NewEngine(newStore(t))
		first, err := engine.List(ctx, "pics/", "", 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(first.Files) != 2 || first.IsDone {
			t.Fatalf("first page = %d files, done=%v", len(first.Files), first.IsDone)
		}
		second, err := engine.List(ctx, "pics/", first.ContinueCursor, 100)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(second.Files) != 3 || !second.IsDone {
			t.Fatalf("second page = %d files, done=%v", len(second.Files), second.IsDone)
		}
		if second.Files[0].Path <= first.Files[1].Path {
			t.Errorf("second page starts at %q, before cursor %q", second.Files[0].Path, first.Files[1].Path)
		}
	})

	t.Run("exact page boundary still ends", func(t *testing.T) {
		engine := NewEngine(newStore(t))
		page, err := engine.List(ctx, "docs/", "", 5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(page.Files) != 5 || !page.IsDone {
			t.Errorf("page = %d files, done=%v, want 5/true", len(page.Files), page.IsDone)
		}
	})

	t.Run("garbage cursor is invalid", func(t *testing.T) {
		engine := NewEngine(newStore(t))
		_, err := engine.List(ctx, "", "not%%%base64", 10)
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid, got %v", err)
		}
	})

	t.Run("empty store lists cleanly", func(t *testing.T) {
		engine := NewEngine(NewMemStore())
		page, err := engine.List(ctx, "", "", 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(page.Files) != 0 || !page.IsDone {
			t.Errorf("page = %+v, want empty and done", page)
		}
	})
}
