package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Engine applies journals of file operations atomically against a Store,
// enforcing compare-and-swap preconditions and keeping blob reference
// counts consistent with the file rows that justify them.
type Engine struct {
	store Store
	now   func() time.Time
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// Transact applies ops in order inside one transaction. Operation k's
// predicates are evaluated against the state produced by operations 1..k-1,
// so a journal may chain: delete a path and move another file into it, or
// swap two paths through a temporary. The first predicate failure aborts
// the whole journal with a ConflictError carrying the 1-based index of the
// failing operation; no partial effects survive.
func (e *Engine) Transact(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("%w: op %d: %v", ErrInvalid, i+1, err)
		}
	}
	return e.store.RunTx(ctx, func(tx Tx) error {
		for i, op := range ops {
			if err := applyOp(tx, i+1, op); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyOp(tx Tx, index int, op Op) error {
	src, err := checkSource(tx, index, op)
	if err != nil {
		return err
	}
	switch op.Kind {
	case OpDelete:
		return applyDelete(tx, src)
	case OpMove:
		return applyMove(tx, index, src, *op.Dest)
	case OpCopy:
		return applyCopy(tx, index, src, *op.Dest)
	case OpSetAttributes:
		return applySetAttributes(tx, src, *op.Attributes)
	}
	return fmt.Errorf("unknown operation %q", op.Kind)
}

// checkSource enforces the unconditional source predicate: the file must
// exist and still carry the blob id the caller last observed.
func checkSource(tx Tx, index int, op Op) (*File, error) {
	f, err := tx.GetFile(op.Source.Path)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, conflict(SourceNotFound, index, op.Source.Path, op.Source.BlobID, "",
			fmt.Sprintf("no file at %q", op.Source.Path))
	}
	if f.BlobID != op.Source.BlobID {
		return nil, conflict(SourceChanged, index, op.Source.Path, op.Source.BlobID, f.BlobID,
			fmt.Sprintf("file at %q has changed since it was read", op.Source.Path))
	}
	return f, nil
}

// checkDest enforces the destination basis and returns the file currently
// at the destination, nil if the destination is vacant.
func checkDest(tx Tx, index int, dest Dest) (*File, error) {
	cur, err := tx.GetFile(dest.Path)
	if err != nil {
		return nil, err
	}
	switch dest.Basis.Kind {
	case BasisNone:
		return cur, nil
	case BasisAbsent:
		if cur != nil {
			return nil, conflict(DestExists, index, dest.Path, "", cur.BlobID,
				fmt.Sprintf("a file already exists at %q", dest.Path))
		}
		return nil, nil
	case BasisEquals:
		if cur == nil {
			return nil, conflict(DestNotFound, index, dest.Path, dest.Basis.BlobID, "",
				fmt.Sprintf("no file at %q to replace", dest.Path))
		}
		if cur.BlobID != dest.Basis.BlobID {
			return nil, conflict(DestChanged, index, dest.Path, dest.Basis.BlobID, cur.BlobID,
				fmt.Sprintf("file at %q has changed since it was read", dest.Path))
		}
		return cur, nil
	}
	return nil, fmt.Errorf("unknown basis kind %d", dest.Basis.Kind)
}

func applyDelete(tx Tx, src *File) error {
	if err := tx.DeleteFile(src.Path); err != nil {
		return err
	}
	return tx.AddRef(src.BlobID, -1)
}

func applyMove(tx Tx, index int, src *File, dest Dest) error {
	dst, err := checkDest(tx, index, dest)
	if err != nil {
		return err
	}
	if dest.Path == src.Path {
		// Degenerate self-move: ownership does not change hands, but the
		// destination's attributes are still cleared.
		return tx.UpdateFile(File{Path: src.Path, BlobID: src.BlobID})
	}
	if dst != nil {
		// Overwriting: the old destination binding dies with its reference.
		if err := tx.AddRef(dst.BlobID, -1); err != nil {
			return err
		}
		if err := tx.DeleteFile(dst.Path); err != nil {
			return err
		}
	}
	if err := tx.DeleteFile(src.Path); err != nil {
		return err
	}
	// Ownership of the source reference transfers to the destination row;
	// attributes do not carry forward.
	return tx.InsertFile(File{Path: dest.Path, BlobID: src.BlobID})
}

func applyCopy(tx Tx, index int, src *File, dest Dest) error {
	dst, err := checkDest(tx, index, dest)
	if err != nil {
		return err
	}
	if err := tx.AddRef(src.BlobID, 1); err != nil {
		return err
	}
	if dst != nil {
		if err := tx.AddRef(dst.BlobID, -1); err != nil {
			return err
		}
		return tx.UpdateFile(File{Path: dest.Path, BlobID: src.BlobID})
	}
	return tx.InsertFile(File{Path: dest.Path, BlobID: src.BlobID})
}

func applySetAttributes(tx Tx, src *File, patch AttrPatch) error {
	switch patch.Kind {
	case PreserveExpiry:
		return nil
	case ClearExpiry:
		return tx.UpdateFile(File{Path: src.Path, BlobID: src.BlobID})
	case SetExpiry:
		t := patch.ExpiresAt
		return tx.UpdateFile(File{Path: src.Path, BlobID: src.BlobID, ExpiresAt: &t})
	}
	return fmt.Errorf("unknown attribute patch kind %d", patch.Kind)
}

// MoveByPath relocates the file at srcPath to destPath, requiring the
// destination to be vacant. The current blob id is read first and used as
// the optimistic lock for the journal.
func (e *Engine) MoveByPath(ctx context.Context, srcPath, destPath string) error {
	src, err := e.sourceFor(ctx, srcPath)
	if err != nil {
		return err
	}
	return e.Transact(ctx, []Op{Move(src, destPath, MustBeAbsent())})
}

// CopyByPath duplicates the binding at srcPath to destPath, requiring the
// destination to be vacant.
func (e *Engine) CopyByPath(ctx context.Context, srcPath, destPath string) error {
	src, err := e.sourceFor(ctx, srcPath)
	if err != nil {
		return err
	}
	return e.Transact(ctx, []Op{Copy(src, destPath, MustBeAbsent())})
}

// DeleteByPath removes the file at path. Deleting an absent path is a
// no-op, including when a concurrent caller wins the race to delete it.
func (e *Engine) DeleteByPath(ctx context.Context, path string) error {
	src, err := e.sourceFor(ctx, path)
	if errors.Is(err, ErrFileNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	err = e.Transact(ctx, []Op{Delete(src)})
	var ce *ConflictError
	if errors.As(err, &ce) && ce.Code == SourceNotFound {
		return nil
	}
	return err
}

func (e *Engine) sourceFor(ctx context.Context, path string) (Source, error) {
	md, err := e.Stat(ctx, path)
	if err != nil {
		return Source{}, err
	}
	if md == nil {
		return Source{}, fmt.Errorf("%w: %q", ErrFileNotFound, path)
	}
	return Source{Path: md.Path, BlobID: md.BlobID}, nil
}
