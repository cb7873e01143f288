package metadata

import (
	"fmt"
	"time"
)

// OpKind names a journal operation.
type OpKind string

const (
	OpDelete        OpKind = "delete"
	OpMove          OpKind = "move"
	OpCopy          OpKind = "copy"
	OpSetAttributes OpKind = "set_attributes"
)

// Source is the caller's last-known view of the file an operation acts on.
// BlobID is the optimistic lock: the operation fails if the file's current
// blob id differs.
type Source struct {
	Path        string     `json:"path"`
	BlobID      string     `json:"blob_id"`
	ContentType string     `json:"content_type,omitempty"`
	Size        int64      `json:"size,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Dest names the target path of a move or copy together with its
// compare-and-swap precondition.
type Dest struct {
	Path  string `json:"path"`
	Basis Basis  `json:"basis"`
}

// Op is a single entry in a transaction journal.
type Op struct {
	Kind       OpKind     `json:"op"`
	Source     Source     `json:"source"`
	Dest       *Dest      `json:"dest,omitempty"`       // move, copy
	Attributes *AttrPatch `json:"attributes,omitempty"` // set_attributes
}

// Validate checks the op's shape before execution. Shape errors are caller
// bugs, not conflicts, and are reported as plain errors.
func (op Op) Validate() error {
	if op.Source.Path == "" {
		return fmt.Errorf("%s: source path is required", op.Kind)
	}
	if op.Source.BlobID == "" {
		return fmt.Errorf("%s %q: source blob id is required", op.Kind, op.Source.Path)
	}
	switch op.Kind {
	case OpDelete:
	case OpMove, OpCopy:
		if op.Dest == nil || op.Dest.Path == "" {
			return fmt.Errorf("%s %q: dest path is required", op.Kind, op.Source.Path)
		}
	case OpSetAttributes:
		if op.Attributes == nil {
			return fmt.Errorf("set_attributes %q: attributes are required", op.Source.Path)
		}
	default:
		return fmt.Errorf("unknown operation %q", op.Kind)
	}
	return nil
}

// Delete returns a journal op removing the file at source.
func Delete(src Source) Op {
	return Op{Kind: OpDelete, Source: src}
}

// Move returns a journal op relocating source to destPath under basis.
func Move(src Source, destPath string, basis Basis) Op {
	return Op{Kind: OpMove, Source: src, Dest: &Dest{Path: destPath, Basis: basis}}
}

// Copy returns a journal op duplicating source's binding at destPath under
// basis. The underlying blob is shared, not duplicated.
func Copy(src Source, destPath string, basis Basis) Op {
	return Op{Kind: OpCopy, Source: src, Dest: &Dest{Path: destPath, Basis: basis}}
}

// SetAttributes returns a journal op patching source's attributes.
func SetAttributes(src Source, patch AttrPatch) Op {
	return Op{Kind: OpSetAttributes, Source: src, Attributes: &patch}
}
