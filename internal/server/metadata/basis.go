package metadata

import (
	"encoding/json"
	"fmt"
	"time"
)

// BasisKind discriminates the destination precondition of an operation.
type BasisKind int

const (
	// BasisNone skips the check entirely; an existing destination is
	// silently overwritten.
	BasisNone BasisKind = iota
	// BasisAbsent requires that no file exists at the destination path.
	BasisAbsent
	// BasisEquals requires a file at the destination whose blob id matches
	// the expected one.
	BasisEquals
)

// Basis is the compare-and-swap precondition applied to a destination path
// before a mutation is allowed. The zero value is BasisNone.
type Basis struct {
	Kind   BasisKind
	BlobID string // expected blob id, set only when Kind == BasisEquals
}

func NoCheck() Basis            { return Basis{Kind: BasisNone} }
func MustBeAbsent() Basis       { return Basis{Kind: BasisAbsent} }
func MustEqual(id string) Basis { return Basis{Kind: BasisEquals, BlobID: id} }

type basisWire struct {
	Check  string `json:"check"`
	BlobID string `json:"blob_id,omitempty"`
}

func (b Basis) MarshalJSON() ([]byte, error) {
	w := basisWire{}
	switch b.Kind {
	case BasisNone:
		w.Check = "none"
	case BasisAbsent:
		w.Check = "absent"
	case BasisEquals:
		w.Check = "equals"
		w.BlobID = b.BlobID
	default:
		return nil, fmt.Errorf("unknown basis kind %d", b.Kind)
	}
	return json.Marshal(w)
}

func (b *Basis) UnmarshalJSON(data []byte) error {
	var w basisWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Check {
	case "", "none":
		*b = NoCheck()
	case "absent":
		*b = MustBeAbsent()
	case "equals":
		if w.BlobID == "" {
			return fmt.Errorf("basis check %q requires blob_id", w.Check)
		}
		*b = MustEqual(w.BlobID)
	default:
		return fmt.Errorf("unknown basis check %q", w.Check)
	}
	return nil
}

// AttrPatchKind discriminates how an attribute update treats the expiry.
type AttrPatchKind int

const (
	// PreserveExpiry leaves the file's expiry untouched.
	PreserveExpiry AttrPatchKind = iota
	// ClearExpiry removes the expiry, making the file permanent.
	ClearExpiry
	// SetExpiry replaces the expiry with a new deadline.
	SetExpiry
)

// AttrPatch describes a tri-state update to a file's expiry attribute. The
// zero value preserves the current attributes.
type AttrPatch struct {
	Kind      AttrPatchKind
	ExpiresAt time.Time // set only when Kind == SetExpiry
}

func PreserveAttrs() AttrPatch       { return AttrPatch{Kind: PreserveExpiry} }
func ClearAttrs() AttrPatch          { return AttrPatch{Kind: ClearExpiry} }
func ExpireAt(t time.Time) AttrPatch { return AttrPatch{Kind: SetExpiry, ExpiresAt: t} }

type attrPatchWire struct {
	Expires   string     `json:"expires"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (p AttrPatch) MarshalJSON() ([]byte, error) {
	w := attrPatchWire{}
	switch p.Kind {
	case PreserveExpiry:
		w.Expires = "preserve"
	case ClearExpiry:
		w.Expires = "clear"
	case SetExpiry:
		w.Expires = "set"
		t := p.ExpiresAt
		w.ExpiresAt = &t
	default:
		return nil, fmt.Errorf("unknown attribute patch kind %d", p.Kind)
	}
	return json.Marshal(w)
}

func (p *AttrPatch) UnmarshalJSON(data []byte) error {
	var w attrPatchWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Expires {
	case "", "preserve":
		*p = PreserveAttrs()
	case "clear":
		*p = ClearAttrs()
	case "set":
		if w.ExpiresAt == nil {
			return fmt.Errorf("attribute patch %q requires expires_at", w.Expires)
		}
		*p = ExpireAt(*w.ExpiresAt)
	default:
		return fmt.Errorf("unknown attribute patch %q", w.Expires)
	}
	return nil
}
