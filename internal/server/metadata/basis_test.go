package metadata

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBasisJSON(t *testing.T) {
	t.Run("wire forms", func(t *testing.T) {
		cases := []struct {
			basis Basis
			want  string
		}{
			{NoCheck(), `{"check":"none"}`},
			{MustBeAbsent(), `{"check":"absent"}`},
			{MustEqual("b1"), `{"check":"equals","blob_id":"b1"}`},
		}
		for _, c := range cases {
			raw, err := json.Marshal(c.basis)
			if err != nil {
				t.Fatalf("marshal %+v: %v", c.basis, err)
			}
			if string(raw) != c.want {
				t.Errorf("marshal %+v = %s, want %s", c.basis, raw, c.want)
			}
			var back Basis
			if err := json.Unmarshal(raw, &back); err != nil {
				t.Fatalf("unmarshal %s: %v", raw, err)
			}
			if back != c.basis {
				t.Errorf("round trip %+v came back as %+v", c.basis, back)
			}
		}
	})

	t.Run("omitted check defaults to none", func(t *testing.T) {
		var b Basis
		if err := json.Unmarshal([]byte(`{}`), &b); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b.Kind != BasisNone {
			t.Errorf("kind = %d, want BasisNone", b.Kind)
		}
	})

	t.Run("equals without blob id is rejected", func(t *testing.T) {
		var b Basis
		if err := json.Unmarshal([]byte(`{"check":"equals"}`), &b); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("unknown check is rejected", func(t *testing.T) {
		var b Basis
		if err := json.Unmarshal([]byte(`{"check":"maybe"}`), &b); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestAttrPatchJSON(t *testing.T) {
	t.Run("wire forms", func(t *testing.T) {
		when := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
		cases := []struct {
			patch AttrPatch
			want  string
		}{
			{PreserveAttrs(), `{"expires":"preserve"}`},
			{ClearAttrs(), `{"expires":"clear"}`},
			{ExpireAt(when), `{"expires":"set","expires_at":"2030-06-01T12:00:00Z"}`},
		}
		for _, c := range cases {
			raw, err := json.Marshal(c.patch)
			if err != nil {
				t.Fatalf("marshal %+v: %v", c.patch, err)
			}
			if string(raw) != c.want {
				t.Errorf("marshal %+v = %s, want %s", c.patch, raw, c.want)
			}
			var back AttrPatch
			if err := json.Unmarshal(raw, &back); err != nil {
				t.Fatalf("unmarshal %s: %v", raw, err)
			}
			if back.Kind != c.patch.Kind || !back.ExpiresAt.Equal(c.patch.ExpiresAt) {
				t.Errorf("round trip %+v came back as %+v", c.patch, back)
			}
		}
	})

	t.Run("set without a deadline is rejected", func(t *testing.T) {
		var p AttrPatch
		if err := json.Unmarshal([]byte(`{"expires":"set"}`), &p); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("omitted field defaults to preserve", func(t *testing.T) {
		var p AttrPatch
		if err := json.Unmarshal([]byte(`{}`), &p); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Kind != PreserveExpiry {
			t.Errorf("kind = %d, want PreserveExpiry", p.Kind)
		}
	})
}

func TestOpJSON(t *testing.T) {
	t.Run("move journal round trips", func(t *testing.T) {
		op := Move(Source{Path: "a.txt", BlobID: "b1"}, "b.txt", MustEqual("b2"))
		raw, err := json.Marshal(op)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var back Op
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if back.Kind != OpMove || back.Source.Path != "a.txt" || back.Dest == nil {
			t.Fatalf("round trip lost fields: %+v", back)
		}
		if back.Dest.Basis != MustEqual("b2") {
			t.Errorf("basis = %+v, want equals b2", back.Dest.Basis)
		}
	})

	t.Run("delete omits dest and attributes", func(t *testing.T) {
		raw, err := json.Marshal(Delete(Source{Path: "a.txt", BlobID: "b1"}))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if _, ok := m["dest"]; ok {
			t.Error("delete carries a dest field")
		}
		if _, ok := m["attributes"]; ok {
			t.Error("delete carries an attributes field")
		}
	})
}
