package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"budget/internal/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"EntryID", id.NewEntryID, "exp_"},
		{"TemplateID", id.NewTemplateID, "rec_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseWithPrefix(t *testing.T) {
	entry := id.NewEntryID()

	parsed, err := id.ParseEntryID(entry.String())
	if err != nil {
		t.Fatalf("ParseEntryID: %v", err)
	}
	if parsed.String() != entry.String() {
		t.Errorf("round trip mismatch: %s != %s", parsed, entry)
	}

	if _, err := id.ParseTemplateID(entry.String()); err == nil {
		t.Error("expected prefix mismatch error")
	}
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
	if _, err := id.Parse("not an id"); err == nil {
		t.Error("expected error for garbage")
	}
}

func TestNilID(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Fatal("Nil should be nil")
	}
	if id.Nil.String() != "" {
		t.Errorf("Nil.String() = %q", id.Nil.String())
	}
	v, err := id.Nil.Value()
	if err != nil || v != nil {
		t.Errorf("Nil.Value() = %v, %v; want nil, nil", v, err)
	}
}

func TestScan(t *testing.T) {
	orig := id.NewTemplateID()

	for _, src := range []any{orig.String(), []byte(orig.String())} {
		var got id.ID
		if err := got.Scan(src); err != nil {
			t.Fatalf("Scan(%T): %v", src, err)
		}
		if got.String() != orig.String() {
			t.Errorf("Scan(%T) = %s, want %s", src, got, orig)
		}
	}

	var fromNull id.ID
	if err := fromNull.Scan(nil); err != nil || !fromNull.IsNil() {
		t.Errorf("Scan(nil) = %v, %v", fromNull, err)
	}

	var bad id.ID
	if err := bad.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestJSON(t *testing.T) {
	type wrapper struct {
		ID       id.ID `json:"id"`
		Template id.ID `json:"template"`
	}
	in := wrapper{ID: id.NewEntryID()}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID.String() != in.ID.String() || !out.Template.IsNil() {
		t.Errorf("got %+v, want %+v", out, in)
	}
}
