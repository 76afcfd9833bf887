package metadata

import (
	"errors"
	"testing"

	"github.com/nainya/metastream/pkg/schema"
	"github.com/nainya/metastream/pkg/variant"
)

func TestNewRecordIsUndefined(t *testing.T) {
	desc, _ := schema.NewDescriptor("note", schema.FieldDesc{Name: "text", Type: variant.TypeString})
	md := New(desc)

	if md.ID() != InvalidID {
		t.Errorf("expected InvalidID, got %d", md.ID())
	}
	if md.FrameIndex() != UndefinedFrameIndex || md.NumFrames() != UndefinedFrameCount {
		t.Errorf("frame range not undefined: %d/%d", md.FrameIndex(), md.NumFrames())
	}
	if md.Timestamp() != UndefinedTimestamp || md.Duration() != UndefinedDuration {
		t.Errorf("time range not undefined: %d/%d", md.Timestamp(), md.Duration())
	}
	if !md.IsEmpty() {
		t.Errorf("new record has values")
	}
}

func TestSetFieldConvertsAndReplaces(t *testing.T) {
	desc, _ := schema.NewDescriptor("sample",
		schema.FieldDesc{Name: "score", Type: variant.TypeReal},
		schema.FieldDesc{Name: "label", Type: variant.TypeString},
	)
	md := New(desc)

	if err := md.SetFieldValue("label", variant.String("a")); err != nil {
		t.Fatalf("SetFieldValue failed: %v", err)
	}
	if err := md.SetFieldValue("score", variant.Integer(3)); err != nil {
		t.Fatalf("SetFieldValue failed: %v", err)
	}
	if err := md.SetFieldValue("label", variant.String("b")); err != nil {
		t.Fatalf("SetFieldValue failed: %v", err)
	}

	v, _ := md.FieldValue("score")
	if v.Type() != variant.TypeReal {
		t.Errorf("score not converted to real: %v", v.Type())
	}
	if len(md.Fields()) != 2 {
		t.Errorf("expected 2 values after replace, got %d", len(md.Fields()))
	}
	names := md.FieldNames()
	if len(names) != 2 || names[0] != "score" || names[1] != "label" {
		t.Errorf("FieldNames not in descriptor order: %v", names)
	}

	if err := md.SetFieldValue("missing", variant.Integer(1)); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
	if err := md.SetFieldValue("score", variant.String("nope")); !errors.Is(err, variant.ErrBadValue) {
		t.Errorf("expected ErrBadValue, got %v", err)
	}
}

func TestPositionalValues(t *testing.T) {
	desc, _ := schema.NewDescriptor("tags", schema.FieldDesc{Type: variant.TypeString})
	md := New(desc)

	for _, tag := range []string{"x", "y", "x"} {
		if err := md.AddValue(variant.String(tag)); err != nil {
			t.Fatalf("AddValue failed: %v", err)
		}
	}
	if len(md.Fields()) != 3 {
		t.Errorf("positional values were merged: %d", len(md.Fields()))
	}

	named, _ := schema.NewDescriptor("named", schema.FieldDesc{Name: "a", Type: variant.TypeString})
	if err := New(named).AddValue(variant.String("z")); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
}

func TestValidateEncryptionMarkers(t *testing.T) {
	desc, _ := schema.NewDescriptor("secret", schema.FieldDesc{Name: "v", Type: variant.TypeString, Optional: true})
	md := New(desc)

	md.SetEncryption(true, "")
	if err := md.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	md.SetEncryption(true, "Y2lwaGVy")
	if err := md.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	fv := variant.NewFieldValue("v", variant.String("plain"))
	fv.UseEncryption = true
	if err := md.SetField(fv); err != nil {
		t.Fatalf("SetField failed: %v", err)
	}
	if err := md.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for field marker, got %v", err)
	}
}

func TestAddReferenceRequiresID(t *testing.T) {
	desc, _ := schema.NewDescriptor("node", schema.FieldDesc{Name: "v", Type: variant.TypeInteger, Optional: true})
	a := New(desc)
	b := New(desc)

	if err := a.AddReference(nil, "x"); !errors.Is(err, ErrNullRecord) {
		t.Errorf("expected ErrNullRecord, got %v", err)
	}
	if err := a.AddReference(b, "x"); !errors.Is(err, ErrDanglingReference) {
		t.Errorf("expected ErrDanglingReference for unsaved target, got %v", err)
	}

	b = FromStorage(desc, 7)
	if err := a.AddReference(b, "x"); err != nil {
		t.Fatalf("AddReference failed: %v", err)
	}
	a.AddReferenceID(7, "y")
	a.RemoveReference(7)
	if len(a.References()) != 0 {
		t.Errorf("RemoveReference left %v", a.References())
	}
}

func TestEqualIgnoresNamedFieldOrder(t *testing.T) {
	desc, _ := schema.NewDescriptor("pair",
		schema.FieldDesc{Name: "a", Type: variant.TypeInteger},
		schema.FieldDesc{Name: "b", Type: variant.TypeInteger},
	)
	x := FromStorage(desc, 1)
	y := FromStorage(desc, 1)
	x.SetFieldValue("a", variant.Integer(1))
	x.SetFieldValue("b", variant.Integer(2))
	y.SetFieldValue("b", variant.Integer(2))
	y.SetFieldValue("a", variant.Integer(1))

	if !x.Equal(y) {
		t.Errorf("records with the same values compare unequal")
	}
	y.SetTimestamp(10, 5)
	if x.Equal(y) {
		t.Errorf("timestamp difference not detected")
	}
}
