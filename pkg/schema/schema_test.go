package schema

import (
	"errors"
	"testing"

	"github.com/nainya/metastream/pkg/variant"
)

func TestDescriptorLookup(t *testing.T) {
	d, err := NewDescriptor("person",
		FieldDesc{Name: "name", Type: variant.TypeString},
		FieldDesc{Name: "age", Type: variant.TypeInteger, Optional: true},
	)
	if err != nil {
		t.Fatalf("NewDescriptor failed: %v", err)
	}

	f, ok := d.Field("age")
	if !ok || f.Type != variant.TypeInteger || !f.Optional {
		t.Errorf("unexpected field: %+v (found=%v)", f, ok)
	}
	if d.FieldIndex("name") != 0 || d.FieldIndex("missing") != -1 {
		t.Errorf("FieldIndex returned wrong positions")
	}
	if d.Positional() {
		t.Errorf("named descriptor reported as positional")
	}
}

func TestDescriptorRejectsBadFields(t *testing.T) {
	_, err := NewDescriptor("dup",
		FieldDesc{Name: "a", Type: variant.TypeString},
		FieldDesc{Name: "a", Type: variant.TypeInteger},
	)
	if !errors.Is(err, ErrDuplicateField) {
		t.Errorf("expected ErrDuplicateField, got %v", err)
	}

	_, err = NewDescriptor("mixed",
		FieldDesc{Type: variant.TypeString},
		FieldDesc{Name: "b", Type: variant.TypeInteger},
	)
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestSchemaAdd(t *testing.T) {
	s := New("people", "tests")
	d, _ := NewDescriptor("person", FieldDesc{Name: "name", Type: variant.TypeString})

	if err := s.Add(d); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if d.SchemaName != "people" {
		t.Errorf("descriptor not scoped to schema: %q", d.SchemaName)
	}

	again, _ := NewDescriptor("person")
	if err := s.Add(again); !errors.Is(err, ErrDuplicateDescriptor) {
		t.Errorf("expected ErrDuplicateDescriptor, got %v", err)
	}

	if s.Find("person") != d || len(s.All()) != 1 {
		t.Errorf("schema lookup mismatch")
	}
}
