package mapper

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/nainya/metastream/pkg/schema"
	"github.com/nainya/metastream/pkg/tree"
	"github.com/nainya/metastream/pkg/variant"
)

func TestSchemaSourceRoundTrip(t *testing.T) {
	sc := testSchema(t)
	sc.UseEncryption = true
	secret := schema.New("secrets", "")
	secret.MustAdd(schema.NewDescriptor("key",
		schema.FieldDesc{Name: "value", Type: variant.TypeBinary, UseEncryption: true},
		schema.FieldDesc{Name: "when", Type: variant.TypeDate, Optional: true},
		schema.FieldDesc{Name: "coeffs", Type: variant.TypeRealVector, Optional: true},
	))

	doc := tree.New()
	src := NewSchemaSource(doc)
	for _, s := range []*schema.Schema{sc, secret} {
		if err := src.Save(s); err != nil {
			t.Fatalf("Save(%s) failed: %v", s.Name, err)
		}
	}
	// saving again replaces instead of duplicating
	if err := src.Save(sc); err != nil {
		t.Fatalf("re-save failed: %v", err)
	}
	if n := doc.Count(DefinitionsArray); n != 2 {
		t.Fatalf("expected 2 definitions, got %d", n)
	}

	loaded, err := NewSchemaSource(doc).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	opts := cmp.Options{cmp.AllowUnexported(schema.Schema{}), cmpopts.EquateEmpty()}
	for _, want := range []*schema.Schema{sc, secret} {
		if diff := cmp.Diff(want, loaded[want.Name], opts); diff != "" {
			t.Errorf("schema %s mismatch (-want +got):\n%s", want.Name, diff)
		}
	}
}

func TestSchemaSourceRemove(t *testing.T) {
	doc := tree.New()
	src := NewSchemaSource(doc)
	src.Save(testSchema(t))

	if err := src.Remove("people"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := src.Remove("people"); !errors.Is(err, ErrSchemaNotFound) {
		t.Errorf("expected ErrSchemaNotFound, got %v", err)
	}

	src.Save(testSchema(t))
	if err := src.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	loaded, _ := src.Load()
	if len(loaded) != 0 {
		t.Errorf("definitions left after Clear: %d", len(loaded))
	}
}

func TestSchemaSourceRejectsBadTypes(t *testing.T) {
	doc := tree.New()
	src := NewSchemaSource(doc)
	src.Save(testSchema(t))
	doc.SetProperty("schemas[1]/descriptors[1]/fields[1]/type", "matrix")

	if _, err := src.Load(); !errors.Is(err, ErrCorruptFormat) {
		t.Errorf("expected ErrCorruptFormat, got %v", err)
	}
}
