// ABOUTME: Schema model for metadata records
// ABOUTME: A schema is an ordered set of descriptors, each an ordered set of typed fields

package schema

import (
	"github.com/pkg/errors"

	"github.com/nainya/metastream/pkg/variant"
)

var (
	// ErrDuplicateDescriptor is returned when a schema already declares a descriptor name
	ErrDuplicateDescriptor = errors.New("schema: duplicate descriptor")

	// ErrDuplicateField is returned when a descriptor declares a field name twice
	ErrDuplicateField = errors.New("schema: duplicate field")

	// ErrInvalid is returned for descriptors that cannot be stored
	ErrInvalid = errors.New("schema: invalid definition")
)

// FieldDesc describes one named field of a record kind.
// A descriptor with a single unnamed field stores positional values.
type FieldDesc struct {
	Name          string
	Type          variant.Type
	Optional      bool
	UseEncryption bool
}

// Descriptor is a record kind scoped to a schema
type Descriptor struct {
	SchemaName   string
	MetadataName string
	Fields       []FieldDesc
}

// NewDescriptor validates field names and builds a descriptor
func NewDescriptor(name string, fields ...FieldDesc) (*Descriptor, error) {
	if name == "" {
		return nil, errors.Wrap(ErrInvalid, "descriptor name is empty")
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.Name] {
			return nil, errors.Wrapf(ErrDuplicateField, "%s.%s", name, f.Name)
		}
		if f.Name == "" && len(fields) > 1 {
			return nil, errors.Wrapf(ErrInvalid, "%s: unnamed field must be the only field", name)
		}
		seen[f.Name] = true
	}
	return &Descriptor{
		MetadataName: name,
		Fields:       append([]FieldDesc(nil), fields...),
	}, nil
}

// Field returns the field declared under name
func (d *Descriptor) Field(name string) (FieldDesc, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDesc{}, false
}

// FieldIndex returns the declaration position of a field, or -1
func (d *Descriptor) FieldIndex(name string) int {
	for i, f := range d.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Positional reports whether the descriptor stores unnamed values
func (d *Descriptor) Positional() bool {
	return len(d.Fields) == 1 && d.Fields[0].Name == ""
}

// Schema is a named, ordered collection of descriptors
type Schema struct {
	Name          string
	Author        string
	UseEncryption bool

	descriptors []*Descriptor
}

// New creates an empty schema
func New(name, author string) *Schema {
	return &Schema{Name: name, Author: author}
}

// Add appends a descriptor and scopes it to this schema
func (s *Schema) Add(d *Descriptor) error {
	if d == nil {
		return errors.Wrap(ErrInvalid, "nil descriptor")
	}
	if s.Find(d.MetadataName) != nil {
		return errors.Wrapf(ErrDuplicateDescriptor, "%s/%s", s.Name, d.MetadataName)
	}
	d.SchemaName = s.Name
	s.descriptors = append(s.descriptors, d)
	return nil
}

// MustAdd is Add for statically known schemas
func (s *Schema) MustAdd(d *Descriptor, err error) *Schema {
	if err == nil {
		err = s.Add(d)
	}
	if err != nil {
		panic(err)
	}
	return s
}

// Find returns the descriptor named name, or nil
func (s *Schema) Find(name string) *Descriptor {
	for _, d := range s.descriptors {
		if d.MetadataName == name {
			return d
		}
	}
	return nil
}

// All returns descriptors in declaration order
func (s *Schema) All() []*Descriptor {
	return append([]*Descriptor(nil), s.descriptors...)
}
