// ABOUTME: Metadata record data model
// ABOUTME: Records carry typed fields and id-based references into their owning stream

package metadata

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nainya/metastream/pkg/schema"
	"github.com/nainya/metastream/pkg/variant"
)

// ID identifies a record within a stream
type ID int64

// InvalidID marks a record that has not been added to a stream yet
const InvalidID ID = -1

// Reserved "undefined" values for the optional numeric attributes
const (
	UndefinedFrameIndex int64 = -1
	UndefinedFrameCount int64 = 0
	UndefinedTimestamp  int64 = -1
	UndefinedDuration   int64 = 0
)

// Reference is a named link to another record, stored by id
type Reference struct {
	Name     string
	TargetID ID
}

// Metadata is one identified record conforming to a descriptor
type Metadata struct {
	id   ID
	desc *schema.Descriptor

	frameIndex int64
	numFrames  int64
	timestamp  int64
	duration   int64

	fields []variant.FieldValue
	refs   []Reference

	useEncryption bool
	encryptedData string

	stream *Stream
}

// New creates a record for desc with every optional attribute undefined
func New(desc *schema.Descriptor) *Metadata {
	return &Metadata{
		id:         InvalidID,
		desc:       desc,
		frameIndex: UndefinedFrameIndex,
		numFrames:  UndefinedFrameCount,
		timestamp:  UndefinedTimestamp,
		duration:   UndefinedDuration,
	}
}

// FromStorage creates a record that keeps the id it was persisted with
func FromStorage(desc *schema.Descriptor, id ID) *Metadata {
	md := New(desc)
	md.id = id
	return md
}

func (m *Metadata) ID() ID                         { return m.id }
func (m *Metadata) Descriptor() *schema.Descriptor { return m.desc }
func (m *Metadata) SchemaName() string             { return m.desc.SchemaName }
func (m *Metadata) Name() string                   { return m.desc.MetadataName }
func (m *Metadata) FrameIndex() int64              { return m.frameIndex }
func (m *Metadata) NumFrames() int64               { return m.numFrames }
func (m *Metadata) Timestamp() int64               { return m.timestamp }
func (m *Metadata) Duration() int64                { return m.duration }
func (m *Metadata) UseEncryption() bool            { return m.useEncryption }
func (m *Metadata) EncryptedData() string          { return m.encryptedData }

// SetFrameIndex sets the first frame and the number of frames covered
func (m *Metadata) SetFrameIndex(index, count int64) {
	m.frameIndex = index
	m.numFrames = count
}

// SetTimestamp sets the start time and duration
func (m *Metadata) SetTimestamp(ts, duration int64) {
	m.timestamp = ts
	m.duration = duration
}

// SetEncryption sets the record-level encryption marker
func (m *Metadata) SetEncryption(use bool, data string) {
	m.useEncryption = use
	m.encryptedData = data
}

// SetFieldValue stores v under name, converting it to the declared type
func (m *Metadata) SetFieldValue(name string, v variant.Variant) error {
	return m.SetField(variant.NewFieldValue(name, v))
}

// SetField stores fv, replacing any value with the same name
func (m *Metadata) SetField(fv variant.FieldValue) error {
	fd, ok := m.desc.Field(fv.Name)
	if !ok {
		return errors.Wrapf(ErrUnknownField, "%s/%s.%s", m.desc.SchemaName, m.desc.MetadataName, fv.Name)
	}
	converted, err := fv.Value.Convert(fd.Type)
	if err != nil {
		return errors.Wrapf(err, "field %q", fv.Name)
	}
	fv.Value = converted
	if fd.Name == "" {
		m.fields = append(m.fields, fv)
		return nil
	}
	for i := range m.fields {
		if m.fields[i].Name == fv.Name {
			m.fields[i] = fv
			return nil
		}
	}
	m.fields = append(m.fields, fv)
	return nil
}

// AddValue appends a positional value to a record with an unnamed field
func (m *Metadata) AddValue(v variant.Variant) error {
	if !m.desc.Positional() {
		return errors.Wrapf(ErrUnknownField, "%s/%s has no unnamed field", m.desc.SchemaName, m.desc.MetadataName)
	}
	return m.SetField(variant.NewFieldValue("", v))
}

// FieldValue returns the value stored under name
func (m *Metadata) FieldValue(name string) (variant.Variant, bool) {
	fv, ok := m.Field(name)
	return fv.Value, ok
}

// Field returns the full field value stored under name
func (m *Metadata) Field(name string) (variant.FieldValue, bool) {
	for _, fv := range m.fields {
		if fv.Name == name {
			return fv, true
		}
	}
	return variant.FieldValue{}, false
}

// Fields returns a copy of every stored value in storage order
func (m *Metadata) Fields() []variant.FieldValue {
	return append([]variant.FieldValue(nil), m.fields...)
}

// FieldNames returns the names of stored named fields in descriptor order
func (m *Metadata) FieldNames() []string {
	var names []string
	for _, fv := range m.fields {
		if fv.Name != "" {
			names = append(names, fv.Name)
		}
	}
	sort.SliceStable(names, func(i, j int) bool {
		return m.desc.FieldIndex(names[i]) < m.desc.FieldIndex(names[j])
	})
	return names
}

// IsEmpty reports whether no value is stored
func (m *Metadata) IsEmpty() bool { return len(m.fields) == 0 }

// AddReference links m to target under name
func (m *Metadata) AddReference(target *Metadata, name string) error {
	if target == nil {
		return errors.Wrap(ErrNullRecord, "reference target")
	}
	if target.id == InvalidID {
		return errors.Wrapf(ErrDanglingReference, "target %s has no id, add it to the stream first", target.Name())
	}
	if m.stream != nil && target.stream != m.stream {
		return errors.Wrapf(ErrDanglingReference, "target %d belongs to another stream", target.id)
	}
	m.refs = append(m.refs, Reference{Name: name, TargetID: target.id})
	return nil
}

// AddReferenceID links m to the record with id; resolution is deferred
func (m *Metadata) AddReferenceID(id ID, name string) {
	m.refs = append(m.refs, Reference{Name: name, TargetID: id})
}

// RemoveReference drops every reference to id
func (m *Metadata) RemoveReference(id ID) {
	kept := m.refs[:0]
	for _, r := range m.refs {
		if r.TargetID != id {
			kept = append(kept, r)
		}
	}
	m.refs = kept
}

// References returns a copy of the reference list
func (m *Metadata) References() []Reference {
	return append([]Reference(nil), m.refs...)
}

// Resolve returns the live target of ref from the owning stream
func (m *Metadata) Resolve(ref Reference) (*Metadata, bool) {
	if m.stream == nil {
		return nil, false
	}
	target := m.stream.Get(ref.TargetID)
	return target, target != nil
}

// Stream returns the owning stream, nil before Add
func (m *Metadata) Stream() *Stream { return m.stream }

// Validate checks the record against its descriptor
func (m *Metadata) Validate() error {
	if m.desc == nil {
		return errors.Wrap(ErrValidation, "record has no descriptor")
	}
	for _, fd := range m.desc.Fields {
		if fd.Optional || fd.Name == "" {
			continue
		}
		if _, ok := m.Field(fd.Name); !ok {
			return errors.Wrapf(ErrValidation, "%s/%s: missing required field %q",
				m.desc.SchemaName, m.desc.MetadataName, fd.Name)
		}
	}
	for _, fv := range m.fields {
		if err := fv.Validate(); err != nil {
			return errors.Wrap(ErrValidation, err.Error())
		}
	}
	if m.useEncryption && m.encryptedData == "" {
		return errors.Wrap(ErrValidation, "record marked encrypted without encrypted data")
	}
	return nil
}

// Equal compares records by id, kind, attributes, values and references.
// Named values compare by name; positional values compare in order.
func (m *Metadata) Equal(o *Metadata) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.id != o.id || m.desc.SchemaName != o.desc.SchemaName || m.desc.MetadataName != o.desc.MetadataName {
		return false
	}
	if m.frameIndex != o.frameIndex || m.numFrames != o.numFrames ||
		m.timestamp != o.timestamp || m.duration != o.duration {
		return false
	}
	if m.useEncryption != o.useEncryption || m.encryptedData != o.encryptedData {
		return false
	}
	if len(m.fields) != len(o.fields) || len(m.refs) != len(o.refs) {
		return false
	}
	for i, fv := range m.fields {
		if fv.Name == "" {
			if !fv.Equal(o.fields[i]) {
				return false
			}
			continue
		}
		other, ok := o.Field(fv.Name)
		if !ok || !fv.Equal(other) {
			return false
		}
	}
	for i := range m.refs {
		if m.refs[i] != o.refs[i] {
			return false
		}
	}
	return true
}
