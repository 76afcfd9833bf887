// ABOUTME: Stream owns schemas, records and id bookkeeping for one media file
// ABOUTME: Records are kept in an arena keyed by id; references resolve through it lazily

package metadata

import (
	"slices"
	"sort"

	"github.com/pkg/errors"

	"github.com/nainya/metastream/pkg/schema"
)

// Stream is the owning collection of records and the schemas they conform to.
// It is not safe for concurrent use.
type Stream struct {
	schemas     map[string]*schema.Schema
	schemaOrder []string

	records map[ID]*Metadata
	order   []*Metadata

	nextID         ID
	removed        []ID
	removedSchemas []string
	segments       []VideoSegment
}

// NewStream creates an empty stream
func NewStream() *Stream {
	return &Stream{
		schemas: make(map[string]*schema.Schema),
		records: make(map[ID]*Metadata),
	}
}

// AddSchema registers a schema so records of its descriptors can be added
func (s *Stream) AddSchema(sc *schema.Schema) error {
	if sc == nil {
		return errors.Wrap(ErrUnknownSchema, "nil schema")
	}
	if _, ok := s.schemas[sc.Name]; ok {
		return errors.Wrapf(ErrSchemaExists, "%q", sc.Name)
	}
	s.schemas[sc.Name] = sc
	s.schemaOrder = append(s.schemaOrder, sc.Name)
	s.removedSchemas = slices.DeleteFunc(s.removedSchemas, func(n string) bool { return n == sc.Name })
	return nil
}

// Schema returns the registered schema named name, or nil
func (s *Stream) Schema(name string) *schema.Schema {
	return s.schemas[name]
}

// Schemas returns registered schemas in registration order
func (s *Stream) Schemas() []*schema.Schema {
	out := make([]*schema.Schema, 0, len(s.schemaOrder))
	for _, name := range s.schemaOrder {
		out = append(out, s.schemas[name])
	}
	return out
}

// RemoveSchema unregisters a schema and removes every record that uses it.
// The name is journaled like removed ids.
func (s *Stream) RemoveSchema(name string) error {
	if _, ok := s.schemas[name]; !ok {
		return errors.Wrapf(ErrUnknownSchema, "%q", name)
	}
	s.Remove(s.All().BySchema(name).IDs()...)
	delete(s.schemas, name)
	for i, n := range s.schemaOrder {
		if n == name {
			s.schemaOrder = append(s.schemaOrder[:i], s.schemaOrder[i+1:]...)
			break
		}
	}
	s.removedSchemas = append(s.removedSchemas, name)
	return nil
}

// Add validates md, assigns it an id when it has none and takes ownership.
// Every reference must already resolve inside the stream.
func (s *Stream) Add(md *Metadata) (ID, error) {
	if md == nil {
		return InvalidID, ErrNullRecord
	}
	if md.stream != nil {
		return InvalidID, errors.Wrapf(ErrAlreadyAdded, "id %d", md.id)
	}
	if _, ok := s.schemas[md.SchemaName()]; !ok {
		return InvalidID, errors.Wrapf(ErrUnknownSchema, "%q", md.SchemaName())
	}
	if err := md.Validate(); err != nil {
		return InvalidID, err
	}
	for _, ref := range md.refs {
		if _, ok := s.records[ref.TargetID]; !ok {
			return InvalidID, errors.Wrapf(ErrDanglingReference, "%q -> %d", ref.Name, ref.TargetID)
		}
	}

	if md.id == InvalidID {
		md.id = s.nextID
	} else if _, ok := s.records[md.id]; ok {
		return InvalidID, errors.Wrapf(ErrDuplicateID, "%d", md.id)
	}
	s.insert(md)
	return md.id, nil
}

// Restore inserts a record read back from storage. It skips validation so
// that records referencing each other can be linked after insertion.
func (s *Stream) Restore(md *Metadata) error {
	if md == nil {
		return ErrNullRecord
	}
	if md.id == InvalidID {
		return errors.Wrap(ErrValidation, "restored record has no id")
	}
	if _, ok := s.records[md.id]; ok {
		return errors.Wrapf(ErrDuplicateID, "%d", md.id)
	}
	s.insert(md)
	return nil
}

func (s *Stream) insert(md *Metadata) {
	md.stream = s
	s.records[md.id] = md
	s.order = append(s.order, md)
	if md.id >= s.nextID {
		s.nextID = md.id + 1
	}
}

// Get returns the record with id, or nil
func (s *Stream) Get(id ID) *Metadata {
	return s.records[id]
}

// Remove drops records by id and journals them for the next save.
// References held by remaining records are left untouched.
func (s *Stream) Remove(ids ...ID) int {
	removed := 0
	for _, id := range ids {
		md, ok := s.records[id]
		if !ok {
			continue
		}
		delete(s.records, id)
		md.stream = nil
		s.removed = append(s.removed, id)
		removed++
	}
	if removed > 0 {
		kept := s.order[:0]
		for _, md := range s.order {
			if _, ok := s.records[md.id]; ok {
				kept = append(kept, md)
			}
		}
		s.order = kept
	}
	return removed
}

// RemovedIDs returns the journal of ids removed since the last ClearRemoved
func (s *Stream) RemovedIDs() []ID {
	return append([]ID(nil), s.removed...)
}

// RemovedSchemas returns the names of schemas removed since the last ClearRemoved
func (s *Stream) RemovedSchemas() []string {
	return append([]string(nil), s.removedSchemas...)
}

// ClearRemoved empties the removal journals
func (s *Stream) ClearRemoved() {
	s.removed = nil
	s.removedSchemas = nil
}

// All returns every record in the current stream order
func (s *Stream) All() Set {
	return append(Set(nil), s.order...)
}

// Len returns the number of records
func (s *Stream) Len() int { return len(s.order) }

// SortByID imposes the canonical id order
func (s *Stream) SortByID() {
	sort.Slice(s.order, func(i, j int) bool { return s.order[i].id < s.order[j].id })
}

// NextID returns the id the next added record will receive
func (s *Stream) NextID() ID { return s.nextID }

// SetNextID moves the id counter; it never moves below an id in use
func (s *Stream) SetNextID(id ID) {
	for existing := range s.records {
		if existing >= id {
			id = existing + 1
		}
	}
	s.nextID = id
}

// AddVideoSegment appends a validated segment
func (s *Stream) AddVideoSegment(seg VideoSegment) error {
	if err := seg.Validate(); err != nil {
		return err
	}
	s.segments = append(s.segments, seg)
	return nil
}

// SetVideoSegments replaces the segment list. Nothing changes when a segment is invalid.
func (s *Stream) SetVideoSegments(segments []VideoSegment) error {
	for _, seg := range segments {
		if err := seg.Validate(); err != nil {
			return err
		}
	}
	s.segments = append([]VideoSegment(nil), segments...)
	return nil
}

// VideoSegments returns a copy of the segment list
func (s *Stream) VideoSegments() []VideoSegment {
	return append([]VideoSegment(nil), s.segments...)
}

// Clear drops records, the removal journal and segments; schemas stay registered
func (s *Stream) Clear() {
	for _, md := range s.order {
		md.stream = nil
	}
	s.records = make(map[ID]*Metadata)
	s.order = nil
	s.removed = nil
	s.segments = nil
	s.nextID = 0
}
