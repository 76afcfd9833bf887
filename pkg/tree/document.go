// ABOUTME: Path-addressable document tree of structs, arrays and qualified leaves
// ABOUTME: Paths look like "a/b[2]/c" where array indices are 1-based

package tree

import (
	"iter"
	"strconv"

	"github.com/pkg/errors"
)

var (
	// ErrBadPath is returned for paths that cannot be parsed
	ErrBadPath = errors.New("tree: bad path")

	// ErrNotFound is returned when a path does not address an existing node
	ErrNotFound = errors.New("tree: not found")

	// ErrKind is returned when a node has a different kind than the operation needs
	ErrKind = errors.New("tree: wrong node kind")

	// ErrMalformed is returned by Parse for buffers that do not hold a document
	ErrMalformed = errors.New("tree: malformed document")
)

// Kind of a document node
type Kind uint8

const (
	KindStruct Kind = iota + 1
	KindArray
	KindLeaf
)

func (k Kind) String() string {
	switch k {
	case KindStruct:
		return "struct"
	case KindArray:
		return "array"
	case KindLeaf:
		return "leaf"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

type node struct {
	kind   Kind
	fields []field
	items  []*node
	value  string
	quals  map[string]string
}

type field struct {
	name string
	n    *node
}

func newNode(kind Kind) *node { return &node{kind: kind} }

func (n *node) field(name string) (*node, int) {
	for i, f := range n.fields {
		if f.name == name {
			return f.n, i
		}
	}
	return nil, -1
}

// Document is a rooted tree; the root is a struct addressed by the empty path.
// It is not safe for concurrent use.
type Document struct {
	root *node
}

// New creates an empty document
func New() *Document {
	return &Document{root: newNode(KindStruct)}
}

// slot is the place a path points at: a named field of a struct or an item of an array
type slot struct {
	parent *node
	name   string
	index  int
}

func (s slot) get() *node {
	if s.parent.kind == KindStruct {
		n, _ := s.parent.field(s.name)
		return n
	}
	if s.index <= len(s.parent.items) {
		return s.parent.items[s.index-1]
	}
	return nil
}

func (s slot) put(n *node) error {
	if s.parent.kind == KindStruct {
		if _, i := s.parent.field(s.name); i >= 0 {
			s.parent.fields[i].n = n
		} else {
			s.parent.fields = append(s.parent.fields, field{name: s.name, n: n})
		}
		return nil
	}
	switch {
	case s.index <= len(s.parent.items):
		s.parent.items[s.index-1] = n
	case s.index == len(s.parent.items)+1:
		s.parent.items = append(s.parent.items, n)
	default:
		return errors.Wrapf(ErrNotFound, "array item %d of %d", s.index, len(s.parent.items))
	}
	return nil
}

func (s slot) remove() {
	if s.parent.kind == KindStruct {
		if _, i := s.parent.field(s.name); i >= 0 {
			s.parent.fields = append(s.parent.fields[:i], s.parent.fields[i+1:]...)
		}
		return
	}
	if s.index <= len(s.parent.items) {
		s.parent.items = append(s.parent.items[:s.index-1], s.parent.items[s.index:]...)
	}
}

func child(cur *node, name string) (*node, error) {
	if cur.kind != KindStruct {
		return nil, errors.Wrapf(ErrKind, "%q is not inside a struct", name)
	}
	n, _ := cur.field(name)
	if n == nil {
		return nil, errors.Wrapf(ErrNotFound, "field %q", name)
	}
	return n, nil
}

func item(cur *node, index int) (*node, error) {
	if cur.kind != KindArray {
		return nil, errors.Wrapf(ErrKind, "index [%d] on a %s", index, cur.kind)
	}
	if index > len(cur.items) {
		return nil, errors.Wrapf(ErrNotFound, "array item %d of %d", index, len(cur.items))
	}
	return cur.items[index-1], nil
}

func (d *Document) walk(steps []step) (*node, error) {
	cur := d.root
	for _, st := range steps {
		n, err := child(cur, st.name)
		if err != nil {
			return nil, err
		}
		for _, idx := range st.indices {
			if n, err = item(n, idx); err != nil {
				return nil, err
			}
		}
		cur = n
	}
	return cur, nil
}

func (d *Document) resolve(path string) (*node, error) {
	steps, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	n, err := d.walk(steps)
	if err != nil {
		return nil, errors.Wrapf(err, "path %q", path)
	}
	return n, nil
}

func (d *Document) locate(path string) (slot, error) {
	steps, err := parsePath(path)
	if err != nil {
		return slot{}, err
	}
	if len(steps) == 0 {
		return slot{}, errors.Wrap(ErrBadPath, "the root cannot be replaced")
	}
	last := steps[len(steps)-1]
	parent, err := d.walk(steps[:len(steps)-1])
	if err != nil {
		return slot{}, errors.Wrapf(err, "path %q", path)
	}
	if len(last.indices) == 0 {
		if parent.kind != KindStruct {
			return slot{}, errors.Wrapf(ErrKind, "path %q: parent is a %s", path, parent.kind)
		}
		return slot{parent: parent, name: last.name}, nil
	}

	arr, err := child(parent, last.name)
	if err != nil {
		return slot{}, errors.Wrapf(err, "path %q", path)
	}
	for _, idx := range last.indices[:len(last.indices)-1] {
		if arr, err = item(arr, idx); err != nil {
			return slot{}, errors.Wrapf(err, "path %q", path)
		}
	}
	if arr.kind != KindArray {
		return slot{}, errors.Wrapf(ErrKind, "path %q: %s is not an array", path, last.name)
	}
	return slot{parent: arr, index: last.indices[len(last.indices)-1]}, nil
}

// Exists reports whether path addresses a node
func (d *Document) Exists(path string) bool {
	_, err := d.resolve(path)
	return err == nil
}

// Kind returns the kind of the node at path
func (d *Document) Kind(path string) (Kind, error) {
	n, err := d.resolve(path)
	if err != nil {
		return 0, err
	}
	return n.kind, nil
}

// SetProperty writes a leaf value, creating the leaf when it is missing.
// Qualifiers of an existing leaf are kept.
func (d *Document) SetProperty(path, value string) error {
	s, err := d.locate(path)
	if err != nil {
		return err
	}
	if n := s.get(); n != nil {
		if n.kind != KindLeaf {
			return errors.Wrapf(ErrKind, "path %q is a %s", path, n.kind)
		}
		n.value = value
		return nil
	}
	n := newNode(KindLeaf)
	n.value = value
	return s.put(n)
}

// GetProperty reads a leaf value
func (d *Document) GetProperty(path string) (string, error) {
	n, err := d.resolve(path)
	if err != nil {
		return "", err
	}
	if n.kind != KindLeaf {
		return "", errors.Wrapf(ErrKind, "path %q is a %s", path, n.kind)
	}
	return n.value, nil
}

// SetInt64 writes a decimal integer leaf
func (d *Document) SetInt64(path string, v int64) error {
	return d.SetProperty(path, strconv.FormatInt(v, 10))
}

// GetInt64 reads a decimal integer leaf
func (d *Document) GetInt64(path string) (int64, error) {
	s, err := d.GetProperty(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformed, "path %q holds %q, not an integer", path, s)
	}
	return v, nil
}

// SetStructField writes leaf name of the struct at structPath
func (d *Document) SetStructField(structPath, name, value string) error {
	return d.SetProperty(ComposeStructFieldPath(structPath, name), value)
}

// GetStructField reads leaf name of the struct at structPath
func (d *Document) GetStructField(structPath, name string) (string, error) {
	return d.GetProperty(ComposeStructFieldPath(structPath, name))
}

// SetStruct creates an empty struct at path unless a struct is already there
func (d *Document) SetStruct(path string) error {
	s, err := d.locate(path)
	if err != nil {
		return err
	}
	if n := s.get(); n != nil {
		if n.kind != KindStruct {
			return errors.Wrapf(ErrKind, "path %q is a %s", path, n.kind)
		}
		return nil
	}
	return s.put(newNode(KindStruct))
}

// AppendArrayItem appends a new node of kind to the array at arrayPath,
// creating the array when missing, and returns the path of the new item
func (d *Document) AppendArrayItem(arrayPath string, kind Kind) (string, error) {
	s, err := d.locate(arrayPath)
	if err != nil {
		return "", err
	}
	arr := s.get()
	if arr == nil {
		arr = newNode(KindArray)
		if err := s.put(arr); err != nil {
			return "", err
		}
	} else if arr.kind != KindArray {
		return "", errors.Wrapf(ErrKind, "path %q is a %s", arrayPath, arr.kind)
	}
	arr.items = append(arr.items, newNode(kind))
	return ComposeArrayItemPath(arrayPath, len(arr.items)), nil
}

// Count returns the number of items of the array at path, 0 when missing
func (d *Document) Count(path string) int {
	n, err := d.resolve(path)
	if err != nil || n.kind != KindArray {
		return 0
	}
	return len(n.items)
}

// SetQualifier attaches a side-channel value to the node at path
func (d *Document) SetQualifier(path, name, value string) error {
	n, err := d.resolve(path)
	if err != nil {
		return err
	}
	if n.quals == nil {
		n.quals = make(map[string]string)
	}
	n.quals[name] = value
	return nil
}

// GetQualifier reads a qualifier; a missing qualifier is ErrNotFound
func (d *Document) GetQualifier(path, name string) (string, error) {
	n, err := d.resolve(path)
	if err != nil {
		return "", err
	}
	v, ok := n.quals[name]
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "qualifier %q of %q", name, path)
	}
	return v, nil
}

// HasQualifier reports whether the node at path carries qualifier name
func (d *Document) HasQualifier(path, name string) bool {
	n, err := d.resolve(path)
	if err != nil {
		return false
	}
	_, ok := n.quals[name]
	return ok
}

// DeleteQualifier removes a qualifier; missing qualifiers are ignored
func (d *Document) DeleteQualifier(path, name string) error {
	n, err := d.resolve(path)
	if err != nil {
		return err
	}
	delete(n.quals, name)
	return nil
}

// DeleteProperty removes the node at path. Later items of the same array
// shift down by one. Deleting a missing node is not an error.
func (d *Document) DeleteProperty(path string) error {
	s, err := d.locate(path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	s.remove()
	return nil
}

// Children lazily yields the paths of the items of an array or the fields
// of a struct. A missing or leaf node yields nothing. The document must not
// be modified while iterating.
func (d *Document) Children(path string) iter.Seq[string] {
	return func(yield func(string) bool) {
		n, err := d.resolve(path)
		if err != nil {
			return
		}
		switch n.kind {
		case KindArray:
			for i := range n.items {
				if !yield(ComposeArrayItemPath(path, i+1)) {
					return
				}
			}
		case KindStruct:
			for _, f := range n.fields {
				if !yield(ComposeStructFieldPath(path, f.name)) {
					return
				}
			}
		}
	}
}
