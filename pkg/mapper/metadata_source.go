// ABOUTME: Maps schemas and record graphs onto document paths and back
// ABOUTME: Keeps an id to path index so records are written once and references load lazily

package mapper

import (
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/nainya/metastream/internal/logger"
	"github.com/nainya/metastream/pkg/metadata"
	"github.com/nainya/metastream/pkg/schema"
	"github.com/nainya/metastream/pkg/tree"
)

// InternalPath locates a persisted record
type InternalPath struct {
	Schema   string
	Metadata string
	Path     string
}

// IDIndex maps record ids to their location in the bound document.
// It must be rebuilt whenever the bound document instance changes.
type IDIndex map[metadata.ID]InternalPath

// MetadataSource reads and writes the record graph of one document
type MetadataSource struct {
	doc   *tree.Document
	index IDIndex
	log   *logger.Logger
}

// NewMetadataSource binds to doc and builds the id index
func NewMetadataSource(doc *tree.Document, log *logger.Logger) (*MetadataSource, error) {
	s := &MetadataSource{
		doc: doc,
		log: logger.OrNop(log).MapperLogger(),
	}
	if err := s.BuildIDIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// Document returns the bound document
func (s *MetadataSource) Document() *tree.Document { return s.doc }

// Index returns the id index; callers must not modify it
func (s *MetadataSource) Index() IDIndex { return s.index }

// BuildIDIndex scans schemas, properties and records and rebuilds the index
func (s *MetadataSource) BuildIDIndex() error {
	index := make(IDIndex)
	for schemaPath := range s.doc.Children(SchemasArray) {
		name, err := s.doc.GetStructField(schemaPath, schemaName)
		if err != nil {
			return errors.Wrapf(ErrCorruptFormat, "schema at %s has no name", schemaPath)
		}
		for propPath := range s.doc.Children(tree.ComposeStructFieldPath(schemaPath, schemaSet)) {
			prop, err := s.doc.GetStructField(propPath, propertyName)
			if err != nil {
				return errors.Wrapf(ErrCorruptFormat, "property at %s has no name", propPath)
			}
			for mdPath := range s.doc.Children(tree.ComposeStructFieldPath(propPath, propertySet)) {
				id, err := s.doc.GetInt64(tree.ComposeStructFieldPath(mdPath, recordID))
				if err != nil {
					return errors.Wrapf(ErrCorruptFormat, "record at %s has no id", mdPath)
				}
				index[metadata.ID(id)] = InternalPath{Schema: name, Metadata: prop, Path: mdPath}
			}
		}
	}
	s.index = index
	s.log.Debug().Int("records", len(index)).Msg("id index built")
	return nil
}

// FindSchema returns the path of the schema node named name, or ""
func (s *MetadataSource) FindSchema(name string) string {
	for p := range s.doc.Children(SchemasArray) {
		if v, err := s.doc.GetStructField(p, schemaName); err == nil && v == name {
			return p
		}
	}
	return ""
}

// FindProperty returns the path of property name under schemaPath, or ""
func (s *MetadataSource) FindProperty(schemaPath, name string) string {
	for p := range s.doc.Children(tree.ComposeStructFieldPath(schemaPath, schemaSet)) {
		if v, err := s.doc.GetStructField(p, propertyName); err == nil && v == name {
			return p
		}
	}
	return ""
}

// SaveSchema upserts the schema node and saves every record of set that
// belongs to it. Descriptors without records get no property node.
func (s *MetadataSource) SaveSchema(sc *schema.Schema, set metadata.Set) error {
	schemaPath := s.FindSchema(sc.Name)
	if schemaPath == "" {
		p, err := s.doc.AppendArrayItem(SchemasArray, tree.KindStruct)
		if err != nil {
			return err
		}
		if err := s.doc.SetStructField(p, schemaName, sc.Name); err != nil {
			return err
		}
		schemaPath = p
	}

	own := set.BySchema(sc.Name)
	saved := 0
	for _, desc := range sc.All() {
		records := own.ByName(sc.Name, desc.MetadataName)
		if len(records) == 0 {
			continue
		}
		setPath, err := s.saveProperty(schemaPath, desc.MetadataName)
		if err != nil {
			return err
		}
		for _, md := range records {
			if err := s.SaveMetadata(md, setPath); err != nil {
				return err
			}
			saved++
		}
	}
	s.log.Debug().Str("schema", sc.Name).Int("records", saved).Msg("schema saved")
	return nil
}

func (s *MetadataSource) saveProperty(schemaPath, name string) (string, error) {
	propPath := s.FindProperty(schemaPath, name)
	if propPath == "" {
		p, err := s.doc.AppendArrayItem(tree.ComposeStructFieldPath(schemaPath, schemaSet), tree.KindStruct)
		if err != nil {
			return "", err
		}
		propPath = p
	}
	if err := s.doc.SetStructField(propPath, propertyName, name); err != nil {
		return "", err
	}
	return tree.ComposeStructFieldPath(propPath, propertySet), nil
}

// SaveMetadata writes md under propertySetPath, overwriting its previous
// entry when the id is already indexed
func (s *MetadataSource) SaveMetadata(md *metadata.Metadata, propertySetPath string) error {
	if md == nil {
		return ErrNullRecord
	}
	if md.ID() < 0 {
		return errors.Wrapf(ErrInvalidValue, "record %s/%s has no id", md.SchemaName(), md.Name())
	}
	optionals := []struct {
		name     string
		value    int64
		sentinel int64
	}{
		{recordFrameIndex, md.FrameIndex(), metadata.UndefinedFrameIndex},
		{recordNumFrames, md.NumFrames(), metadata.UndefinedFrameCount},
		{recordTimestamp, md.Timestamp(), metadata.UndefinedTimestamp},
		{recordDuration, md.Duration(), metadata.UndefinedDuration},
	}
	for _, o := range optionals {
		if o.value < 0 && o.value != o.sentinel {
			return errors.Wrapf(ErrInvalidValue, "record %d: %s = %d", md.ID(), o.name, o.value)
		}
	}
	if err := checkText(md); err != nil {
		return err
	}
	refs := md.References()
	for _, ref := range refs {
		if _, ok := md.Resolve(ref); !ok {
			return errors.Wrapf(ErrDanglingReference, "record %d: reference %q -> %d", md.ID(), ref.Name, ref.TargetID)
		}
	}

	mdPath := ""
	if loc, ok := s.index[md.ID()]; ok {
		mdPath = loc.Path
	} else {
		p, err := s.doc.AppendArrayItem(propertySetPath, tree.KindStruct)
		if err != nil {
			return err
		}
		mdPath = p
	}

	if err := s.doc.SetInt64(tree.ComposeStructFieldPath(mdPath, recordID), int64(md.ID())); err != nil {
		return err
	}
	for _, o := range optionals {
		p := tree.ComposeStructFieldPath(mdPath, o.name)
		var err error
		if o.value == o.sentinel {
			err = s.doc.DeleteProperty(p)
		} else {
			err = s.doc.SetInt64(p, o.value)
		}
		if err != nil {
			return err
		}
	}
	if err := s.saveFields(mdPath, md); err != nil {
		return err
	}
	if err := s.saveReferences(mdPath, md, refs); err != nil {
		return err
	}
	if err := s.saveEncryption(mdPath, md.UseEncryption(), md.EncryptedData()); err != nil {
		return err
	}

	s.index[md.ID()] = InternalPath{Schema: md.SchemaName(), Metadata: md.Name(), Path: mdPath}
	return nil
}

func (s *MetadataSource) saveFields(mdPath string, md *metadata.Metadata) error {
	fieldsPath := tree.ComposeStructFieldPath(mdPath, recordFields)
	if err := s.doc.DeleteProperty(fieldsPath); err != nil {
		return err
	}

	values := md.Fields()
	if !md.Descriptor().Positional() {
		values = values[:0]
		for _, fd := range md.Descriptor().Fields {
			if fv, ok := md.Field(fd.Name); ok {
				values = append(values, fv)
			}
		}
	}

	for _, fv := range values {
		leaf, err := s.doc.AppendArrayItem(fieldsPath, tree.KindLeaf)
		if err != nil {
			return err
		}
		text := fv.Value.String()
		if text == "" {
			text = emptyValue
		}
		if err := s.doc.SetProperty(leaf, text); err != nil {
			return err
		}
		if fv.Name != "" {
			if err := s.doc.SetQualifier(leaf, fieldName, fv.Name); err != nil {
				return err
			}
		}
		if err := s.setOrDropQualifier(leaf, fieldEncrypted, fv.UseEncryption, "true"); err != nil {
			return err
		}
		if err := s.setOrDropQualifier(leaf, fieldEncryptedData, fv.EncryptedData != "", fv.EncryptedData); err != nil {
			return err
		}
	}
	return nil
}

func (s *MetadataSource) setOrDropQualifier(path, name string, set bool, value string) error {
	if set {
		return s.doc.SetQualifier(path, name, value)
	}
	return s.doc.DeleteQualifier(path, name)
}

func (s *MetadataSource) saveReferences(mdPath string, md *metadata.Metadata, refs []metadata.Reference) error {
	refsPath := tree.ComposeStructFieldPath(mdPath, recordReferences)
	if err := s.doc.DeleteProperty(refsPath); err != nil {
		return err
	}
	for _, ref := range refs {
		target, _ := md.Resolve(ref)
		p, err := s.doc.AppendArrayItem(refsPath, tree.KindStruct)
		if err != nil {
			return err
		}
		if err := s.doc.SetStructField(p, refName, ref.Name); err != nil {
			return err
		}
		if err := s.doc.SetStructField(p, refSchema, target.SchemaName()); err != nil {
			return err
		}
		if err := s.doc.SetStructField(p, refDescriptor, target.Name()); err != nil {
			return err
		}
		if err := s.doc.SetInt64(tree.ComposeStructFieldPath(p, refID), int64(ref.TargetID)); err != nil {
			return err
		}
	}
	return nil
}

func (s *MetadataSource) saveEncryption(mdPath string, use bool, data string) error {
	flagPath := tree.ComposeStructFieldPath(mdPath, recordEncrypted)
	dataPath := tree.ComposeStructFieldPath(mdPath, recordEncryptedData)
	if err := s.setOrDropProperty(flagPath, use, "true"); err != nil {
		return err
	}
	return s.setOrDropProperty(dataPath, data != "", data)
}

func (s *MetadataSource) setOrDropProperty(path string, set bool, value string) error {
	if set {
		return s.doc.SetProperty(path, value)
	}
	return s.doc.DeleteProperty(path)
}

// checkText rejects records whose text would not survive serialization.
// It runs before the document is touched.
func checkText(md *metadata.Metadata) error {
	bad := func(what, text string) error {
		if utf8.ValidString(text) {
			return nil
		}
		return errors.Wrapf(ErrInvalidValue, "record %d: %s is not valid UTF-8", md.ID(), what)
	}
	if err := bad("encrypted data", md.EncryptedData()); err != nil {
		return err
	}
	for _, fv := range md.Fields() {
		if err := bad("field name", fv.Name); err != nil {
			return err
		}
		if err := bad("field "+strconv.Quote(fv.Name), fv.Value.String()); err != nil {
			return err
		}
		if err := bad("encrypted data of field "+strconv.Quote(fv.Name), fv.EncryptedData); err != nil {
			return err
		}
	}
	for _, ref := range md.References() {
		if err := bad("reference name", ref.Name); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes the document nodes of ids and drops them from the index.
// Nodes are deleted from the last document position to the first so that
// array shifts never move a node that is still pending deletion.
func (s *MetadataSource) Remove(ids []metadata.ID) error {
	type target struct {
		id  metadata.ID
		pos []int
	}
	targets := make([]target, 0, len(ids))
	for _, id := range ids {
		loc, ok := s.index[id]
		if !ok {
			continue
		}
		pos, err := pathPosition(loc.Path)
		if err != nil {
			return err
		}
		targets = append(targets, target{id: id, pos: pos})
	}
	slices.SortFunc(targets, func(a, b target) int { return slices.Compare(b.pos, a.pos) })

	for _, t := range targets {
		if err := s.doc.DeleteProperty(s.index[t.id].Path); err != nil {
			return err
		}
		delete(s.index, t.id)
	}
	if len(targets) > 0 {
		s.log.Debug().Int("records", len(targets)).Msg("records removed")
		return s.BuildIDIndex()
	}
	return nil
}

// pathPosition extracts the array indices of a record path for ordering
func pathPosition(path string) ([]int, error) {
	var pos []int
	for rest := path; ; {
		open := strings.IndexByte(rest, '[')
		if open < 0 {
			return pos, nil
		}
		end := strings.IndexByte(rest[open:], ']')
		if end < 0 {
			return nil, errors.Wrapf(ErrCorruptFormat, "record path %q", path)
		}
		n, err := strconv.Atoi(rest[open+1 : open+end])
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptFormat, "record path %q", path)
		}
		pos = append(pos, n)
		rest = rest[open+end+1:]
	}
}

// Clear removes every schema node and empties the index
func (s *MetadataSource) Clear() error {
	if err := s.doc.DeleteProperty(SchemasArray); err != nil {
		return err
	}
	s.index = make(IDIndex)
	return nil
}
