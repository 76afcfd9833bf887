package mapper

import (
	"github.com/pkg/errors"

	"github.com/nainya/metastream/pkg/metadata"
	"github.com/nainya/metastream/pkg/schema"
	"github.com/nainya/metastream/pkg/tree"
	"github.com/nainya/metastream/pkg/variant"
)

// LoadSchema loads every property of schema name into stream. The schema
// must be registered in stream so descriptors can be resolved.
func (s *MetadataSource) LoadSchema(name string, stream *metadata.Stream) error {
	schemaPath := s.FindSchema(name)
	if schemaPath == "" {
		return errors.Wrapf(ErrSchemaNotFound, "%q", name)
	}
	sc := stream.Schema(name)
	if sc == nil {
		return errors.Wrapf(ErrSchemaNotFound, "%q is not registered in the stream", name)
	}
	for propPath := range s.doc.Children(tree.ComposeStructFieldPath(schemaPath, schemaSet)) {
		if err := s.loadPropertyAt(propPath, sc, stream); err != nil {
			return err
		}
	}
	stream.SortByID()
	return nil
}

// LoadProperty loads the records of one descriptor into stream
func (s *MetadataSource) LoadProperty(schemaName, property string, stream *metadata.Stream) error {
	schemaPath := s.FindSchema(schemaName)
	if schemaPath == "" {
		return errors.Wrapf(ErrSchemaNotFound, "%q", schemaName)
	}
	propPath := s.FindProperty(schemaPath, property)
	if propPath == "" {
		return errors.Wrapf(ErrPropertyNotFound, "%s/%s", schemaName, property)
	}
	sc := stream.Schema(schemaName)
	if sc == nil {
		return errors.Wrapf(ErrSchemaNotFound, "%q is not registered in the stream", schemaName)
	}
	if err := s.loadPropertyAt(propPath, sc, stream); err != nil {
		return err
	}
	stream.SortByID()
	return nil
}

func (s *MetadataSource) loadPropertyAt(propPath string, sc *schema.Schema, stream *metadata.Stream) error {
	name, err := s.doc.GetStructField(propPath, propertyName)
	if err != nil {
		return errors.Wrapf(ErrCorruptFormat, "property at %s has no name", propPath)
	}
	desc := sc.Find(name)
	if desc == nil {
		return errors.Wrapf(ErrPropertyNotFound, "%s/%s is not declared by the schema", sc.Name, name)
	}
	for mdPath := range s.doc.Children(tree.ComposeStructFieldPath(propPath, propertySet)) {
		if err := s.LoadMetadata(mdPath, desc, stream); err != nil {
			return err
		}
	}
	return nil
}

type pendingRecord struct {
	path string
	desc *schema.Descriptor
}

// LoadMetadata materializes the record at path together with every record
// it reaches through references. Records already in stream are skipped, which
// is what terminates reference cycles.
func (s *MetadataSource) LoadMetadata(path string, desc *schema.Descriptor, stream *metadata.Stream) error {
	queue := []pendingRecord{{path: path, desc: desc}}
	loaded := 0

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		md, refPaths, err := s.readRecord(next.path, next.desc, stream)
		if err != nil {
			return err
		}
		if md == nil {
			continue
		}
		// Insert before linking so a record that points back at md finds it.
		if err := stream.Restore(md); err != nil {
			return err
		}
		loaded++

		for _, refPath := range refPaths {
			target, err := s.readReference(refPath, md, stream)
			if err != nil {
				return err
			}
			if target != nil {
				queue = append(queue, *target)
			}
		}
	}

	s.log.Debug().Str("path", path).Int("records", loaded).Msg("records loaded")
	return nil
}

// readRecord decodes the record at path; it returns nil when the id is
// already in stream
func (s *MetadataSource) readRecord(path string, desc *schema.Descriptor, stream *metadata.Stream) (*metadata.Metadata, []string, error) {
	rawID, err := s.doc.GetInt64(tree.ComposeStructFieldPath(path, recordID))
	if err != nil {
		return nil, nil, errors.Wrapf(ErrCorruptFormat, "record at %s: %v", path, err)
	}
	id := metadata.ID(rawID)
	if stream.Get(id) != nil {
		return nil, nil, nil
	}

	frameIndex, err := s.readOptional(path, recordFrameIndex, metadata.UndefinedFrameIndex)
	if err != nil {
		return nil, nil, err
	}
	numFrames, err := s.readOptional(path, recordNumFrames, metadata.UndefinedFrameCount)
	if err != nil {
		return nil, nil, err
	}
	timestamp, err := s.readOptional(path, recordTimestamp, metadata.UndefinedTimestamp)
	if err != nil {
		return nil, nil, err
	}
	duration, err := s.readOptional(path, recordDuration, metadata.UndefinedDuration)
	if err != nil {
		return nil, nil, err
	}

	md := metadata.FromStorage(desc, id)
	md.SetFrameIndex(frameIndex, numFrames)
	md.SetTimestamp(timestamp, duration)

	flag, _ := s.doc.GetProperty(tree.ComposeStructFieldPath(path, recordEncrypted))
	data, _ := s.doc.GetProperty(tree.ComposeStructFieldPath(path, recordEncryptedData))
	if flag == "true" && data == "" {
		return nil, nil, errors.Wrapf(ErrCorruptFormat, "record %d is marked encrypted without encrypted data", id)
	}
	md.SetEncryption(flag == "true", data)

	for fieldPath := range s.doc.Children(tree.ComposeStructFieldPath(path, recordFields)) {
		fv, err := s.readField(fieldPath, desc)
		if err != nil {
			return nil, nil, err
		}
		if err := md.SetField(fv); err != nil {
			return nil, nil, errors.Wrapf(ErrCorruptFormat, "field at %s: %v", fieldPath, err)
		}
	}

	var refPaths []string
	for refPath := range s.doc.Children(tree.ComposeStructFieldPath(path, recordReferences)) {
		refPaths = append(refPaths, refPath)
	}
	return md, refPaths, nil
}

func (s *MetadataSource) readOptional(path, name string, sentinel int64) (int64, error) {
	p := tree.ComposeStructFieldPath(path, name)
	if !s.doc.Exists(p) {
		return sentinel, nil
	}
	v, err := s.doc.GetInt64(p)
	if err != nil {
		return 0, errors.Wrapf(ErrCorruptFormat, "%s: %v", p, err)
	}
	if v < 0 && v != sentinel {
		return 0, errors.Wrapf(ErrCorruptFormat, "%s = %d", p, v)
	}
	return v, nil
}

func (s *MetadataSource) readField(path string, desc *schema.Descriptor) (variant.FieldValue, error) {
	raw, err := s.doc.GetProperty(path)
	if err != nil {
		return variant.FieldValue{}, errors.Wrapf(ErrCorruptFormat, "field at %s: %v", path, err)
	}
	name, _ := s.doc.GetQualifier(path, fieldName)
	fd, ok := desc.Field(name)
	if !ok {
		return variant.FieldValue{}, errors.Wrapf(ErrUnknownField, "%s/%s has no field %q (%s)",
			desc.SchemaName, desc.MetadataName, name, path)
	}

	flag, _ := s.doc.GetQualifier(path, fieldEncrypted)
	data, _ := s.doc.GetQualifier(path, fieldEncryptedData)
	if flag == "true" && data == "" {
		return variant.FieldValue{}, errors.Wrapf(ErrCorruptFormat, "field at %s is marked encrypted without encrypted data", path)
	}

	if fd.Type == variant.TypeString && raw == emptyValue {
		raw = ""
	}
	v, err := variant.FromString(fd.Type, raw)
	if err != nil {
		return variant.FieldValue{}, errors.Wrapf(ErrCorruptFormat, "field at %s: %v", path, err)
	}
	return variant.FieldValue{
		Name:          name,
		Value:         v,
		UseEncryption: flag == "true",
		EncryptedData: data,
	}, nil
}

// readReference links md to the reference target at refPath. When the target
// is not loaded yet it is returned so the caller can queue it.
func (s *MetadataSource) readReference(refPath string, md *metadata.Metadata, stream *metadata.Stream) (*pendingRecord, error) {
	name, _ := s.doc.GetStructField(refPath, refName)
	rawID, err := s.doc.GetInt64(tree.ComposeStructFieldPath(refPath, refID))
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptFormat, "reference at %s: %v", refPath, err)
	}
	id := metadata.ID(rawID)

	if stream.Get(id) != nil {
		md.AddReferenceID(id, name)
		return nil, nil
	}

	loc, ok := s.index[id]
	if !ok {
		return nil, errors.Wrapf(ErrDanglingReference, "reference %q at %s -> %d", name, refPath, id)
	}
	sc := stream.Schema(loc.Schema)
	if sc == nil {
		return nil, errors.Wrapf(ErrSchemaNotFound, "reference target %d uses schema %q", id, loc.Schema)
	}
	desc := sc.Find(loc.Metadata)
	if desc == nil {
		return nil, errors.Wrapf(ErrPropertyNotFound, "reference target %d uses %s/%s", id, loc.Schema, loc.Metadata)
	}
	md.AddReferenceID(id, name)
	return &pendingRecord{path: loc.Path, desc: desc}, nil
}
