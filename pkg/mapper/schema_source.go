package mapper

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/nainya/metastream/pkg/schema"
	"github.com/nainya/metastream/pkg/tree"
	"github.com/nainya/metastream/pkg/variant"
)

// Schema definitions live at
//   schemas[s] {name, author, is-encrypted?, descriptors[d] {name, fields[f] {name?, type, optional, is-encrypted}}}
const (
	DefinitionsArray = "schemas"

	defName        = "name"
	defAuthor      = "author"
	defEncrypted   = "is-encrypted"
	defDescriptors = "descriptors"
	defFields      = "fields"
	defType        = "type"
	defOptional    = "optional"
)

// SchemaSource persists schema definitions alongside the records that use them
type SchemaSource struct {
	doc *tree.Document
}

// NewSchemaSource binds to doc
func NewSchemaSource(doc *tree.Document) *SchemaSource {
	return &SchemaSource{doc: doc}
}

func (s *SchemaSource) find(name string) string {
	for p := range s.doc.Children(DefinitionsArray) {
		if v, err := s.doc.GetStructField(p, defName); err == nil && v == name {
			return p
		}
	}
	return ""
}

// Save writes sc, replacing an existing definition with the same name
func (s *SchemaSource) Save(sc *schema.Schema) error {
	if sc == nil || sc.Name == "" {
		return errors.Wrap(schema.ErrInvalid, "schema without a name")
	}
	p := s.find(sc.Name)
	if p == "" {
		var err error
		if p, err = s.doc.AppendArrayItem(DefinitionsArray, tree.KindStruct); err != nil {
			return err
		}
	}
	if err := s.doc.SetStructField(p, defName, sc.Name); err != nil {
		return err
	}
	if err := s.doc.SetStructField(p, defAuthor, sc.Author); err != nil {
		return err
	}
	if err := s.doc.SetStructField(p, defEncrypted, strconv.FormatBool(sc.UseEncryption)); err != nil {
		return err
	}

	descsPath := tree.ComposeStructFieldPath(p, defDescriptors)
	if err := s.doc.DeleteProperty(descsPath); err != nil {
		return err
	}
	for _, d := range sc.All() {
		dp, err := s.doc.AppendArrayItem(descsPath, tree.KindStruct)
		if err != nil {
			return err
		}
		if err := s.doc.SetStructField(dp, defName, d.MetadataName); err != nil {
			return err
		}
		fieldsPath := tree.ComposeStructFieldPath(dp, defFields)
		for _, f := range d.Fields {
			fp, err := s.doc.AppendArrayItem(fieldsPath, tree.KindStruct)
			if err != nil {
				return err
			}
			if f.Name != "" {
				if err := s.doc.SetStructField(fp, defName, f.Name); err != nil {
					return err
				}
			}
			if err := s.doc.SetStructField(fp, defType, f.Type.String()); err != nil {
				return err
			}
			if err := s.doc.SetStructField(fp, defOptional, strconv.FormatBool(f.Optional)); err != nil {
				return err
			}
			if err := s.doc.SetStructField(fp, defEncrypted, strconv.FormatBool(f.UseEncryption)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load reads every stored definition keyed by schema name
func (s *SchemaSource) Load() (map[string]*schema.Schema, error) {
	out := make(map[string]*schema.Schema)
	for p := range s.doc.Children(DefinitionsArray) {
		sc, err := s.loadAt(p)
		if err != nil {
			return nil, err
		}
		out[sc.Name] = sc
	}
	return out, nil
}

func (s *SchemaSource) loadAt(p string) (*schema.Schema, error) {
	name, err := s.doc.GetStructField(p, defName)
	if err != nil || name == "" {
		return nil, errors.Wrapf(ErrCorruptFormat, "schema definition at %s has no name", p)
	}
	author, _ := s.doc.GetStructField(p, defAuthor)
	sc := schema.New(name, author)
	sc.UseEncryption = s.readBool(p, defEncrypted)

	for dp := range s.doc.Children(tree.ComposeStructFieldPath(p, defDescriptors)) {
		dname, err := s.doc.GetStructField(dp, defName)
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptFormat, "descriptor at %s has no name", dp)
		}
		var fields []schema.FieldDesc
		for fp := range s.doc.Children(tree.ComposeStructFieldPath(dp, defFields)) {
			fname, _ := s.doc.GetStructField(fp, defName)
			tname, err := s.doc.GetStructField(fp, defType)
			if err != nil {
				return nil, errors.Wrapf(ErrCorruptFormat, "field at %s has no type", fp)
			}
			typ, err := variant.ParseType(tname)
			if err != nil {
				return nil, errors.Wrapf(ErrCorruptFormat, "field at %s: %v", fp, err)
			}
			fields = append(fields, schema.FieldDesc{
				Name:          fname,
				Type:          typ,
				Optional:      s.readBool(fp, defOptional),
				UseEncryption: s.readBool(fp, defEncrypted),
			})
		}
		d, err := schema.NewDescriptor(dname, fields...)
		if err == nil {
			err = sc.Add(d)
		}
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptFormat, "schema %q: %v", name, err)
		}
	}
	return sc, nil
}

func (s *SchemaSource) readBool(p, name string) bool {
	v, err := s.doc.GetStructField(p, name)
	if err != nil {
		return false
	}
	b, _ := strconv.ParseBool(v)
	return b
}

// Remove deletes the definition of schema name
func (s *SchemaSource) Remove(name string) error {
	p := s.find(name)
	if p == "" {
		return errors.Wrapf(ErrSchemaNotFound, "definition %q", name)
	}
	return s.doc.DeleteProperty(p)
}

// Clear deletes every stored definition
func (s *SchemaSource) Clear() error {
	return s.doc.DeleteProperty(DefinitionsArray)
}
