package envelope

import (
	"github.com/pkg/errors"

	"github.com/nainya/metastream/internal/logger"
	"github.com/nainya/metastream/pkg/mapper"
	"github.com/nainya/metastream/pkg/metadata"
	"github.com/nainya/metastream/pkg/schema"
	"github.com/nainya/metastream/pkg/tree"
	"github.com/nainya/metastream/pkg/variant"
)

// Reserved marker schemas. Each holds exactly one record with the
// algorithm id (or encryption hint) and the transformed payload.
const (
	CompressedSchema = "compressed"
	EncryptedSchema  = "encrypted"

	compressedDesc = "compressed-data"
	encryptedDesc  = "encrypted-data"

	fieldAlgorithm = "algorithm"
	fieldPayload   = "payload"
)

type marker struct {
	schema string
	desc   string
}

var (
	compressedMarker = marker{schema: CompressedSchema, desc: compressedDesc}
	encryptedMarker  = marker{schema: EncryptedSchema, desc: encryptedDesc}
)

func (m marker) build() *schema.Schema {
	return schema.New(m.schema, "metastream").MustAdd(schema.NewDescriptor(m.desc,
		schema.FieldDesc{Name: fieldAlgorithm, Type: variant.TypeString},
		schema.FieldDesc{Name: fieldPayload, Type: variant.TypeBinary},
	))
}

// write stores payload in a brand-new outer document whose id counter
// restarts at 1
func (m marker) write(algorithm string, payload []byte, log *logger.Logger) (*tree.Document, error) {
	sc := m.build()
	stream := metadata.NewStream()
	if err := stream.AddSchema(sc); err != nil {
		return nil, err
	}
	md := metadata.New(sc.Find(m.desc))
	if err := md.SetFieldValue(fieldAlgorithm, variant.String(algorithm)); err != nil {
		return nil, err
	}
	if err := md.SetFieldValue(fieldPayload, variant.Binary(payload)); err != nil {
		return nil, err
	}
	if _, err := stream.Add(md); err != nil {
		return nil, err
	}

	outer := tree.New()
	src, err := mapper.NewMetadataSource(outer, log)
	if err != nil {
		return nil, err
	}
	if err := src.SaveSchema(sc, stream.All()); err != nil {
		return nil, err
	}
	if err := mapper.NewSchemaSource(outer).Save(sc); err != nil {
		return nil, err
	}
	if err := outer.SetInt64(mapper.NextIDPath, 1); err != nil {
		return nil, err
	}
	return outer, nil
}

// read extracts the marker record from doc; found is false when doc carries
// no marker of this kind
func (m marker) read(doc *tree.Document, log *logger.Logger) (algorithm string, payload []byte, found bool, err error) {
	src, err := mapper.NewMetadataSource(doc, log)
	if err != nil {
		return "", nil, false, err
	}
	if src.FindSchema(m.schema) == "" {
		return "", nil, false, nil
	}

	sc := m.build()
	stream := metadata.NewStream()
	if err := stream.AddSchema(sc); err != nil {
		return "", nil, true, err
	}
	if err := src.LoadSchema(m.schema, stream); err != nil {
		return "", nil, true, errors.Wrapf(ErrCorruptFormat, "%s marker: %v", m.schema, err)
	}
	records := stream.All().ByName(m.schema, m.desc)
	if len(records) != 1 {
		return "", nil, true, errors.Wrapf(ErrCorruptFormat, "%s marker holds %d records", m.schema, len(records))
	}

	alg, ok := records[0].FieldValue(fieldAlgorithm)
	if !ok {
		return "", nil, true, errors.Wrapf(ErrCorruptFormat, "%s marker has no %s", m.schema, fieldAlgorithm)
	}
	data, ok := records[0].FieldValue(fieldPayload)
	if !ok {
		return "", nil, true, errors.Wrapf(ErrCorruptFormat, "%s marker has no %s", m.schema, fieldPayload)
	}
	algorithm, _ = alg.AsString()
	payload, _ = data.AsBinary()
	return algorithm, payload, true, nil
}
