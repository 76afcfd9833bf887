// ABOUTME: Compressors for the transform envelope built on klauspost/compress
// ABOUTME: Every payload starts with the uncompressed length as 8 little-endian bytes

package compress

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/nainya/metastream/pkg/envelope"
)

// Registered compressor ids
const (
	Zlib = "zlib"
	Zstd = "zstd"
	S2   = "s2"

	// Default matches the compressor historically used for packets
	Default = Zlib
)

const headerSize = 8

type codec interface {
	encode(src []byte) ([]byte, error)
	// decode must not produce more than limit bytes
	decode(src []byte, limit int64) ([]byte, error)
}

// Compressor frames a codec with the length header
type Compressor struct {
	id    string
	codec codec
}

var _ envelope.Compressor = (*Compressor)(nil)

// New creates the compressor registered as id
func New(id string) (*Compressor, error) {
	var c codec
	switch id {
	case Zlib:
		c = zlibCodec{level: zlib.BestCompression}
	case Zstd:
		c = zstdCodec{}
	case S2:
		c = s2Codec{}
	default:
		return nil, errors.Wrapf(envelope.ErrUnknownAlgorithm, "compressor %q", id)
	}
	return &Compressor{id: id, codec: c}, nil
}

// Register installs every compressor of this package into reg
func Register(reg *envelope.Registry[envelope.Compressor]) {
	for _, id := range []string{Zlib, Zstd, S2} {
		reg.Register(id, func() (envelope.Compressor, error) {
			return New(id)
		})
	}
}

// NewRegistry returns a registry holding every compressor of this package
func NewRegistry() *envelope.Registry[envelope.Compressor] {
	reg := envelope.NewRegistry[envelope.Compressor]()
	Register(reg)
	return reg
}

// ID returns the registry id
func (c *Compressor) ID() string { return c.id }

// Compress prefixes the encoded data with its original length
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	body, err := c.codec.encode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s encode", c.id)
	}
	out := make([]byte, headerSize, headerSize+len(body))
	binary.LittleEndian.PutUint64(out, uint64(len(data)))
	return append(out, body...), nil
}

// Decompress checks the decoded length against the header and never
// returns a truncated or padded result
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, errors.Wrapf(envelope.ErrCorruptPayload, "%s payload of %d bytes has no length header", c.id, len(data))
	}
	declared := binary.LittleEndian.Uint64(data[:headerSize])
	limit := int64(math.MaxInt64)
	if declared < math.MaxInt64 {
		limit = int64(declared) + 1
	}

	out, err := c.codec.decode(data[headerSize:], limit)
	if err != nil {
		if errors.Is(err, envelope.ErrSizeMismatch) {
			return nil, err
		}
		return nil, errors.Wrapf(envelope.ErrCorruptPayload, "%s decode: %v", c.id, err)
	}
	if uint64(len(out)) != declared {
		return nil, errors.Wrapf(envelope.ErrSizeMismatch, "%s: declared %d bytes, decoded %d", c.id, declared, len(out))
	}
	return out, nil
}

type zlibCodec struct {
	level int
}

func (z zlibCodec) encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, z.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (zlibCodec) decode(src []byte, limit int64) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, limit))
}

type zstdCodec struct{}

func (zstdCodec) encode(src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}

func (zstdCodec) decode(src []byte, limit int64) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}
	dec, err := zstd.NewReader(bytes.NewReader(src), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(io.LimitReader(dec, limit))
}

type s2Codec struct{}

func (s2Codec) encode(src []byte) ([]byte, error) {
	return s2.EncodeBetter(nil, src), nil
}

func (s2Codec) decode(src []byte, limit int64) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, err
	}
	if int64(n) >= limit {
		return nil, errors.Wrapf(envelope.ErrSizeMismatch, "s2 block decodes to %d bytes, declared %d", n, limit-1)
	}
	return s2.Decode(nil, src)
}
