package compress

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/metastream/pkg/envelope"
)

func samplePayload() []byte {
	return bytes.Repeat([]byte("metastream packet payload "), 200)
}

func TestRoundTripAllCompressors(t *testing.T) {
	reg := NewRegistry()
	require.Equal(t, []string{S2, Zlib, Zstd}, reg.IDs())

	for _, id := range reg.IDs() {
		t.Run(id, func(t *testing.T) {
			c, err := reg.Create(id)
			require.NoError(t, err)
			assert.Equal(t, id, c.ID())

			for _, in := range [][]byte{samplePayload(), {0x42}, {}} {
				packed, err := c.Compress(in)
				require.NoError(t, err)
				assert.Equal(t, uint64(len(in)), binary.LittleEndian.Uint64(packed[:headerSize]))

				out, err := c.Decompress(packed)
				require.NoError(t, err)
				assert.True(t, bytes.Equal(in, out), "round trip changed %d bytes", len(in))
			}
		})
	}
}

func TestCompressionShrinksRepetitiveInput(t *testing.T) {
	c, err := New(Default)
	require.NoError(t, err)

	in := samplePayload()
	packed, err := c.Compress(in)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(in)/4)
}

func TestCorruptedLengthHeader(t *testing.T) {
	for _, id := range []string{Zlib, Zstd, S2} {
		t.Run(id, func(t *testing.T) {
			c, err := New(id)
			require.NoError(t, err)

			packed, err := c.Compress(samplePayload())
			require.NoError(t, err)

			larger := append([]byte(nil), packed...)
			binary.LittleEndian.PutUint64(larger, uint64(len(samplePayload())+10))
			_, err = c.Decompress(larger)
			assert.ErrorIs(t, err, envelope.ErrSizeMismatch)

			smaller := append([]byte(nil), packed...)
			binary.LittleEndian.PutUint64(smaller, 3)
			_, err = c.Decompress(smaller)
			assert.ErrorIs(t, err, envelope.ErrSizeMismatch)
		})
	}
}

func TestCorruptPayload(t *testing.T) {
	c, err := New(Zlib)
	require.NoError(t, err)

	_, err = c.Decompress([]byte{1, 2, 3})
	assert.ErrorIs(t, err, envelope.ErrCorruptPayload)

	junk := make([]byte, headerSize+16)
	binary.LittleEndian.PutUint64(junk, 16)
	copy(junk[headerSize:], "definitely-not-zlib")
	_, err = c.Decompress(junk)
	assert.ErrorIs(t, err, envelope.ErrCorruptPayload)
}

func TestUnknownCompressor(t *testing.T) {
	_, err := New("lzma")
	assert.ErrorIs(t, err, envelope.ErrUnknownAlgorithm)

	_, err = NewRegistry().Create("lzma")
	assert.ErrorIs(t, err, envelope.ErrUnknownAlgorithm)
}
