package container

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

const (
	// Signature opens every packet frame
	Signature = "MSTR"

	// Version is the frame format written by Encode
	Version uint16 = 1

	// HeaderSize is the fixed size of the frame header
	// Layout: Signature(4) + Version(2) + Reserved(2) + PayloadLen(8)
	HeaderSize = 16

	trailerSize = 4
)

// Encode frames payload with a header and a CRC32 trailer
// Format: [Header(16)] [Payload] [CRC32(4)]
func Encode(payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload)+trailerSize)

	copy(buf[0:4], Signature)
	binary.LittleEndian.PutUint16(buf[4:6], Version)
	// bytes 6-7 are reserved
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(payload)))

	offset := HeaderSize + copy(buf[HeaderSize:], payload)

	// CRC32 covers header and payload
	crc := crc32.ChecksumIEEE(buf[:offset])
	binary.LittleEndian.PutUint32(buf[offset:], crc)
	return buf
}

// FrameSize returns the encoded size of a frame starting at data[0], as
// declared by its header
func FrameSize(data []byte) (int, error) {
	if len(data) < HeaderSize {
		return 0, ErrTruncated
	}
	if !bytes.Equal(data[0:4], []byte(Signature)) {
		return 0, errors.Wrap(ErrCorrupted, "missing signature")
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v > Version {
		return 0, errors.Wrapf(ErrVersion, "version %d", v)
	}
	n := binary.LittleEndian.Uint64(data[8:16])
	if n > uint64(len(data)) {
		return 0, errors.Wrapf(ErrTruncated, "payload of %d bytes", n)
	}
	return HeaderSize + int(n) + trailerSize, nil
}

// Decode verifies a frame that fills data exactly and returns its payload
func Decode(data []byte) ([]byte, error) {
	size, err := FrameSize(data)
	if err != nil {
		return nil, err
	}
	if len(data) < size {
		return nil, ErrTruncated
	}
	if len(data) > size {
		return nil, errors.Wrapf(ErrCorrupted, "%d trailing bytes", len(data)-size)
	}

	end := size - trailerSize
	stored := binary.LittleEndian.Uint32(data[end:])
	if stored != crc32.ChecksumIEEE(data[:end]) {
		return nil, ErrCorrupted
	}

	payload := make([]byte, end-HeaderSize)
	copy(payload, data[HeaderSize:end])
	return payload, nil
}
