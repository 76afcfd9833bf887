// ABOUTME: Host file holding one framed metadata packet
// ABOUTME: Pure packet files are read directly, other files are scanned for an appended packet

package container

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/nainya/metastream/internal/logger"
)

// Mode selects how a file is opened
type Mode int

const (
	// ReadOnly rejects writes; the file must exist
	ReadOnly Mode = iota

	// Update allows writes and creates the file on first write
	Update
)

func (m Mode) String() string {
	if m == Update {
		return "update"
	}
	return "read-only"
}

// File is an opened host file and its packet
type File struct {
	// Path is the host file location
	Path string

	mode     Mode
	perm     fs.FileMode
	host     []byte
	packet   []byte
	embedded bool
	closed   bool
	log      *logger.Logger
}

// Open reads path and locates its packet. A file without a packet, or a
// missing file in Update mode, yields an empty packet.
func Open(path string, mode Mode, log *logger.Logger) (*File, error) {
	f := &File{
		Path: path,
		mode: mode,
		perm: 0644,
		log:  logger.OrNop(log).ContainerLogger(path),
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if st, statErr := os.Stat(path); statErr == nil {
			f.perm = st.Mode().Perm()
		}
	case errors.Is(err, fs.ErrNotExist) && mode == Update:
		f.log.Debug().Msg("file does not exist yet, starting with an empty packet")
		return f, nil
	default:
		return nil, errors.Wrapf(err, "open %s", path)
	}

	if err := f.locate(data); err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	f.log.Debug().
		Bool("embedded", f.embedded).
		Int("host_bytes", len(f.host)).
		Int("packet_bytes", len(f.packet)).
		Msg("packet located")
	return f, nil
}

// locate splits data into host bytes and packet
func (f *File) locate(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	// packet file written by this package
	if bytes.HasPrefix(data, []byte(Signature)) {
		payload, err := Decode(data)
		if err != nil {
			return err
		}
		f.packet = payload
		return nil
	}

	// host file with a packet appended; the host may contain the signature
	// by chance, so only a frame ending exactly at EOF counts
	sig := []byte(Signature)
	for i := bytes.LastIndex(data, sig); i >= 0; i = bytes.LastIndex(data[:i], sig) {
		size, err := FrameSize(data[i:])
		if err != nil || i+size != len(data) {
			continue
		}
		payload, err := Decode(data[i:])
		if err != nil {
			return err
		}
		f.host, f.packet, f.embedded = data[:i], payload, true
		return nil
	}

	f.log.Debug().Msg("no packet found in host file")
	f.host = data
	return nil
}

// Packet returns the current packet bytes, empty when the file has none
func (f *File) Packet() ([]byte, error) {
	if f.closed {
		return nil, ErrClosed
	}
	return f.packet, nil
}

// Embedded reports whether the packet follows host bytes
func (f *File) Embedded() bool { return f.embedded }

// Mode returns the open mode
func (f *File) Mode() Mode { return f.mode }

// Write replaces the packet. Host bytes are preserved; the file is
// replaced atomically through a synced temporary file.
func (f *File) Write(packet []byte) error {
	if f.closed {
		return ErrClosed
	}
	if f.mode != Update {
		return ErrReadOnly
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temporary file")
	}
	defer os.Remove(tmp.Name()) // no-op after rename

	frame := Encode(packet)
	if _, err := tmp.Write(f.host); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write host bytes")
	}
	if _, err := tmp.Write(frame); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write packet")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temporary file")
	}
	if err := os.Chmod(tmp.Name(), f.perm); err != nil {
		return errors.Wrap(err, "chmod")
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return errors.Wrapf(err, "replace %s", f.Path)
	}

	f.packet = append([]byte(nil), packet...)
	f.embedded = len(f.host) > 0
	f.log.Debug().Int("packet_bytes", len(packet)).Int("frame_bytes", len(frame)).Msg("packet written")
	return nil
}

// Checksum returns the hex SHA-256 of the host bytes, excluding the packet
func (f *File) Checksum() (string, error) {
	if f.closed {
		return "", ErrClosed
	}
	sum := sha256.Sum256(f.host)
	return hex.EncodeToString(sum[:]), nil
}

// Close releases the file; later calls fail with ErrClosed
func (f *File) Close() error {
	f.closed = true
	f.host, f.packet = nil, nil
	return nil
}
