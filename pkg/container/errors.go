// Package container stores a serialized metadata packet in a host file
package container

import "github.com/pkg/errors"

var (
	// ErrCorrupted indicates a packet frame whose checksum does not match
	ErrCorrupted = errors.New("container: corrupted packet")

	// ErrTruncated indicates a packet frame cut short
	ErrTruncated = errors.New("container: truncated packet")

	// ErrVersion indicates a packet frame written by a newer format
	ErrVersion = errors.New("container: unsupported packet version")

	// ErrClosed indicates an operation on a closed file
	ErrClosed = errors.New("container: file closed")

	// ErrReadOnly indicates a write to a file opened read-only
	ErrReadOnly = errors.New("container: file opened read-only")
)
