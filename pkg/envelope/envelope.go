// ABOUTME: Reversible whole-document transforms (compression, encryption)
// ABOUTME: Each applied transform leaves a marker record in a fresh outer document

package envelope

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nainya/metastream/pkg/mapper"
)

var (
	// ErrUnknownAlgorithm is returned when no factory is registered for an id
	ErrUnknownAlgorithm = errors.New("envelope: unknown algorithm")

	// ErrNoDecryptor is returned when an encrypted document is opened without an encryptor
	ErrNoDecryptor = errors.New("envelope: no decryptor for encrypted document")

	// ErrUnknownCompressor is returned when a compressed document names an unregistered compressor
	ErrUnknownCompressor = errors.New("envelope: unknown compressor")

	// ErrCorruptPayload is returned when a transform cannot invert a payload
	ErrCorruptPayload = errors.New("envelope: corrupt payload")

	// ErrSizeMismatch is returned when the declared uncompressed size does not match the output
	ErrSizeMismatch = errors.New("envelope: decompressed size mismatch")

	// ErrCorruptFormat is shared with the mapper
	ErrCorruptFormat = mapper.ErrCorruptFormat
)

// Compressor is a reversible byte transform identified by an id
type Compressor interface {
	ID() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Encryptor is a reversible byte transform identified by a hint that tells
// a reader which key or passphrase is needed
type Encryptor interface {
	Hint() string
	Encrypt(data []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// Registry resolves algorithm ids to new instances
type Registry[T any] struct {
	factories map[string]func() (T, error)
}

// NewRegistry creates an empty registry
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{factories: make(map[string]func() (T, error))}
}

// Register installs factory under id, replacing an earlier registration
func (r *Registry[T]) Register(id string, factory func() (T, error)) {
	r.factories[id] = factory
}

// Create builds a new instance for id
func (r *Registry[T]) Create(id string) (T, error) {
	var zero T
	if r == nil {
		return zero, errors.Wrapf(ErrUnknownAlgorithm, "%q", id)
	}
	factory, ok := r.factories[id]
	if !ok {
		return zero, errors.Wrapf(ErrUnknownAlgorithm, "%q", id)
	}
	inst, err := factory()
	if err != nil {
		return zero, errors.Wrapf(err, "create %q", id)
	}
	return inst, nil
}

// Has reports whether id is registered
func (r *Registry[T]) Has(id string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[id]
	return ok
}

// IDs returns the registered ids in sorted order
func (r *Registry[T]) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
