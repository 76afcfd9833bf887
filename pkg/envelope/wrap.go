package envelope

import (
	"github.com/pkg/errors"

	"github.com/nainya/metastream/internal/logger"
	"github.com/nainya/metastream/internal/metrics"
	"github.com/nainya/metastream/pkg/tree"
)

// MaxWrapDepth bounds how many nested markers Unwrap will peel
const MaxWrapDepth = 8

// WrapOptions selects the transforms applied on save; nil skips a step
type WrapOptions struct {
	Compressor Compressor
	Encryptor  Encryptor
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
}

// UnwrapOptions configures how markers found on load are undone
type UnwrapOptions struct {
	Compressors             *Registry[Compressor]
	Encryptor               Encryptor
	IgnoreUnknownCompressor bool
	IgnoreUnknownEncryptor  bool
	Logger                  *logger.Logger
	Metrics                 *metrics.Metrics
}

// State reports what Unwrap did
type State struct {
	// Compressors lists the compressor ids undone, outermost first
	Compressors []string
	// Encryptions lists the hints of the payloads decrypted, outermost first
	Encryptions []string
	// Inert is set when an ignore flag left a marker in place. The returned
	// document is then the still-wrapped outer document.
	Inert bool
	// Pending names the marker schema left in place when Inert
	Pending string
	// PendingAlgorithm is the compressor id or encryption hint of that marker
	PendingAlgorithm string
}

// Wrap serializes doc and nests it inside a compression marker and then an
// encryption marker, as configured. With no transforms doc is returned as is.
func Wrap(doc *tree.Document, opts WrapOptions) (*tree.Document, error) {
	log := logger.OrNop(opts.Logger).EnvelopeLogger()
	cur := doc

	if opts.Compressor != nil {
		buf, err := cur.Serialize()
		if err != nil {
			return nil, err
		}
		packed, err := opts.Compressor.Compress(buf)
		if err != nil {
			return nil, errors.Wrapf(err, "compress with %q", opts.Compressor.ID())
		}
		if cur, err = compressedMarker.write(opts.Compressor.ID(), packed, opts.Logger); err != nil {
			return nil, err
		}
		opts.Metrics.RecordTransform("compression", opts.Compressor.ID(), "wrap")
		log.Debug().Str("algorithm", opts.Compressor.ID()).Int("in", len(buf)).Int("out", len(packed)).Msg("document compressed")
	}

	if opts.Encryptor != nil {
		buf, err := cur.Serialize()
		if err != nil {
			return nil, err
		}
		sealed, err := opts.Encryptor.Encrypt(buf)
		if err != nil {
			return nil, errors.Wrapf(err, "encrypt with hint %q", opts.Encryptor.Hint())
		}
		if cur, err = encryptedMarker.write(opts.Encryptor.Hint(), sealed, opts.Logger); err != nil {
			return nil, err
		}
		opts.Metrics.RecordTransform("encryption", opts.Encryptor.Hint(), "wrap")
		log.Debug().Str("hint", opts.Encryptor.Hint()).Int("bytes", len(sealed)).Msg("document encrypted")
	}

	return cur, nil
}

// Unwrap peels markers until the real document is reached. An encryption
// marker is always undone before a compression marker, since Wrap nests
// compression inside encryption.
func Unwrap(doc *tree.Document, opts UnwrapOptions) (*tree.Document, State, error) {
	log := logger.OrNop(opts.Logger).EnvelopeLogger()
	var state State
	cur := doc

	for depth := 0; depth <= MaxWrapDepth; depth++ {
		hint, payload, found, err := encryptedMarker.read(cur, opts.Logger)
		if err != nil {
			return nil, state, err
		}
		if found {
			if opts.Encryptor == nil {
				if opts.IgnoreUnknownEncryptor {
					log.Warn().Str("hint", hint).Msg("encrypted document left wrapped")
					state.Inert, state.Pending, state.PendingAlgorithm = true, EncryptedSchema, hint
					return cur, state, nil
				}
				return nil, state, errors.Wrapf(ErrNoDecryptor, "hint %q", hint)
			}
			plain, err := opts.Encryptor.Decrypt(payload)
			if err != nil {
				return nil, state, errors.Wrapf(ErrCorruptPayload, "decrypt (hint %q): %v", hint, err)
			}
			if cur, err = reparse(plain); err != nil {
				return nil, state, err
			}
			state.Encryptions = append(state.Encryptions, hint)
			opts.Metrics.RecordTransform("encryption", hint, "unwrap")
			continue
		}

		id, payload, found, err := compressedMarker.read(cur, opts.Logger)
		if err != nil {
			return nil, state, err
		}
		if !found {
			return cur, state, nil
		}
		comp, err := opts.Compressors.Create(id)
		if err != nil {
			if opts.IgnoreUnknownCompressor {
				log.Warn().Str("algorithm", id).Msg("compressed document left wrapped")
				state.Inert, state.Pending, state.PendingAlgorithm = true, CompressedSchema, id
				return cur, state, nil
			}
			return nil, state, errors.Wrapf(ErrUnknownCompressor, "%q: %v", id, err)
		}
		plain, err := comp.Decompress(payload)
		if err != nil {
			if errors.Is(err, ErrSizeMismatch) || errors.Is(err, ErrCorruptPayload) {
				return nil, state, errors.Wrapf(err, "decompress %q", id)
			}
			return nil, state, errors.Wrapf(ErrCorruptPayload, "decompress %q: %v", id, err)
		}
		if cur, err = reparse(plain); err != nil {
			return nil, state, err
		}
		state.Compressors = append(state.Compressors, id)
		opts.Metrics.RecordTransform("compression", id, "unwrap")
	}

	return nil, state, errors.Wrapf(ErrCorruptFormat, "more than %d nested transform markers", MaxWrapDepth)
}

func reparse(buf []byte) (*tree.Document, error) {
	doc, err := tree.Parse(buf)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptPayload, "inner document: %v", err)
	}
	return doc, nil
}
