// ABOUTME: DataSource binds one container file to the mapper and the transform envelope
// ABOUTME: Open unwraps the stored packet, PushChanges wraps and writes it back

package datasource

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nainya/metastream/internal/logger"
	"github.com/nainya/metastream/internal/metrics"
	"github.com/nainya/metastream/pkg/compress"
	"github.com/nainya/metastream/pkg/container"
	"github.com/nainya/metastream/pkg/envelope"
	"github.com/nainya/metastream/pkg/mapper"
	"github.com/nainya/metastream/pkg/metadata"
	"github.com/nainya/metastream/pkg/tree"
)

var (
	// ErrNotOpen is returned by operations that need an open file
	ErrNotOpen = errors.New("datasource: no file open")

	// ErrAlreadyOpen is returned by Open on a data source bound to a file
	ErrAlreadyOpen = errors.New("datasource: file already open")

	// ErrReadOnly is returned by writes on a file opened without Update
	ErrReadOnly = errors.New("datasource: file opened read-only")

	// ErrInertDocument is returned by writes on a document an ignore flag left wrapped
	ErrInertDocument = errors.New("datasource: document is still wrapped")

	// ErrInvalidSegment is shared with the record graph
	ErrInvalidSegment = metadata.ErrInvalidSegment
)

// InstanceIDPath holds a fresh uuid after every push
const InstanceIDPath = "instance-id"

// Mode is a set of open flags
type Mode uint8

const (
	// ReadOnly is the zero mode
	ReadOnly Mode = 0

	// Update allows saving; the file is created on the first push
	Update Mode = 1 << iota

	// IgnoreUnknownCompressor leaves a document wrapped when its compressor is not registered
	IgnoreUnknownCompressor

	// IgnoreUnknownEncryptor leaves a document wrapped when no encryptor is configured
	IgnoreUnknownEncryptor
)

// Has reports whether every bit of flag is set
func (m Mode) Has(flag Mode) bool { return m&flag == flag }

// Option configures a DataSource
type Option func(*DataSource)

// WithCompressor compresses documents on push with the compressor registered as id.
// An empty id disables compression.
func WithCompressor(id string) Option {
	return func(d *DataSource) { d.compressorID = id }
}

// WithEncryptor encrypts documents on push and decrypts them on open
func WithEncryptor(e envelope.Encryptor) Option {
	return func(d *DataSource) { d.encryptor = e }
}

// WithRegistry replaces the compressor registry
func WithRegistry(reg *envelope.Registry[envelope.Compressor]) Option {
	return func(d *DataSource) { d.registry = reg }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(d *DataSource) { d.baseLog = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *DataSource) { d.metrics = m }
}

// DataSource reads and writes the metadata packet of one file.
// It is not safe for concurrent use.
type DataSource struct {
	compressorID string
	encryptor    envelope.Encryptor
	registry     *envelope.Registry[envelope.Compressor]
	baseLog      *logger.Logger
	log          *logger.Logger
	metrics      *metrics.Metrics

	path  string
	mode  Mode
	file  *container.File
	doc   *tree.Document
	meta  *mapper.MetadataSource
	defs  *mapper.SchemaSource
	state envelope.State
}

// New creates a data source; the default registry holds every built-in compressor
func New(opts ...Option) *DataSource {
	d := &DataSource{}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = compress.NewRegistry()
	}
	d.log = logger.OrNop(d.baseLog).Component("datasource")
	return d
}

// SetCompressor selects the compressor used on push; an empty id disables compression
func (d *DataSource) SetCompressor(id string) error {
	if id != "" && !d.registry.Has(id) {
		return errors.Wrapf(envelope.ErrUnknownAlgorithm, "compressor %q", id)
	}
	d.compressorID = id
	return nil
}

// SetEncryptor selects the encryptor used on push and open; nil disables encryption
func (d *DataSource) SetEncryptor(e envelope.Encryptor) {
	d.encryptor = e
}

// Open reads path, undoes the stored transforms and binds the mapper to the real document
func (d *DataSource) Open(path string, mode Mode) (err error) {
	if d.file != nil {
		return errors.Wrapf(ErrAlreadyOpen, "%s", d.path)
	}
	start := time.Now()
	log := logger.OrNop(d.baseLog).DataSourceLogger(path)
	defer func() {
		d.metrics.RecordOperation("open", err, time.Since(start))
		log.LogOperation("open", time.Since(start), 0, err)
	}()

	cmode := container.ReadOnly
	if mode.Has(Update) {
		cmode = container.Update
	}
	file, err := container.Open(path, cmode, d.baseLog)
	if err != nil {
		return err
	}
	packet, err := file.Packet()
	if err != nil {
		file.Close()
		return err
	}
	d.metrics.SetPacketSize(len(packet))

	doc := tree.New()
	if len(packet) > 0 {
		if doc, err = tree.Parse(packet); err != nil {
			file.Close()
			return errors.Wrapf(mapper.ErrCorruptFormat, "packet of %s: %v", path, err)
		}
	}

	inner, state, err := envelope.Unwrap(doc, envelope.UnwrapOptions{
		Compressors:             d.registry,
		Encryptor:               d.encryptor,
		IgnoreUnknownCompressor: mode.Has(IgnoreUnknownCompressor),
		IgnoreUnknownEncryptor:  mode.Has(IgnoreUnknownEncryptor),
		Logger:                  d.baseLog,
		Metrics:                 d.metrics,
	})
	if err != nil {
		file.Close()
		return err
	}
	if err := d.bind(inner); err != nil {
		file.Close()
		return err
	}

	d.path, d.mode, d.file, d.state, d.log = path, mode, file, state, log
	if state.Inert {
		log.Warn().Str("pending", state.Pending).Str("algorithm", state.PendingAlgorithm).Msg("document opened inert")
	}
	return nil
}

// bind attaches the mapper and schema source to doc and rebuilds the id index
func (d *DataSource) bind(doc *tree.Document) error {
	meta, err := mapper.NewMetadataSource(doc, d.baseLog)
	if err != nil {
		return err
	}
	d.doc, d.meta, d.defs = doc, meta, mapper.NewSchemaSource(doc)
	return nil
}

// Close releases the file. Unpushed changes are discarded.
func (d *DataSource) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file, d.doc, d.meta, d.defs = nil, nil, nil, nil
	d.state = envelope.State{}
	d.log = logger.OrNop(d.baseLog).Component("datasource")
	return err
}

// IsOpen reports whether a file is bound
func (d *DataSource) IsOpen() bool { return d.file != nil }

// Path returns the bound file path
func (d *DataSource) Path() string { return d.path }

// State reports which transforms Open undid
func (d *DataSource) State() envelope.State { return d.state }

// Document returns the real document, or the still-wrapped one when inert
func (d *DataSource) Document() *tree.Document { return d.doc }

func (d *DataSource) checkOpen() error {
	if d.file == nil {
		return ErrNotOpen
	}
	return nil
}

// checkWritable rejects writes on read-only and inert documents
func (d *DataSource) checkWritable() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if !d.mode.Has(Update) {
		return errors.Wrapf(ErrReadOnly, "%s", d.path)
	}
	if d.state.Inert {
		return errors.Wrapf(ErrInertDocument, "%s marker %q left in place", d.state.Pending, d.state.PendingAlgorithm)
	}
	return nil
}

// serializeAndParse replaces the bound document with a reparsed copy of
// itself, dropping state a structural delete leaves behind, and rebinds
func (d *DataSource) serializeAndParse() error {
	buf, err := d.doc.Serialize()
	if err != nil {
		return err
	}
	doc, err := tree.Parse(buf)
	if err != nil {
		return errors.Wrapf(mapper.ErrCorruptFormat, "reparse: %v", err)
	}
	return d.bind(doc)
}

// PushChanges stamps a new instance id, applies the configured transforms,
// writes the packet and reopens the file from disk
func (d *DataSource) PushChanges() (err error) {
	if err := d.checkWritable(); err != nil {
		return err
	}
	start := time.Now()
	log, records := d.log, len(d.meta.Index())
	defer func() {
		d.metrics.RecordOperation("push", err, time.Since(start))
		log.LogOperation("push", time.Since(start), records, err)
	}()

	if err := d.doc.SetProperty(InstanceIDPath, uuid.NewString()); err != nil {
		return err
	}

	opts := envelope.WrapOptions{Encryptor: d.encryptor, Logger: d.baseLog, Metrics: d.metrics}
	if d.compressorID != "" {
		if opts.Compressor, err = d.registry.Create(d.compressorID); err != nil {
			return err
		}
	}
	wrapped, err := envelope.Wrap(d.doc, opts)
	if err != nil {
		return err
	}
	buf, err := wrapped.Serialize()
	if err != nil {
		return err
	}
	if err := d.file.Write(buf); err != nil {
		return err
	}
	d.metrics.SetPacketSize(len(buf))

	path, mode := d.path, d.mode
	if err := d.Close(); err != nil {
		return err
	}
	return d.Open(path, mode)
}
