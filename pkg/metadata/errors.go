package metadata

import "github.com/pkg/errors"

var (
	// ErrNullRecord indicates a nil record was passed where one is required
	ErrNullRecord = errors.New("metadata: null record")

	// ErrDuplicateID indicates a record id already present in the stream
	ErrDuplicateID = errors.New("metadata: duplicate id")

	// ErrAlreadyAdded indicates a record that already belongs to a stream
	ErrAlreadyAdded = errors.New("metadata: record already belongs to a stream")

	// ErrSchemaExists indicates a schema name already registered in the stream
	ErrSchemaExists = errors.New("metadata: schema already exists")

	// ErrUnknownSchema indicates a schema that is not registered in the stream
	ErrUnknownSchema = errors.New("metadata: unknown schema")

	// ErrUnknownField indicates a field name not declared by the descriptor
	ErrUnknownField = errors.New("metadata: unknown field")

	// ErrDanglingReference indicates a reference whose target is not in the stream
	ErrDanglingReference = errors.New("metadata: dangling reference")

	// ErrValidation indicates a record that does not conform to its descriptor
	ErrValidation = errors.New("metadata: validation failed")

	// ErrBadFilter indicates a filter expression that failed to compile or run
	ErrBadFilter = errors.New("metadata: bad filter expression")

	// ErrInvalidSegment indicates a video segment with missing or invalid values
	ErrInvalidSegment = errors.New("metadata: invalid video segment")
)
