package mapper

import (
	"github.com/pkg/errors"

	"github.com/nainya/metastream/pkg/metadata"
)

var (
	// ErrCorruptFormat indicates a structurally invalid document or a missing required node
	ErrCorruptFormat = errors.New("mapper: corrupt document format")

	// ErrSchemaNotFound indicates no schema node with the requested name
	ErrSchemaNotFound = errors.New("mapper: schema not found")

	// ErrPropertyNotFound indicates no property node with the requested name
	ErrPropertyNotFound = errors.New("mapper: property not found")

	// ErrInvalidValue indicates a negative optional number that is not the undefined sentinel
	ErrInvalidValue = errors.New("mapper: invalid value")

	// Shared with the record graph so callers match one sentinel
	ErrDanglingReference = metadata.ErrDanglingReference
	ErrUnknownField      = metadata.ErrUnknownField
	ErrNullRecord        = metadata.ErrNullRecord
)
