package mapper

// Persisted layout. Records live at
//   metadata[s]/set[p]/set[r]
// where metadata[s] is a schema {schema, set[]}, set[p] a property
// {name, set[]} and set[r] a record.
const (
	SchemasArray = "metadata"

	schemaName = "schema"
	schemaSet  = "set"

	propertyName = "name"
	propertySet  = "set"

	recordID            = "id"
	recordFrameIndex    = "index"
	recordNumFrames     = "nframes"
	recordTimestamp     = "timestamp"
	recordDuration      = "duration"
	recordFields        = "fields"
	recordReferences    = "references"
	recordEncrypted     = "is-encrypted"
	recordEncryptedData = "encrypted-data"

	fieldName          = "name"
	fieldEncrypted     = "is-encrypted"
	fieldEncryptedData = "encrypted-data"

	refName       = "name"
	refSchema     = "schema"
	refDescriptor = "descriptor"
	refID         = "id"
)

// Top-level scalar properties of a document
const (
	NextIDPath   = "next-id"
	ChecksumPath = "media-checksum"
	HintPath     = "hint-encryption"
)

// emptyValue stands in for an empty string because a leaf cannot be empty
const emptyValue = " "
