package schema

import "github.com/gear6io/annolake/pkg/errors"

// Schema package error codes
var (
	SchemaNotFound   = errors.MustNewCode("schema.not_found")
	UnknownTable     = errors.MustNewCode("schema.unknown_table")
	UnknownGroup     = errors.MustNewCode("schema.unknown_group")
	InvalidFieldType = errors.MustNewCode("schema.invalid_field_type")
	InvalidTable     = errors.MustNewCode("schema.invalid_table")
	DuplicateTable   = errors.MustNewCode("schema.duplicate_table")
)
