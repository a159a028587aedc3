package dataset

import "github.com/gear6io/annolake/pkg/errors"

// Dataset-specific error codes
var (
	ErrDatasetNotFound = errors.MustNewCode("dataset.not_found")
	ErrMalformedInfo   = errors.MustNewCode("dataset.malformed_info")
	ErrInvalidInfo     = errors.MustNewCode("dataset.invalid_info")
	ErrWriteFailed     = errors.MustNewCode("dataset.write_failed")
	ErrDatasetExists   = errors.MustNewCode("dataset.already_exists")
)
