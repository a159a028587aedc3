package storage

import "github.com/gear6io/annolake/pkg/errors"

// Storage-specific error codes
var (
	ErrStorageCorruption = errors.MustNewCode("storage.corruption")
	ErrWriteFailed       = errors.MustNewCode("storage.write_failed")
	ErrTypeMismatch      = errors.MustNewCode("storage.type_mismatch")
	ErrInvalidRow        = errors.MustNewCode("storage.invalid_row")
	ErrSplitUnknown      = errors.MustNewCode("storage.split_unknown")
	ErrDirectoryFailed   = errors.MustNewCode("storage.directory_failed")
	ErrUnsupportedCodec  = errors.MustNewCode("storage.unsupported_compression")
)
