package paths

import "github.com/gear6io/annolake/pkg/errors"

// Path-specific error codes
var (
	ErrDirectoryCreationFailed = errors.MustNewCode("paths.directory_creation_failed")
	ErrInvalidName             = errors.MustNewCode("paths.invalid_name")
)
