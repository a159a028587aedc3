package stats

import "github.com/gear6io/annolake/pkg/errors"

// Stats-specific error codes
var (
	ErrMalformed   = errors.MustNewCode("stats.malformed")
	ErrReadFailed  = errors.MustNewCode("stats.read_failed")
	ErrWriteFailed = errors.MustNewCode("stats.write_failed")
)

var ErrUnsupportedColumn = errors.MustNewCode("stats.unsupported_column")
