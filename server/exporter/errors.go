package exporter

import "github.com/gear6io/annolake/pkg/errors"

// Exporter-specific error codes
var (
	ErrMediaUnavailable = errors.MustNewCode("exporter.media_unavailable")
	ErrWriteFailed      = errors.MustNewCode("exporter.write_failed")
)
