package importer

import "github.com/gear6io/annolake/pkg/errors"

// Importer-specific error codes
var (
	ErrSourceNotFound    = errors.MustNewCode("importer.source_not_found")
	ErrInvalidAnnotation = errors.MustNewCode("importer.invalid_annotation")
	ErrImageDecode       = errors.MustNewCode("importer.image_decode_failed")
	ErrMediaCopy         = errors.MustNewCode("importer.media_copy_failed")
)
