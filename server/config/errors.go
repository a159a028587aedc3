package config

import "github.com/gear6io/annolake/pkg/errors"

// Config-specific error codes
var (
	ErrConfigFileReadFailed    = errors.MustNewCode("config.file_read_failed")
	ErrConfigFileParseFailed   = errors.MustNewCode("config.file_parse_failed")
	ErrConfigValidationFailed  = errors.MustNewCode("config.validation_failed")
	ErrConfigFileMarshalFailed = errors.MustNewCode("config.file_marshal_failed")
	ErrConfigFileWriteFailed   = errors.MustNewCode("config.file_write_failed")
	ErrLibraryPathRequired     = errors.MustNewCode("config.library_path_required")
	ErrUnknownCompression      = errors.MustNewCode("config.unknown_compression")
	ErrUnknownMetric           = errors.MustNewCode("config.unknown_metric")
	ErrInvalidThumbnailSize    = errors.MustNewCode("config.invalid_thumbnail_size")

	// Logging-specific error codes
	ErrLogDirectoryCreationFailed = errors.MustNewCode("config.log_directory_creation_failed")
	ErrLogFileOpenFailed          = errors.MustNewCode("config.log_file_open_failed")
	ErrLogFileStatFailed          = errors.MustNewCode("config.log_file_stat_failed")
	ErrLogRotationFailed          = errors.MustNewCode("config.log_rotation_failed")
)
