package search

import "github.com/gear6io/annolake/pkg/errors"

// Search package error codes
var (
	ErrEmbeddingsNotFound = errors.MustNewCode("search.embeddings_not_found")
	ErrUnsupportedQuery   = errors.MustNewCode("search.unsupported_query")
	ErrDimensionMismatch  = errors.MustNewCode("search.dimension_mismatch")
	ErrUnknownMetric      = errors.MustNewCode("search.unknown_metric")
)
