package item

import "github.com/gear6io/annolake/pkg/errors"

// Item package error codes
var (
	ErrItemNotFound = errors.MustNewCode("item.not_found")
	ErrInvalidItem  = errors.MustNewCode("item.invalid")
)
