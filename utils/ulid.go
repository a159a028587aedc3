package utils

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyLock sync.Mutex
)

// GenerateULID generates a new ULID with mutex protection
func GenerateULID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	return ulid.Make()
}

// GenerateULIDString generates a new ULID as a string
func GenerateULIDString() string {
	return GenerateULID().String()
}

// NewObjectID returns a fresh annotation identifier. Object ids are never
// derived from source data so two imports of the same file never collide.
func NewObjectID() string {
	return strings.ToLower(GenerateULIDString())
}

// NewDatasetID returns a random dataset identifier
func NewDatasetID() string {
	return uuid.NewString()
}

// ParseULID parses a ULID string
func ParseULID(s string) (ulid.ULID, error) {
	return ulid.ParseStrict(strings.ToUpper(s))
}
