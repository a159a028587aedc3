package types

import (
	"net/url"
	"path/filepath"
	"strings"
)

// Image references a media payload. URI is either relative to the dataset
// media directory or an absolute file:// URI; Preview is an inline PNG
// thumbnail computed at import time.
type Image struct {
	URI     string `json:"uri"`
	Preview []byte `json:"preview,omitempty"`
}

// LocalPath resolves the URI to a file path. Remote URIs have none.
func (i Image) LocalPath(mediaDir string) (string, bool) {
	if i.URI == "" {
		return "", false
	}
	if strings.HasPrefix(i.URI, "file://") {
		u, err := url.Parse(i.URI)
		if err != nil {
			return "", false
		}
		return filepath.FromSlash(u.Path), true
	}
	if strings.Contains(i.URI, "://") {
		return "", false
	}
	return filepath.Join(mediaDir, filepath.FromSlash(i.URI)), true
}

// Category is one entry of a format's static label table
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
