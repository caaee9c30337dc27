// Package storage uploads captured artifacts to an object store and resolves their
// public retrieval URLs. Uploads never overwrite an existing object.
package storage

import (
	"errors"
	"net/url"
	"strings"
)

// ErrObjectExists is returned when the key is already taken in the bucket.
var ErrObjectExists = errors.New("storage: object already exists")

// UploadOptions are per-object settings.
type UploadOptions struct {
	ContentType string
	// CacheControl is the max-age in seconds, e.g. "3600".
	CacheControl string
}

func (o UploadOptions) cacheHeader() string {
	if o.CacheControl == "" {
		return ""
	}
	if strings.Contains(o.CacheControl, "=") {
		return o.CacheControl
	}
	return "max-age=" + o.CacheControl
}

// escapeKey percent-encodes each path segment of key.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
