package object

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// Access URL lifetimes.
const (
	ShortTTL = time.Hour
	LongTTL  = 7 * 24 * time.Hour
)

var ErrInvalidKey = errors.New("invalid storage key")

// BlobStore writes, removes and enumerates opaque blobs by key.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error)
	// Delete is idempotent: deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// URLIssuer produces a time-limited read URL for a key.
type URLIssuer interface {
	Issue(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ObjectInfo describes a stored blob.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ValidateKey rejects empty, absolute and traversing keys.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return ErrInvalidKey
		}
	}
	if path.Clean(key) != key {
		return ErrInvalidKey
	}
	return nil
}
