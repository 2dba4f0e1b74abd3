// Package storage defines the Storage interface shared by the object stores
// that hold data-room documents and donation receipts.
//
// Backends register themselves with the factory from an init() function in
// their own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return New(cfg)
//	    })
//	}
//
// cmd/server blank-imports every backend so the configured one can be picked
// by name at startup.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned (wrapped) by Download when the object does not exist.
var ErrNotFound = errors.New("object not found")

// ErrInvalidKey is returned by ValidateKey.
var ErrInvalidKey = errors.New("invalid object key")

// Storage is implemented by every backend.
type Storage interface {
	// Name identifies the backend ("local", "gcs", "s3", "azure").
	Name() string

	// Upload stores an object and returns its path, size and checksum.
	Upload(ctx context.Context, key string, reader io.Reader, size int64) (*UploadResult, error)

	// Download opens an object for reading. Missing objects yield an error
	// wrapping ErrNotFound.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// SignedURL returns a time-limited GET URL for the object.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Exists reports whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// UploadResult describes a stored object
type UploadResult struct {
	Path string
	Size int64
	// Checksum is the hex SHA256 of the contents.
	Checksum string
}

// ValidateKey rejects keys that could escape a backend's root: empty keys,
// absolute keys, and keys containing "." or ".." segments.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Errors returned by URLVerifier.
var (
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrSignatureExpired = errors.New("signature expired")
)

// URLVerifier is implemented by backends whose signed URLs point back at the
// portal itself (the local backend) rather than at a cloud provider.
type URLVerifier interface {
	VerifySignedURL(key, expires, signature string) error
}
