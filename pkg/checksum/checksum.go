// Package checksum computes the SHA-256 digests that every storage backend
// records alongside an uploaded object. Data-room documents and receipts are
// served by signed URL long after upload, so the digest kept in the object
// metadata is what an operator compares against when a file is disputed.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// MetadataKey is the object metadata key the hex digest is stored under.
const MetadataKey = "sha256"

// Sum returns the hex-encoded SHA-256 of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Writer hashes everything written to it, for use with io.MultiWriter when
// an upload is streamed rather than buffered.
type Writer struct {
	h hash.Hash
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{h: sha256.New()}
}

// Write implements io.Writer. It never returns an error.
func (w *Writer) Write(p []byte) (int, error) {
	return w.h.Write(p)
}

// Hex returns the hex-encoded digest of the bytes written so far.
func (w *Writer) Hex() string {
	return hex.EncodeToString(w.h.Sum(nil))
}
