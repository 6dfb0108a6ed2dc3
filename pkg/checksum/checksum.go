// Package checksum provides SHA-256 utilities for package tarballs. The
// HashingReader computes the digest of an upload while it streams to the blob
// store, so a tarball is never buffered in memory just to be hashed, and it
// enforces the registry's maximum upload size on the same pass.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"
)

// ErrPayloadTooLarge is returned by HashingReader once the stream exceeds its limit.
var ErrPayloadTooLarge = errors.New("payload exceeds maximum permitted size")

// HashingReader forwards reads from an underlying source, feeding every byte
// into a running SHA-256 digest and failing as soon as the cumulative length
// would exceed max.
type HashingReader struct {
	src    io.Reader
	max    int64
	n      int64
	hasher hash.Hash
	err    error
}

// NewHashingReader wraps r. A max of zero or less disables the size limit.
func NewHashingReader(r io.Reader, max int64) *HashingReader {
	return &HashingReader{
		src:    r,
		max:    max,
		hasher: sha256.New(),
	}
}

// Read implements io.Reader. Bytes that would push the total past the limit
// are never returned to the caller nor added to the digest.
func (h *HashingReader) Read(p []byte) (int, error) {
	if h.err != nil {
		return 0, h.err
	}

	if h.max > 0 {
		// Read at most one byte past the limit so overflow is detected
		// without pulling an arbitrary amount from the source.
		if remaining := h.max - h.n + 1; int64(len(p)) > remaining {
			p = p[:remaining]
		}
	}

	n, err := h.src.Read(p)
	if h.max > 0 && h.n+int64(n) > h.max {
		h.err = ErrPayloadTooLarge
		return 0, h.err
	}

	h.n += int64(n)
	h.hasher.Write(p[:n])
	return n, err
}

// BytesRead returns the number of bytes forwarded so far.
func (h *HashingReader) BytesRead() int64 {
	return h.n
}

// Sum returns the raw digest of everything read so far.
func (h *HashingReader) Sum() []byte {
	return h.hasher.Sum(nil)
}

// HexSum returns Sum hex-encoded.
func (h *HashingReader) HexSum() string {
	return hex.EncodeToString(h.Sum())
}
