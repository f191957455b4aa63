// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package spkihash

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// Hash is a SHA-256 SubjectPublicKeyInfo fingerprint.
type Hash [sha256.Size]byte

// Sum returns the SHA-256 digest of data as a Hash. It is used directly by
// the certificate and raw-key match modes, which skip SPKI framing.
func Sum(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// String returns the standard base64 encoding of the hash, the form used in
// pin configuration.
func (h Hash) String() string {
	return base64.StdEncoding.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a base64 pin. Surrounding whitespace is ignored; the
// decoded value must be exactly 32 bytes.
func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimSpace(s)
	if s == "" {
		return h, fmt.Errorf("%w: empty pin", ErrInvalidHash)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("%w: %q: %w", ErrInvalidHash, s, err)
	}
	if len(raw) != sha256.Size {
		return h, fmt.Errorf("%w: %q decodes to %d bytes, want %d", ErrInvalidHash, s, len(raw), sha256.Size)
	}
	copy(h[:], raw)
	return h, nil
}

// MustParseHash is like ParseHash but panics on error. Intended for
// package-level pin constants and tests.
func MustParseHash(s string) Hash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

// Strings returns the base64 form of each hash, preserving order.
func Strings(hashes []Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	return out
}
