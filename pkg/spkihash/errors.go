// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package spkihash derives canonical SHA-256 fingerprints from certificate
// public keys. A fingerprint is the SHA-256 digest of the DER-encoded
// SubjectPublicKeyInfo, rebuilt from a fixed per-algorithm ASN.1 header and
// the raw key bytes, and is exchanged as a base64 string. This is the same
// value produced by `openssl x509 -pubkey | openssl pkey -pubin -outform der
// | openssl dgst -sha256 -binary | base64` and used by HPKP-style pin lists.
package spkihash

import "errors"

var (
	// ErrUnsupportedAlgorithm is returned when no SubjectPublicKeyInfo header
	// is registered for a key's algorithm. Callers must fail closed.
	ErrUnsupportedAlgorithm = errors.New("spkihash: unsupported key algorithm")

	// ErrExtractionFailed is returned when the public key cannot be read from
	// a certificate.
	ErrExtractionFailed = errors.New("spkihash: public key extraction failed")

	// ErrInvalidHash is returned when a pin string is not base64 or does not
	// decode to a SHA-256 digest.
	ErrInvalidHash = errors.New("spkihash: invalid hash")
)
