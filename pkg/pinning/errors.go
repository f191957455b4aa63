// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package pinning holds per-host public key pinning policies and decides
// whether a set of candidate fingerprints satisfies them.
//
// Policies are opt-in per host. A host without a policy gets NoPolicy and is
// left entirely to baseline certificate validation. A host with a policy
// matches when any candidate fingerprint from the chain equals any pinned
// fingerprint, which allows a primary and a backup pin to coexist during key
// rotation.
package pinning

import "errors"

var (
	// ErrInvalidPolicy is returned when a pinning configuration is rejected
	// at construction time.
	ErrInvalidPolicy = errors.New("pinning: invalid policy")

	// ErrPinMismatch indicates an enforced policy matched no fingerprint in
	// the presented chain.
	ErrPinMismatch = errors.New("pinning: pin mismatch")

	// ErrPinMismatchReported indicates a report-only policy matched no
	// fingerprint. The connection is allowed.
	ErrPinMismatchReported = errors.New("pinning: pin mismatch (report only)")

	// ErrMalformedChain indicates candidate fingerprints could not be
	// computed for a pinned host.
	ErrMalformedChain = errors.New("pinning: malformed certificate chain")
)
