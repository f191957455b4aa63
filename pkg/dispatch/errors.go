// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package dispatch evaluates TLS server-trust challenges against the
// pinning configuration.
//
// A Dispatcher first offers the challenge to an optional external
// validator. When the external validator leaves it unhandled, the chain is
// fingerprinted, matched against the host's policy and the resulting
// verdict is mapped to exactly one Disposition. Violations are reported.
package dispatch

import "errors"

var (
	// ErrInvalidConfig indicates the dispatcher configuration is invalid or
	// missing required fields.
	ErrInvalidConfig = errors.New("dispatch: invalid configuration")

	// ErrNilChallenge indicates Dispatch was called without a challenge.
	ErrNilChallenge = errors.New("dispatch: nil challenge")

	// ErrExternallyRejected indicates an external validator cancelled the
	// challenge.
	ErrExternallyRejected = errors.New("dispatch: rejected by external validator")

	// ErrUnknownDisposition indicates a disposition name could not be parsed.
	ErrUnknownDisposition = errors.New("dispatch: unknown disposition")
)
