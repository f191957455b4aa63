// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package pinclient applies pinning decisions to crypto/tls and net/http
// connections.
//
// NewTLSConfig installs a VerifyConnection hook that routes every handshake
// through a dispatch.Dispatcher. Client wraps an http.Client and plain TLS
// dialing around that hook. A handshake cancelled by pinning fails with a
// *PinningError that wraps ErrPinningFailed, so callers can tell pinning
// failures apart from network and CA trust errors.
package pinclient

import (
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-pinguard/pkg/dispatch"
)

var (
	// ErrPinningFailed is wrapped by every handshake failure caused by a
	// Cancel disposition.
	ErrPinningFailed = errors.New("pinclient: pinning failed")

	// ErrNoServerName indicates the connection has no server name to
	// evaluate policies against or verify the certificate for.
	ErrNoServerName = errors.New("pinclient: server name is required")

	// ErrNoCertificates indicates the peer presented no certificates.
	ErrNoCertificates = errors.New("pinclient: no certificates presented")

	// ErrInvalidConfig indicates the client configuration is invalid or
	// missing required fields.
	ErrInvalidConfig = errors.New("pinclient: invalid configuration")

	// ErrRequestFailed indicates an HTTP request failed.
	ErrRequestFailed = errors.New("pinclient: request failed")

	// ErrEmptyResponse indicates the server returned an empty body.
	ErrEmptyResponse = errors.New("pinclient: empty response")
)

// PinningError is returned from a handshake cancelled by the dispatcher.
type PinningError struct {
	// Decision is the dispatcher outcome that cancelled the handshake.
	Decision *dispatch.Decision
}

// Error returns a message naming the host and the failure cause.
func (e *PinningError) Error() string {
	if e.Decision == nil {
		return ErrPinningFailed.Error()
	}
	if cause := e.Decision.Cause(); cause != nil {
		return fmt.Sprintf("%s for %s: %v", ErrPinningFailed, e.Decision.Host, cause)
	}
	return fmt.Sprintf("%s for %s", ErrPinningFailed, e.Decision.Host)
}

// Unwrap exposes ErrPinningFailed and the decision cause to errors.Is.
func (e *PinningError) Unwrap() []error {
	errs := []error{ErrPinningFailed}
	if e.Decision != nil {
		if cause := e.Decision.Cause(); cause != nil {
			errs = append(errs, cause)
		}
	}
	return errs
}

// IsPinningFailure reports whether err, or any error it wraps, was caused
// by a pinning Cancel.
func IsPinningFailure(err error) bool {
	return errors.Is(err, ErrPinningFailed)
}
