// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package dane validates TLS server chains against DNSSEC-authenticated
// TLSA records (RFC 6698, RFC 7671).
//
// Validator plugs into a dispatch.Dispatcher as an external validator: a
// host that publishes usable TLSA records is decided by DANE; a host that
// publishes none is left to the local pin matcher.
package dane

import "errors"

var (
	// ErrNoTLSARecords indicates no TLSA records were found for the queried name.
	ErrNoTLSARecords = errors.New("dane: no TLSA records found")

	// ErrDNSLookupFailed indicates the DNS query for TLSA records failed.
	ErrDNSLookupFailed = errors.New("dane: DNS lookup failed")

	// ErrDNSSECRequired indicates the response was not DNSSEC-authenticated
	// (AD flag not set) while authentication is required.
	ErrDNSSECRequired = errors.New("dane: DNSSEC validation required but AD flag not set")

	// ErrNoMatch indicates no certificate in the chain satisfied any TLSA record.
	ErrNoMatch = errors.New("dane: no TLSA record matches the chain")

	// ErrUnsupportedSelector indicates the TLSA selector is not supported.
	ErrUnsupportedSelector = errors.New("dane: unsupported TLSA selector")

	// ErrUnsupportedMatching indicates the TLSA matching type is not supported.
	ErrUnsupportedMatching = errors.New("dane: unsupported TLSA matching type")

	// ErrInvalidCertificate indicates a nil certificate was provided.
	ErrInvalidCertificate = errors.New("dane: invalid certificate")

	// ErrInvalidHostname indicates an empty or malformed hostname.
	ErrInvalidHostname = errors.New("dane: invalid hostname")

	// ErrInvalidPort indicates port zero.
	ErrInvalidPort = errors.New("dane: invalid port")

	// ErrInvalidConfig indicates the resolver or validator configuration is
	// invalid.
	ErrInvalidConfig = errors.New("dane: invalid configuration")
)
