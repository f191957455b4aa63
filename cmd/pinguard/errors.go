// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"errors"

	"github.com/jeremyhahn/go-pinguard/pkg/pinclient"
)

// Exit codes for the CLI.
const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess = 0

	// ExitCheckFailed indicates a connection or collector failure.
	ExitCheckFailed = 1

	// ExitConfigError indicates a configuration or input validation error.
	ExitConfigError = 2

	// ExitPinningFailed indicates the server's chain was rejected by the
	// pin policy.
	ExitPinningFailed = 3
)

// Sentinel errors for CLI operations.
var (
	// ErrInvalidInput is returned when required input parameters are missing or invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfig is returned when the pin configuration cannot be loaded or applied.
	ErrConfig = errors.New("configuration error")

	// ErrCheckFailed is returned when a check connection fails for reasons
	// other than pinning.
	ErrCheckFailed = errors.New("check failed")

	// ErrCollectorFailed is returned when the report collector cannot start
	// or stops with an error.
	ErrCollectorFailed = errors.New("collector failed")

	// ErrFileOperation is returned when a file read or write operation fails.
	ErrFileOperation = errors.New("file operation failed")
)

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case pinclient.IsPinningFailure(err):
		return ExitPinningFailed
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrConfig):
		return ExitConfigError
	default:
		return ExitCheckFailed
	}
}
