// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_PinnedLeafAccepted(t *testing.T) {
	pki := newTestPKI(t)
	addr := startTLSServer(t, pki)

	// No --ca-file: the pin alone authorizes the connection.
	result, err := runCheckArgs(t, addr, "--pin", pki.leafPin(), "--pin", foreignPin)
	require.NoError(t, err)

	assert.True(t, result.Accepted)
	assert.Equal(t, "127.0.0.1", result.Host)
	assert.Equal(t, "matched", result.Verdict)
	assert.Equal(t, "use-custom-credential", result.Disposition)
	assert.Equal(t, "127.0.0.1", result.Policy)
	assert.True(t, result.Enforced)
	assert.False(t, result.External)
	assert.Equal(t, []string{"received", "locally-evaluated", "decided"}, result.States)

	require.Len(t, result.Chain, 2)
	assert.Equal(t, pki.leafPin(), result.Chain[0].Pin)
	assert.True(t, result.Chain[0].Pinned)
	assert.Equal(t, pki.caPin(), result.Chain[1].Pin)
	assert.False(t, result.Chain[1].Pinned)
	assert.Contains(t, result.Chain[1].Subject, "Test CA")
}

func TestCheck_EnforcedMismatchRejected(t *testing.T) {
	pki := newTestPKI(t)
	addr := startTLSServer(t, pki)

	// A trusted CA does not rescue an enforced mismatch.
	result, err := runCheckArgs(t, addr, "--pin", foreignPin, "--ca-file", pki.caFile)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCheckFailed)
	assert.Equal(t, ExitPinningFailed, exitCode(err))

	assert.False(t, result.Accepted)
	assert.Equal(t, "mismatch-enforced", result.Verdict)
	assert.Equal(t, "cancel", result.Disposition)
	assert.NotEmpty(t, result.Error)
	for _, c := range result.Chain {
		assert.False(t, c.Pinned)
	}
}

func TestCheck_ReportOnly(t *testing.T) {
	pki := newTestPKI(t)
	addr := startTLSServer(t, pki)

	t.Run("trusted CA", func(t *testing.T) {
		result, err := runCheckArgs(t, addr, "--pin", foreignPin, "--report-only", "--ca-file", pki.caFile)
		require.NoError(t, err)
		assert.True(t, result.Accepted)
		assert.Equal(t, "mismatch-report-only", result.Verdict)
		assert.Equal(t, "use-default-trust", result.Disposition)
		assert.False(t, result.Enforced)
	})

	t.Run("untrusted CA", func(t *testing.T) {
		result, err := runCheckArgs(t, addr, "--pin", foreignPin, "--report-only")
		require.Error(t, err)
		assert.Equal(t, ExitCheckFailed, exitCode(err))
		assert.False(t, result.Accepted)
		assert.Equal(t, "use-default-trust", result.Disposition)
	})
}

func TestCheck_NoPolicy(t *testing.T) {
	pki := newTestPKI(t)
	addr := startTLSServer(t, pki)

	result, err := runCheckArgs(t, addr, "--ca-file", pki.caFile)
	require.NoError(t, err)

	assert.True(t, result.Accepted)
	assert.Equal(t, "no-policy", result.Verdict)
	assert.Equal(t, "use-default-trust", result.Disposition)
	assert.Empty(t, result.Policy)
	require.Len(t, result.Chain, 2)
	assert.Equal(t, pki.leafPin(), result.Chain[0].Pin)
	assert.False(t, result.Chain[0].Pinned)
}

func TestCheck_ConfigFilePolicy(t *testing.T) {
	pki := newTestPKI(t)
	addr := startTLSServer(t, pki)

	cfg := filepath.Join(t.TempDir(), "pins.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
policies:
  - host: 127.0.0.1
    pins:
      - `+foreignPin+`
      - `+pki.caPin()+`
reporting:
  throttle: "0"
`), 0600))

	result, err := runCheckArgs(t, "https://"+addr+"/path", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, "matched", result.Verdict)
	require.Len(t, result.Chain, 2)
	assert.False(t, result.Chain[0].Pinned)
	assert.True(t, result.Chain[1].Pinned)
}

func TestCheck_RegoValidatorRejects(t *testing.T) {
	pki := newTestPKI(t)
	addr := startTLSServer(t, pki)

	cfg := filepath.Join(t.TempDir(), "pins.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
policies:
  - host: 127.0.0.1
    pins: [`+pki.leafPin()+`]
rego:
  module: |
    package pinguard

    import rego.v1

    decision := "reject" if input.host == "127.0.0.1"
`), 0600))

	// The policy would match, but the external validator decides first.
	result, err := runCheckArgs(t, addr, "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitPinningFailed, exitCode(err))
	assert.True(t, result.External)
	assert.Equal(t, []string{"rego"}, result.Validators)
	assert.Equal(t, "cancel", result.Disposition)
	assert.Contains(t, result.States, "externally-handled")
}

func TestCheck_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	result, err := runCheckArgs(t, addr, "--pin", foreignPin, "--timeout", "2s")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCheckFailed)
	assert.Equal(t, ExitCheckFailed, exitCode(err))
	assert.False(t, result.Accepted)
	assert.Empty(t, result.Disposition)
	assert.Empty(t, result.Chain)
}

func TestCheck_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		args    []string
		wantErr error
	}{
		{"bad pin", "127.0.0.1:443", []string{"--pin", "not-base64"}, ErrInvalidInput},
		{"bad mode", "127.0.0.1:443", []string{"--pin", foreignPin, "--mode", "fingerprint"}, ErrInvalidInput},
		{"http scheme", "http://example.com", nil, ErrInvalidInput},
		{"missing config", "127.0.0.1:443", []string{"--config", "/nonexistent/pins.yaml"}, ErrConfig},
		{"missing ca file", "127.0.0.1:443", []string{"--ca-file", "/nonexistent/ca.pem"}, ErrFileOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCheckArgs(t, tt.target, tt.args...)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		target   string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"example.com", "example.com", 443, false},
		{"example.com:8443", "example.com", 8443, false},
		{"https://example.com", "example.com", 443, false},
		{"https://example.com:9443/status", "example.com", 9443, false},
		{"[::1]:8443", "::1", 8443, false},
		{"  api.example.com  ", "api.example.com", 443, false},
		{"", "", 0, true},
		{"http://example.com", "", 0, true},
		{"example.com:0", "", 0, true},
		{"example.com:70000", "", 0, true},
		{"example.com:https", "", 0, true},
		{":443", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			host, port, err := parseTarget(tt.target)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}

func TestCheckResult_Table(t *testing.T) {
	r := checkResult{
		Host:        "example.com",
		Port:        443,
		Accepted:    false,
		Disposition: "cancel",
		Verdict:     "mismatch-enforced",
		Chain:       []chainCert{{Index: 0, Subject: "CN=example.com", Pin: foreignPin, Pinned: true}},
	}
	data, err := encodeResult(formatTable, r)
	require.NoError(t, err)

	// Footers are upper-cased by the table style.
	out := strings.ToLower(string(data))
	assert.Contains(t, out, "cn=example.com")
	assert.Contains(t, out, net.JoinHostPort("example.com", strconv.Itoa(443)))
	assert.Contains(t, out, "mismatch-enforced / cancel")
	assert.Contains(t, out, "rejected")
}

func TestCheckCmd_Flags(t *testing.T) {
	for _, name := range []string{"config", "pin", "mode", "report-only", "include-subdomains", "ca-file", "timeout"} {
		assert.NotNil(t, checkCmd.Flags().Lookup(name), name)
	}
}
