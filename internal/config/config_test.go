// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pinguard/pkg/pinning"
	"github.com/jeremyhahn/go-pinguard/pkg/spkihash"
)

const (
	primaryPin = "axmGTWYycVN5oCjh3GJrxWVndLSZjypDO6evrHMwbXg="
	backupPin  = "BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB="
)

const sample = `
policies:
  - host: api.openweathermap.org
    include_subdomains: true
    pins:
      - ` + primaryPin + `
      - ` + backupPin + `
  - host: Legacy.Example.com
    enforce: false
    mode: certificate
    pins: [` + primaryPin + `]
    report_uris: [https://legacy.example.com/hpkp]
reporting:
  report_uris: [https://collector.example.com/v1/reports]
  throttle: 1h
dane:
  server: 9.9.9.9
  fail_closed: true
  timeout: 3s
rego:
  paths: [policy/]
  query: data.custom.decision
  data:
    pins: [` + primaryPin + `]
`

func TestParse_Sample(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	policies, err := f.PinPolicies()
	require.NoError(t, err)
	require.Len(t, policies, 2)

	weather := policies[0]
	assert.Equal(t, "api.openweathermap.org", weather.Host)
	assert.True(t, weather.Enforce, "enforce defaults to true")
	assert.True(t, weather.IncludeSubdomains)
	assert.Equal(t, pinning.ModeSPKI, weather.Mode)
	assert.Equal(t, []spkihash.Hash{spkihash.MustParseHash(primaryPin), spkihash.MustParseHash(backupPin)}, weather.Pins)

	legacy := policies[1]
	assert.False(t, legacy.Enforce)
	assert.Equal(t, pinning.ModeCertificate, legacy.Mode)
	assert.Equal(t, []string{"https://legacy.example.com/hpkp"}, legacy.ReportURIs)

	interval, err := f.Reporting.ThrottleInterval()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, interval)
	assert.Equal(t, []string{"https://collector.example.com/v1/reports"}, f.Reporting.ReportURIs)

	require.NotNil(t, f.DANE)
	assert.True(t, f.DANE.IsEnabled())
	assert.True(t, f.DANE.FailClosed)
	timeout, err := f.DANE.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, timeout)

	require.NotNil(t, f.Rego)
	assert.Equal(t, "data.custom.decision", f.Rego.Query)
	assert.Equal(t, []any{primaryPin}, f.Rego.Data["pins"])

	// The converted policies are accepted by the matcher.
	_, err = pinning.NewMatcher(&pinning.Config{Policies: policies})
	assert.NoError(t, err)
}

func TestParse_JSON(t *testing.T) {
	f, err := Parse([]byte(`{"policies":[{"host":"a.test","pins":["` + primaryPin + `"]}]}`))
	require.NoError(t, err)
	assert.Len(t, f.Policies, 1)
	assert.Nil(t, f.DANE)
	assert.False(t, f.DANE.IsEnabled())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"syntax", "policies: [\n"},
		{"unknown field", "policies: []\nunknown: true\n"},
		{"missing host", "policies:\n  - pins: [" + primaryPin + "]\n"},
		{"missing pins", "policies:\n  - host: a.test\n"},
		{"bad pin", "policies:\n  - host: a.test\n    pins: [not-a-pin]\n"},
		{"short pin", "policies:\n  - host: a.test\n    pins: [AAAA]\n"},
		{"bad mode", "policies:\n  - host: a.test\n    mode: fuzzy\n    pins: [" + primaryPin + "]\n"},
		{"bad throttle", "reporting:\n  throttle: soon\n"},
		{"negative throttle", "reporting:\n  throttle: -1h\n"},
		{"bad dane timeout", "dane:\n  timeout: forever\n"},
		{"empty rego", "rego:\n  query: data.x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestParse_BadPinKeepsHashError(t *testing.T) {
	_, err := Parse([]byte("policies:\n  - host: a.test\n    pins: [AAAA]\n"))
	assert.ErrorIs(t, err, spkihash.ErrInvalidHash)

	_, err = Parse([]byte("policies:\n  - host: a.test\n    mode: fuzzy\n    pins: [" + primaryPin + "]\n"))
	assert.ErrorIs(t, err, pinning.ErrInvalidPolicy)
}

func TestThrottleInterval(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"0", -1},
		{"0s", -1},
		{"90m", 90 * time.Minute},
	}
	for _, tt := range tests {
		got, err := Reporting{Throttle: tt.in}.ThrottleInterval()
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestDANE_IsEnabled(t *testing.T) {
	off := false
	assert.False(t, (&DANE{Enabled: &off}).IsEnabled())
	assert.True(t, (&DANE{}).IsEnabled())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pinguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Policies, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrReadFailed)
}

func TestCollectorFromEnv(t *testing.T) {
	c := CollectorFromEnv()
	assert.Equal(t, DefaultListenAddr, c.ListenAddr)
	assert.Equal(t, DefaultRedisKey, c.RedisKey)
	assert.Equal(t, DefaultMaxReports, c.MaxReports)
	assert.Equal(t, int64(DefaultMaxBodyBytes), c.MaxBodyBytes)
	assert.Equal(t, DefaultShutdownTimeout, c.ShutdownTimeout)
	assert.True(t, c.LogReports)

	t.Setenv("PINGUARD_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("PINGUARD_REDIS_ADDR", "redis:6379")
	t.Setenv("PINGUARD_REDIS_DB", "3")
	t.Setenv("PINGUARD_MAX_REPORTS", "not-a-number")
	t.Setenv("PINGUARD_SHUTDOWN_TIMEOUT", "2s")
	t.Setenv("PINGUARD_LOG_REPORTS", "no")

	c = CollectorFromEnv()
	assert.Equal(t, "127.0.0.1:9000", c.ListenAddr)
	assert.Equal(t, "redis:6379", c.RedisAddr)
	assert.Equal(t, 3, c.RedisDB)
	assert.Equal(t, DefaultMaxReports, c.MaxReports)
	assert.Equal(t, 2*time.Second, c.ShutdownTimeout)
	assert.False(t, c.LogReports)
}

func TestEnvBoolDefault(t *testing.T) {
	t.Setenv("PINGUARD_TEST_BOOL", "YES")
	assert.True(t, envBoolDefault("PINGUARD_TEST_BOOL", false))
	t.Setenv("PINGUARD_TEST_BOOL", "0")
	assert.False(t, envBoolDefault("PINGUARD_TEST_BOOL", true))
	t.Setenv("PINGUARD_TEST_BOOL", "maybe")
	assert.True(t, envBoolDefault("PINGUARD_TEST_BOOL", true))
}
