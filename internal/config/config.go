// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package config loads pinguard's YAML pin configuration.
//
//	policies:
//	  - host: api.openweathermap.org
//	    include_subdomains: true
//	    pins:
//	      - axmGTWYycVN5oCjh3GJrxWVndLSZjypDO6evrHMwbXg=
//	      - BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB=
//	reporting:
//	  report_uris: [https://collector.example.com/v1/reports]
//	  throttle: 24h
//	dane:
//	  server: 9.9.9.9
//	rego:
//	  paths: [policy/]
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/jeremyhahn/go-pinguard/pkg/pinning"
	"github.com/jeremyhahn/go-pinguard/pkg/spkihash"
)

var (
	// ErrInvalidConfig indicates the configuration file is malformed or
	// fails validation.
	ErrInvalidConfig = errors.New("config: invalid configuration")

	// ErrReadFailed indicates the configuration file could not be read.
	ErrReadFailed = errors.New("config: read failed")
)

// File is the on-disk configuration.
type File struct {
	Policies  []PolicyEntry `json:"policies"`
	Reporting Reporting     `json:"reporting,omitempty"`
	DANE      *DANE         `json:"dane,omitempty"`
	Rego      *Rego         `json:"rego,omitempty"`
}

// PolicyEntry is one host's pin policy.
type PolicyEntry struct {
	Host string `json:"host"`

	// Enforce defaults to true when omitted.
	Enforce           *bool    `json:"enforce,omitempty"`
	IncludeSubdomains bool     `json:"include_subdomains,omitempty"`
	Mode              string   `json:"mode,omitempty"`
	Pins              []string `json:"pins"`
	ReportURIs        []string `json:"report_uris,omitempty"`
}

// Reporting configures violation report delivery.
type Reporting struct {
	ReportURIs []string `json:"report_uris,omitempty"`

	// Throttle limits report-uri delivery of identical reports and is a Go
	// duration string. Empty uses the reporter default; "0" disables
	// throttling. Violations are always logged.
	Throttle string `json:"throttle,omitempty"`
}

// DANE configures the TLSA validator.
type DANE struct {
	Enabled              *bool  `json:"enabled,omitempty"`
	Server               string `json:"server,omitempty"`
	UseTLS               bool   `json:"use_tls,omitempty"`
	TLSServerName        string `json:"tls_server_name,omitempty"`
	AllowUnauthenticated bool   `json:"allow_unauthenticated,omitempty"`
	FailClosed           bool   `json:"fail_closed,omitempty"`
	Timeout              string `json:"timeout,omitempty"`
}

// Rego configures the policy-as-code validator.
type Rego struct {
	Module     string         `json:"module,omitempty"`
	Paths      []string       `json:"paths,omitempty"`
	Query      string         `json:"query,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	FailClosed bool           `json:"fail_closed,omitempty"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML (or JSON) configuration. Unknown fields
// are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every field that is converted later, so that conversion
// cannot fail on a validated File.
func (f *File) Validate() error {
	if _, err := f.PinPolicies(); err != nil {
		return err
	}
	if _, err := f.Reporting.ThrottleInterval(); err != nil {
		return err
	}
	if f.DANE != nil {
		if _, err := f.DANE.TimeoutDuration(); err != nil {
			return err
		}
	}
	if f.Rego != nil && f.Rego.Module == "" && len(f.Rego.Paths) == 0 {
		return fmt.Errorf("%w: rego requires module or paths", ErrInvalidConfig)
	}
	return nil
}

// PinPolicies converts the policy entries into matcher policies.
func (f *File) PinPolicies() ([]pinning.Policy, error) {
	policies := make([]pinning.Policy, 0, len(f.Policies))
	for i, e := range f.Policies {
		p, err := e.Policy()
		if err != nil {
			return nil, fmt.Errorf("%w: policies[%d]: %w", ErrInvalidConfig, i, err)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// Policy converts the entry into a matcher policy.
func (e PolicyEntry) Policy() (pinning.Policy, error) {
	host := strings.TrimSpace(e.Host)
	if host == "" {
		return pinning.Policy{}, errors.New("host is required")
	}
	mode, err := pinning.ParseMode(e.Mode)
	if err != nil {
		return pinning.Policy{}, err
	}
	if len(e.Pins) == 0 {
		return pinning.Policy{}, fmt.Errorf("%s: at least one pin is required", host)
	}
	pins := make([]spkihash.Hash, 0, len(e.Pins))
	for _, s := range e.Pins {
		h, err := spkihash.ParseHash(s)
		if err != nil {
			return pinning.Policy{}, fmt.Errorf("%s: %w", host, err)
		}
		pins = append(pins, h)
	}
	enforce := true
	if e.Enforce != nil {
		enforce = *e.Enforce
	}
	return pinning.Policy{
		Host:              host,
		Enforce:           enforce,
		IncludeSubdomains: e.IncludeSubdomains,
		Pins:              pins,
		Mode:              mode,
		ReportURIs:        e.ReportURIs,
	}, nil
}

// ThrottleInterval parses Throttle. Zero selects the reporter default and a
// negative result disables throttling.
func (r Reporting) ThrottleInterval() (time.Duration, error) {
	if r.Throttle == "" {
		return 0, nil
	}
	if r.Throttle == "0" {
		return -1, nil
	}
	d, err := time.ParseDuration(r.Throttle)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: reporting.throttle %q", ErrInvalidConfig, r.Throttle)
	}
	if d == 0 {
		return -1, nil
	}
	return d, nil
}

// IsEnabled reports whether the DANE validator should run. A present
// section without an explicit enabled flag is enabled.
func (d *DANE) IsEnabled() bool {
	if d == nil {
		return false
	}
	return d.Enabled == nil || *d.Enabled
}

// TimeoutDuration parses Timeout. Zero means the resolver default.
func (d *DANE) TimeoutDuration() (time.Duration, error) {
	if d == nil || d.Timeout == "" {
		return 0, nil
	}
	t, err := time.ParseDuration(d.Timeout)
	if err != nil || t < 0 {
		return 0, fmt.Errorf("%w: dane.timeout %q", ErrInvalidConfig, d.Timeout)
	}
	return t, nil
}
