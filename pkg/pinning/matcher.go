// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package pinning

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/jeremyhahn/go-pinguard/pkg/spkihash"
)

// Config configures a Matcher.
type Config struct {
	// Policies is the per-host pinning configuration. Hosts must be unique.
	Policies []Policy

	// Logger for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

type entry struct {
	policy Policy
	pins   map[spkihash.Hash]struct{}
}

// Matcher holds an immutable pinning configuration. It is built once and is
// safe for concurrent use without locking.
type Matcher struct {
	exact  map[string]*entry
	suffix []*entry
}

// NewMatcher validates the policies and builds a Matcher. Every policy needs
// a host and at least one pin; duplicate hosts are rejected.
func NewMatcher(cfg *Config) (*Matcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidPolicy)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pin_matcher")

	m := &Matcher{exact: make(map[string]*entry, len(cfg.Policies))}
	for i, p := range cfg.Policies {
		host := normalizeHost(p.Host)
		if host == "" {
			return nil, fmt.Errorf("%w: policy %d has no host", ErrInvalidPolicy, i)
		}
		if len(p.Pins) == 0 {
			return nil, fmt.Errorf("%w: %s has no pins", ErrInvalidPolicy, host)
		}
		if _, ok := modeNames[p.Mode]; !ok {
			return nil, fmt.Errorf("%w: %s has unknown mode %d", ErrInvalidPolicy, host, int(p.Mode))
		}
		if _, dup := m.exact[host]; dup {
			return nil, fmt.Errorf("%w: duplicate host %s", ErrInvalidPolicy, host)
		}
		if len(p.Pins) < 2 {
			logger.Warn("policy has no backup pin", "host", host)
		}

		e := &entry{
			policy: Policy{
				Host:              host,
				Enforce:           p.Enforce,
				IncludeSubdomains: p.IncludeSubdomains,
				Pins:              slices.Clone(p.Pins),
				Mode:              p.Mode,
				ReportURIs:        slices.Clone(p.ReportURIs),
			},
			pins: make(map[spkihash.Hash]struct{}, len(p.Pins)),
		}
		for _, pin := range p.Pins {
			e.pins[pin] = struct{}{}
		}
		m.exact[host] = e
		if p.IncludeSubdomains {
			m.suffix = append(m.suffix, e)
		}
	}

	// Longest pattern wins among overlapping subdomain policies.
	sort.Slice(m.suffix, func(i, j int) bool {
		a, b := m.suffix[i].policy.Host, m.suffix[j].policy.Host
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})

	logger.Debug("pinning configuration loaded", "policies", len(m.exact), "subdomain_policies", len(m.suffix))
	return m, nil
}

// Lookup returns the policy that applies to host: an exact match first,
// otherwise the longest IncludeSubdomains policy host is a subdomain of.
func (m *Matcher) Lookup(host string) (Policy, bool) {
	e, ok := m.lookup(normalizeHost(host))
	if !ok {
		return Policy{}, false
	}
	p := e.policy
	p.Pins = slices.Clone(p.Pins)
	p.ReportURIs = slices.Clone(p.ReportURIs)
	return p, true
}

// Evaluate decides whether candidates satisfy the policy for host. An empty
// candidate set for a pinned host is Malformed.
func (m *Matcher) Evaluate(host string, candidates []spkihash.Hash) Verdict {
	e, ok := m.lookup(normalizeHost(host))
	if !ok {
		return NoPolicy
	}
	if len(candidates) == 0 {
		return Malformed
	}
	for _, c := range candidates {
		if _, ok := e.pins[c]; ok {
			return Matched
		}
	}
	if e.policy.Enforce {
		return MismatchEnforced
	}
	return MismatchReportOnly
}

// Hosts returns the configured policy hosts in sorted order.
func (m *Matcher) Hosts() []string {
	hosts := make([]string, 0, len(m.exact))
	for h := range m.exact {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

func (m *Matcher) lookup(host string) (*entry, bool) {
	if host == "" {
		return nil, false
	}
	if e, ok := m.exact[host]; ok {
		return e, true
	}
	for _, e := range m.suffix {
		if strings.HasSuffix(host, "."+e.policy.Host) {
			return e, true
		}
	}
	return nil, false
}
