// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package report delivers pin validation failure reports to operators.
//
// Every enforced mismatch, report-only mismatch and malformed chain produces
// a Report. Reports are written to the structured log and may additionally
// be throttled and posted to report-uri collectors. Reporters never fail the
// handshake that produced the report.
package report

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-pinguard/pkg/pinning"
	"github.com/jeremyhahn/go-pinguard/pkg/spkihash"
)

// ErrInvalidConfig indicates a reporter configuration is invalid.
var ErrInvalidConfig = errors.New("report: invalid configuration")

// Report describes one pin validation failure. JSON field names follow the
// RFC 7469 section 3 report format where one exists.
type Report struct {
	Time              time.Time       `json:"date-time"`
	Host              string          `json:"hostname"`
	Port              int             `json:"port,omitempty"`
	NotedHost         string          `json:"noted-hostname"`
	IncludeSubdomains bool            `json:"include-subdomains"`
	Enforced          bool            `json:"enforced"`
	Verdict           pinning.Verdict `json:"verdict"`
	ServedChain       []string        `json:"served-certificate-chain,omitempty"`
	KnownPins         []string        `json:"known-pins"`
	ComputedPins      []string        `json:"computed-pins"`
	Error             string          `json:"error,omitempty"`

	// ReportURIs are policy-specific collector endpoints. Not serialized.
	ReportURIs []string `json:"-"`
}

// Reporter receives violation reports. Implementations must be safe for
// concurrent use and must not block for long: they run on the handshake path.
type Reporter interface {
	Report(ctx context.Context, r *Report)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(ctx context.Context, r *Report)

// Report calls f(ctx, r).
func (f ReporterFunc) Report(ctx context.Context, r *Report) {
	f(ctx, r)
}

// KnownPins formats hashes the way RFC 7469 reports list them:
// pin-sha256="<base64>".
func KnownPins(hashes []spkihash.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = fmt.Sprintf("pin-sha256=%q", h.String())
	}
	return out
}

// EncodeChain PEM-encodes each certificate of a chain.
func EncodeChain(chain []*x509.Certificate) []string {
	out := make([]string, 0, len(chain))
	for _, cert := range chain {
		if cert == nil || len(cert.Raw) == 0 {
			continue
		}
		out = append(out, string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})))
	}
	return out
}

type multi []Reporter

func (m multi) Report(ctx context.Context, r *Report) {
	for _, rep := range m {
		rep.Report(ctx, r)
	}
}

// Multi fans a report out to every non-nil reporter in order.
func Multi(reporters ...Reporter) Reporter {
	out := make(multi, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
