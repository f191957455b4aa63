// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package dane

import (
	"context"
	"crypto/x509"
	"errors"
	"log/slog"

	"github.com/jeremyhahn/go-pinguard/pkg/dispatch"
)

// DefaultPort is used for challenges that carry no port.
const DefaultPort = 443

// TLSALookup resolves TLSA records. *Resolver implements it.
type TLSALookup interface {
	LookupTLSA(ctx context.Context, host string, port uint16) ([]Record, error)
}

// ValidatorConfig configures a Validator.
type ValidatorConfig struct {
	// Lookup resolves TLSA records. Required.
	Lookup TLSALookup

	// FailClosed cancels challenges whose TLSA lookup fails for any reason
	// other than the absence of records. By default such challenges are
	// left to the local pin matcher.
	FailClosed bool

	// Logger for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Validator is a dispatch.ExternalValidator backed by TLSA records.
//
// Hosts without usable TLSA records are left unhandled. Otherwise:
//
//   - a DANE-EE record matching the leaf, or a DANE-TA record matching an
//     issuer the leaf validly chains to for the host, yields
//     UseCustomCredential;
//   - a PKIX-EE or PKIX-TA record matching the chain yields UseDefaultTrust,
//     keeping CA validation in force;
//   - no matching record yields Cancel.
type Validator struct {
	lookup     TLSALookup
	failClosed bool
	logger     *slog.Logger
}

// NewValidator creates a Validator.
func NewValidator(cfg *ValidatorConfig) (*Validator, error) {
	if cfg == nil || cfg.Lookup == nil {
		return nil, ErrInvalidConfig
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		lookup:     cfg.Lookup,
		failClosed: cfg.FailClosed,
		logger:     logger.With("component", "dane_validator"),
	}, nil
}

// Validate implements dispatch.ExternalValidator.
func (v *Validator) Validate(ctx context.Context, ch *dispatch.Challenge) (dispatch.Disposition, bool) {
	port := uint16(DefaultPort)
	if ch.Port > 0 && ch.Port <= 0xffff {
		port = uint16(ch.Port)
	}

	records, err := v.lookup.LookupTLSA(ctx, ch.Host, port)
	if err != nil {
		if errors.Is(err, ErrNoTLSARecords) {
			return dispatch.UseDefaultTrust, false
		}
		v.logger.Warn("TLSA lookup failed", "host", ch.Host, "port", port, "error", err)
		if v.failClosed {
			return dispatch.Cancel, true
		}
		return dispatch.UseDefaultTrust, false
	}

	usable := records[:0:0]
	for _, r := range records {
		if r.Usable() {
			usable = append(usable, r)
		}
	}
	if len(usable) == 0 {
		v.logger.Debug("no usable TLSA records", "host", ch.Host, "port", port)
		return dispatch.UseDefaultTrust, false
	}

	disposition, err := Evaluate(ch.Host, ch.Chain, usable)
	if err != nil {
		v.logger.Warn("DANE validation failed", "host", ch.Host, "port", port, "error", err)
		return dispatch.Cancel, true
	}
	v.logger.Debug("DANE validation succeeded", "host", ch.Host, "port", port, "disposition", disposition)
	return disposition, true
}

// Evaluate decides a chain (leaf first) against usable TLSA records.
func Evaluate(host string, chain []*x509.Certificate, records []Record) (dispatch.Disposition, error) {
	if len(chain) == 0 || chain[0] == nil {
		return dispatch.Cancel, ErrInvalidCertificate
	}
	leaf := chain[0]

	pkixMatched := false
	for _, r := range records {
		switch r.Usage {
		case UsageDANEEE:
			if r.Matches(leaf) {
				return dispatch.UseCustomCredential, nil
			}
		case UsageDANETA:
			for i := 1; i < len(chain); i++ {
				if chain[i] != nil && r.Matches(chain[i]) && chainsTo(host, chain, i) {
					return dispatch.UseCustomCredential, nil
				}
			}
		case UsagePKIXEE:
			if r.Matches(leaf) {
				pkixMatched = true
			}
		case UsagePKIXTA:
			for _, cert := range chain {
				if cert != nil && r.Matches(cert) {
					pkixMatched = true
					break
				}
			}
		}
	}
	if pkixMatched {
		return dispatch.UseDefaultTrust, nil
	}
	return dispatch.Cancel, ErrNoMatch
}

// chainsTo reports whether the leaf validates for host using chain[anchor]
// as the only trust anchor.
func chainsTo(host string, chain []*x509.Certificate, anchor int) bool {
	roots := x509.NewCertPool()
	roots.AddCert(chain[anchor])
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:anchor] {
		if cert != nil {
			intermediates.AddCert(cert)
		}
	}
	_, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		DNSName:       host,
	})
	return err == nil
}
