// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package pinning

import (
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-pinguard/pkg/spkihash"
)

// Mode selects what part of a certificate a policy's pins are computed over.
type Mode int

const (
	// ModeSPKI pins the canonical SubjectPublicKeyInfo SHA-256 fingerprint.
	// This is the default and survives certificate renewal with the same key.
	ModeSPKI Mode = iota

	// ModeCertificate pins the SHA-256 digest of the full DER certificate.
	// Any reissue, even with the same key, breaks the pin.
	ModeCertificate

	// ModePublicKey pins the SHA-256 digest of the raw public key bytes
	// without SubjectPublicKeyInfo framing.
	ModePublicKey
)

var modeNames = map[Mode]string{
	ModeSPKI:        "spki",
	ModeCertificate: "certificate",
	ModePublicKey:   "public-key",
}

// String returns the configuration name of the mode.
func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses a mode name. The empty string selects ModeSPKI.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeSPKI, nil
	}
	for mode, name := range modeNames {
		if name == s {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidPolicy, s)
}

// ExtractFunc reads the public key from a certificate.
type ExtractFunc func(cert *x509.Certificate) (spkihash.PublicKeyInfo, error)

// Policy is the pinning policy for one host pattern.
type Policy struct {
	// Host is the pinned hostname. With IncludeSubdomains it also covers
	// every name below it.
	Host string

	// Enforce rejects mismatching chains. When false, mismatches are only
	// reported and the connection proceeds under baseline trust.
	Enforce bool

	// IncludeSubdomains extends the policy to subdomains of Host.
	IncludeSubdomains bool

	// Pins is the allow-list of fingerprints. At least one is required;
	// a second (backup) pin is recommended.
	Pins []spkihash.Hash

	// Mode selects how chain certificates are fingerprinted.
	Mode Mode

	// ReportURIs receive violation reports for this host.
	ReportURIs []string
}

// Fingerprint computes the candidate fingerprint of cert for this policy's
// mode. extract is used by the key-based modes.
func (p *Policy) Fingerprint(cert *x509.Certificate, extract ExtractFunc) (spkihash.Hash, error) {
	if cert == nil {
		return spkihash.Hash{}, fmt.Errorf("%w: nil certificate", spkihash.ErrExtractionFailed)
	}
	switch p.Mode {
	case ModeCertificate:
		if len(cert.Raw) == 0 {
			return spkihash.Hash{}, fmt.Errorf("%w: certificate has no DER encoding", spkihash.ErrExtractionFailed)
		}
		return spkihash.Sum(cert.Raw), nil
	case ModePublicKey:
		key, err := extract(cert)
		if err != nil {
			return spkihash.Hash{}, err
		}
		return spkihash.Sum(key.RawKey), nil
	default:
		key, err := extract(cert)
		if err != nil {
			return spkihash.Hash{}, err
		}
		return spkihash.Compute(key)
	}
}

// Candidates fingerprints every certificate in chain. The first failure
// aborts and is returned; a partial set is never produced.
func (p *Policy) Candidates(chain []*x509.Certificate, extract ExtractFunc) ([]spkihash.Hash, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: empty chain", ErrMalformedChain)
	}
	out := make([]spkihash.Hash, 0, len(chain))
	for i, cert := range chain {
		h, err := p.Fingerprint(cert, extract)
		if err != nil {
			return nil, fmt.Errorf("certificate %d: %w", i, err)
		}
		out = append(out, h)
	}
	return out, nil
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
}
