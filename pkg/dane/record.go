// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package dane

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// Certificate usages (RFC 6698 section 2.1.1).
const (
	UsagePKIXTA uint8 = 0
	UsagePKIXEE uint8 = 1
	UsageDANETA uint8 = 2
	UsageDANEEE uint8 = 3
)

// Selectors (RFC 6698 section 2.1.2).
const (
	SelectorFullCert uint8 = 0
	SelectorSPKI     uint8 = 1
)

// Matching types (RFC 6698 section 2.1.3).
const (
	MatchingExact  uint8 = 0
	MatchingSHA256 uint8 = 1
	MatchingSHA512 uint8 = 2
)

// Record is one TLSA association.
type Record struct {
	Usage        uint8
	Selector     uint8
	MatchingType uint8
	Data         []byte
}

// RecordFromRR converts a parsed DNS TLSA resource record.
func RecordFromRR(rr *dns.TLSA) (Record, error) {
	data, err := hex.DecodeString(rr.Certificate)
	if err != nil {
		return Record{}, fmt.Errorf("%w: association data: %w", ErrDNSLookupFailed, err)
	}
	return Record{
		Usage:        rr.Usage,
		Selector:     rr.Selector,
		MatchingType: rr.MatchingType,
		Data:         data,
	}, nil
}

// Usable reports whether the selector and matching type are supported.
// Unusable records are ignored during validation (RFC 7671 section 4).
func (r Record) Usable() bool {
	if r.Usage > UsageDANEEE {
		return false
	}
	if r.Selector != SelectorFullCert && r.Selector != SelectorSPKI {
		return false
	}
	return r.MatchingType <= MatchingSHA512
}

// Matches reports whether cert satisfies the record's association data.
func (r Record) Matches(cert *x509.Certificate) bool {
	data, err := AssociationData(cert, r.Selector, r.MatchingType)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(data, r.Data) == 1
}

// RR returns the record as a DNS TLSA resource record for host and port.
func (r Record) RR(host string, port uint16) *dns.TLSA {
	return &dns.TLSA{
		Hdr: dns.RR_Header{
			Name:   OwnerName(host, port),
			Rrtype: dns.TypeTLSA,
			Class:  dns.ClassINET,
			Ttl:    3600,
		},
		Usage:        r.Usage,
		Selector:     r.Selector,
		MatchingType: r.MatchingType,
		Certificate:  hex.EncodeToString(r.Data),
	}
}

// AssociationData computes the TLSA association data of cert for the given
// selector and matching type.
func AssociationData(cert *x509.Certificate, selector, matchingType uint8) ([]byte, error) {
	if cert == nil {
		return nil, ErrInvalidCertificate
	}
	var selected []byte
	switch selector {
	case SelectorFullCert:
		selected = cert.Raw
	case SelectorSPKI:
		selected = cert.RawSubjectPublicKeyInfo
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSelector, selector)
	}
	switch matchingType {
	case MatchingExact:
		return selected, nil
	case MatchingSHA256:
		h := sha256.Sum256(selected)
		return h[:], nil
	case MatchingSHA512:
		h := sha512.Sum512(selected)
		return h[:], nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMatching, matchingType)
	}
}

// Generate builds the record publishing cert with the given parameters.
func Generate(cert *x509.Certificate, usage, selector, matchingType uint8) (Record, error) {
	data, err := AssociationData(cert, selector, matchingType)
	if err != nil {
		return Record{}, err
	}
	return Record{Usage: usage, Selector: selector, MatchingType: matchingType, Data: data}, nil
}

// OwnerName returns the TLSA owner name "_<port>._tcp.<host>." for host.
func OwnerName(host string, port uint16) string {
	return fmt.Sprintf("_%d._tcp.%s", port, dns.Fqdn(strings.ToLower(host)))
}
