// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package spkihash

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Algorithm identifies a public key algorithm and size.
type Algorithm string

const (
	AlgorithmRSA2048   Algorithm = "rsa-2048"
	AlgorithmRSA3072   Algorithm = "rsa-3072"
	AlgorithmRSA4096   Algorithm = "rsa-4096"
	AlgorithmECDSAP256 Algorithm = "ecdsa-p256"
	AlgorithmECDSAP384 Algorithm = "ecdsa-p384"
	AlgorithmECDSAP521 Algorithm = "ecdsa-p521"
	AlgorithmEd25519   Algorithm = "ed25519"
)

// PublicKeyInfo is a public key as extracted from a certificate: the payload
// of the SubjectPublicKeyInfo BIT STRING and the algorithm it belongs to.
type PublicKeyInfo struct {
	Algorithm Algorithm
	RawKey    []byte
}

// spkiHeaders holds the DER SubjectPublicKeyInfo prefix for each supported
// algorithm, up to and including the BIT STRING unused-bits octet. RSA
// headers assume the 65537 public exponent.
var spkiHeaders = map[Algorithm][]byte{
	AlgorithmRSA2048: {
		0x30, 0x82, 0x01, 0x22, 0x30, 0x0d, 0x06, 0x09, 0x2a, 0x86, 0x48, 0x86,
		0xf7, 0x0d, 0x01, 0x01, 0x01, 0x05, 0x00, 0x03, 0x82, 0x01, 0x0f, 0x00,
	},
	AlgorithmRSA3072: {
		0x30, 0x82, 0x01, 0xa2, 0x30, 0x0d, 0x06, 0x09, 0x2a, 0x86, 0x48, 0x86,
		0xf7, 0x0d, 0x01, 0x01, 0x01, 0x05, 0x00, 0x03, 0x82, 0x01, 0x8f, 0x00,
	},
	AlgorithmRSA4096: {
		0x30, 0x82, 0x02, 0x22, 0x30, 0x0d, 0x06, 0x09, 0x2a, 0x86, 0x48, 0x86,
		0xf7, 0x0d, 0x01, 0x01, 0x01, 0x05, 0x00, 0x03, 0x82, 0x02, 0x0f, 0x00,
	},
	AlgorithmECDSAP256: {
		0x30, 0x59, 0x30, 0x13, 0x06, 0x07, 0x2a, 0x86, 0x48, 0xce, 0x3d, 0x02,
		0x01, 0x06, 0x08, 0x2a, 0x86, 0x48, 0xce, 0x3d, 0x03, 0x01, 0x07, 0x03,
		0x42, 0x00,
	},
	AlgorithmECDSAP384: {
		0x30, 0x76, 0x30, 0x10, 0x06, 0x07, 0x2a, 0x86, 0x48, 0xce, 0x3d, 0x02,
		0x01, 0x06, 0x05, 0x2b, 0x81, 0x04, 0x00, 0x22, 0x03, 0x62, 0x00,
	},
	AlgorithmECDSAP521: {
		0x30, 0x81, 0x9b, 0x30, 0x10, 0x06, 0x07, 0x2a, 0x86, 0x48, 0xce, 0x3d,
		0x02, 0x01, 0x06, 0x05, 0x2b, 0x81, 0x04, 0x00, 0x23, 0x03, 0x81, 0x86,
		0x00,
	},
	AlgorithmEd25519: {
		0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00,
	},
}

// Header returns a copy of the SubjectPublicKeyInfo header registered for
// alg, and whether one exists.
func Header(alg Algorithm) ([]byte, bool) {
	h, ok := spkiHeaders[alg]
	if !ok {
		return nil, false
	}
	return bytes.Clone(h), true
}

// Compute returns the SPKI fingerprint of key: SHA-256 over the registered
// header for key.Algorithm followed by key.RawKey.
func Compute(key PublicKeyInfo) (Hash, error) {
	header, ok := spkiHeaders[key.Algorithm]
	if !ok {
		return Hash{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, key.Algorithm)
	}
	if len(key.RawKey) == 0 {
		return Hash{}, fmt.Errorf("%w: empty key", ErrExtractionFailed)
	}
	d := sha256.New()
	d.Write(header)
	d.Write(key.RawKey)
	var h Hash
	d.Sum(h[:0])
	return h, nil
}

// Extract reads the PublicKeyInfo from a certificate. It is the default
// extraction collaborator for the dispatcher.
func Extract(cert *x509.Certificate) (PublicKeyInfo, error) {
	if cert == nil {
		return PublicKeyInfo{}, fmt.Errorf("%w: nil certificate", ErrExtractionFailed)
	}
	return ParsePKIX(cert.RawSubjectPublicKeyInfo)
}

// ParsePKIX reads a PublicKeyInfo from a DER SubjectPublicKeyInfo. Keys
// whose encoding cannot be reproduced from the registered header (an RSA key
// with an unusual exponent, for example) are rejected with
// ErrUnsupportedAlgorithm so that they can never hash to a pinned value by
// accident.
func ParsePKIX(der []byte) (PublicKeyInfo, error) {
	raw, err := bitStringPayload(der)
	if err != nil {
		return PublicKeyInfo{}, err
	}

	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return PublicKeyInfo{}, fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, err)
	}
	alg, err := classify(pub)
	if err != nil {
		return PublicKeyInfo{}, err
	}

	header := spkiHeaders[alg]
	if len(der) != len(header)+len(raw) || !bytes.HasPrefix(der, header) {
		return PublicKeyInfo{}, fmt.Errorf("%w: %s key has non-canonical encoding", ErrUnsupportedAlgorithm, alg)
	}

	return PublicKeyInfo{Algorithm: alg, RawKey: raw}, nil
}

// ComputeCertificate extracts the public key from cert and returns its
// SPKI fingerprint.
func ComputeCertificate(cert *x509.Certificate) (Hash, error) {
	key, err := Extract(cert)
	if err != nil {
		return Hash{}, err
	}
	return Compute(key)
}

// bitStringPayload returns the subjectPublicKey BIT STRING contents of a
// SubjectPublicKeyInfo.
func bitStringPayload(der []byte) ([]byte, error) {
	input := cryptobyte.String(der)
	var spki, algo cryptobyte.String
	if !input.ReadASN1(&spki, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: malformed SubjectPublicKeyInfo", ErrExtractionFailed)
	}
	var bits asn1.BitString
	if !spki.ReadASN1(&algo, cbasn1.SEQUENCE) || !spki.ReadASN1BitString(&bits) || !spki.Empty() {
		return nil, fmt.Errorf("%w: malformed SubjectPublicKeyInfo", ErrExtractionFailed)
	}
	if bits.BitLength%8 != 0 || len(bits.Bytes) == 0 {
		return nil, fmt.Errorf("%w: public key is not octet aligned", ErrExtractionFailed)
	}
	return bits.Bytes, nil
}

func classify(pub any) (Algorithm, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		switch k.N.BitLen() {
		case 2048:
			return AlgorithmRSA2048, nil
		case 3072:
			return AlgorithmRSA3072, nil
		case 4096:
			return AlgorithmRSA4096, nil
		}
		return "", fmt.Errorf("%w: rsa-%d", ErrUnsupportedAlgorithm, k.N.BitLen())
	case *ecdsa.PublicKey:
		switch k.Curve.Params().Name {
		case "P-256":
			return AlgorithmECDSAP256, nil
		case "P-384":
			return AlgorithmECDSAP384, nil
		case "P-521":
			return AlgorithmECDSAP521, nil
		}
		return "", fmt.Errorf("%w: ecdsa %s", ErrUnsupportedAlgorithm, k.Curve.Params().Name)
	case ed25519.PublicKey:
		return AlgorithmEd25519, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, pub)
	}
}
