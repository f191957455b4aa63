// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package pinclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"

	"github.com/jeremyhahn/go-pinguard/pkg/dispatch"
)

// NewTLSConfig returns a copy of base whose certificate verification is
// driven by d. Built-in verification is disabled and replaced by a
// VerifyConnection hook that:
//
//   - accepts the chain on UseCustomCredential,
//   - runs standard x509 verification against base.RootCAs (the system
//     pool when nil) on UseDefaultTrust,
//   - fails the handshake with a *PinningError on Cancel.
//
// The host evaluated is base.ServerName, or the connection's server name
// when base leaves it empty. A handshake with neither fails with
// ErrNoServerName.
func NewTLSConfig(d *dispatch.Dispatcher, base *tls.Config) *tls.Config {
	return newTLSConfig(d, base, "", 0, nil)
}

func newTLSConfig(d *dispatch.Dispatcher, base *tls.Config, host string, port int, observe func(*dispatch.Decision)) *tls.Config {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if host != "" {
		cfg.ServerName = host
	}

	v := &verifier{
		dispatcher: d,
		roots:      cfg.RootCAs,
		host:       cfg.ServerName,
		port:       port,
		observe:    observe,
	}
	cfg.InsecureSkipVerify = true //nolint:gosec // verification happens in VerifyConnection
	cfg.VerifyConnection = v.verify
	return cfg
}

type verifier struct {
	dispatcher *dispatch.Dispatcher
	roots      *x509.CertPool
	host       string
	port       int
	observe    func(*dispatch.Decision)
}

func (v *verifier) verify(cs tls.ConnectionState) error {
	if len(cs.PeerCertificates) == 0 {
		return ErrNoCertificates
	}
	host := v.host
	if host == "" {
		host = cs.ServerName
	}
	if host == "" {
		return ErrNoServerName
	}

	dec := v.dispatcher.Evaluate(context.Background(), host, v.port, cs.PeerCertificates)
	if v.observe != nil {
		v.observe(dec)
	}
	switch dec.Disposition {
	case dispatch.UseCustomCredential:
		return nil
	case dispatch.UseDefaultTrust:
		return v.verifyDefault(host, cs.PeerCertificates)
	default:
		return &PinningError{Decision: dec}
	}
}

func (v *verifier) verifyDefault(host string, chain []*x509.Certificate) error {
	opts := x509.VerifyOptions{
		Roots:         v.roots,
		DNSName:       host,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range chain[1:] {
		opts.Intermediates.AddCert(cert)
	}
	_, err := chain[0].Verify(opts)
	return err
}
