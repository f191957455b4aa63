// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pinguard/pkg/dane"
	"github.com/jeremyhahn/go-pinguard/pkg/pinning"
	"github.com/jeremyhahn/go-pinguard/pkg/spkihash"
)

// spkiCmd is the parent command for pin computation.
var spkiCmd = &cobra.Command{
	Use:   "spki",
	Short: "Compute pins from PEM certificates",
	Long: `Tools for computing pins from PEM-encoded certificates.

Subcommands:
  show - print the base64 pin of every certificate in a PEM file
  tlsa - print DANE TLSA records for the certificates in a PEM file`,
}

// spkiShowCmd prints pins for every certificate in a PEM file.
var spkiShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the pin of each certificate in a PEM file",
	Long: `Compute the base64 SHA-256 pin of every certificate in a PEM file.

With the default spki mode the pin is taken over the SubjectPublicKeyInfo
and matches 'openssl x509 -pubkey | openssl pkey -pubin -outform der |
openssl dgst -sha256 -binary | base64'. Keys of unsupported algorithms are
listed with an error instead of a pin.`,
	RunE: runSPKIShow,
}

// spkiTLSACmd prints TLSA records for a PEM file.
var spkiTLSACmd = &cobra.Command{
	Use:   "tlsa",
	Short: "Generate TLSA records for the certificates in a PEM file",
	RunE:  runSPKITLSA,
}

func init() {
	spkiCmd.AddCommand(spkiShowCmd)
	spkiCmd.AddCommand(spkiTLSACmd)

	spkiShowCmd.Flags().String("cert-file", "", "path to PEM certificate file (required)")
	spkiShowCmd.Flags().String("mode", "spki", "pin mode (spki|certificate|public-key)")

	spkiTLSACmd.Flags().String("cert-file", "", "path to PEM certificate file (required)")
	spkiTLSACmd.Flags().String("hostname", "", "service hostname (required)")
	spkiTLSACmd.Flags().Uint16("port", dane.DefaultPort, "service port")
	spkiTLSACmd.Flags().Uint8("usage", dane.UsageDANEEE, "certificate usage (0-3)")
	spkiTLSACmd.Flags().Uint8("selector", dane.SelectorSPKI, "selector (0=full certificate, 1=SPKI)")
	spkiTLSACmd.Flags().Uint8("matching-type", dane.MatchingSHA256, "matching type (0=exact, 1=SHA-256, 2=SHA-512)")
}

type pinRow struct {
	Index     int    `json:"index"`
	Subject   string `json:"subject"`
	Issuer    string `json:"issuer"`
	Algorithm string `json:"algorithm,omitempty"`
	Mode      string `json:"mode"`
	Pin       string `json:"pin,omitempty"`
	Error     string `json:"error,omitempty"`
}

type pinResult struct {
	Certificates []pinRow `json:"certificates"`
}

func (r pinResult) header() table.Row {
	return table.Row{"#", "Subject", "Algorithm", "Mode", "Pin"}
}

func (r pinResult) rows() []table.Row {
	rows := make([]table.Row, 0, len(r.Certificates))
	for _, c := range r.Certificates {
		pin := c.Pin
		if c.Error != "" {
			pin = "error: " + c.Error
		}
		rows = append(rows, table.Row{c.Index, c.Subject, c.Algorithm, c.Mode, pin})
	}
	return rows
}

func runSPKIShow(cmd *cobra.Command, args []string) error {
	certFile, _ := cmd.Flags().GetString("cert-file")
	modeName, _ := cmd.Flags().GetString("mode")

	if certFile == "" {
		return fmt.Errorf("%w: --cert-file is required", ErrInvalidInput)
	}
	mode, err := pinning.ParseMode(modeName)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	certs, err := loadCertsFromPEMFile(certFile)
	if err != nil {
		return err
	}

	result, err := computePins(certs, mode)
	if err != nil {
		return err
	}
	return emit(result)
}

// computePins fingerprints each certificate under mode. A certificate that
// cannot be fingerprinted produces a row with an error; it is an error only
// when no certificate yields a pin.
func computePins(certs []*x509.Certificate, mode pinning.Mode) (pinResult, error) {
	policy := pinning.Policy{Mode: mode}
	result := pinResult{Certificates: make([]pinRow, 0, len(certs))}
	pinned := 0
	for i, cert := range certs {
		row := pinRow{
			Index:   i,
			Subject: cert.Subject.String(),
			Issuer:  cert.Issuer.String(),
			Mode:    mode.String(),
		}
		if key, err := spkihash.Extract(cert); err == nil {
			row.Algorithm = string(key.Algorithm)
		}
		h, err := policy.Fingerprint(cert, spkihash.Extract)
		if err != nil {
			slog.Debug("fingerprint failed", "index", i, "subject", row.Subject, "error", err)
			row.Error = err.Error()
		} else {
			row.Pin = h.String()
			pinned++
		}
		result.Certificates = append(result.Certificates, row)
	}
	if pinned == 0 {
		return result, fmt.Errorf("%w: no certificate could be pinned", ErrInvalidInput)
	}
	return result, nil
}

type tlsaRow struct {
	Index   int    `json:"index"`
	Subject string `json:"subject"`
	Usage   string `json:"usage"`
	Record  string `json:"record"`
}

type tlsaResult struct {
	Records []tlsaRow `json:"records"`
}

func (r tlsaResult) header() table.Row {
	return table.Row{"#", "Subject", "Usage", "Record"}
}

func (r tlsaResult) rows() []table.Row {
	rows := make([]table.Row, 0, len(r.Records))
	for _, rec := range r.Records {
		rows = append(rows, table.Row{rec.Index, rec.Subject, rec.Usage, rec.Record})
	}
	return rows
}

func runSPKITLSA(cmd *cobra.Command, args []string) error {
	certFile, _ := cmd.Flags().GetString("cert-file")
	hostname, _ := cmd.Flags().GetString("hostname")
	port, _ := cmd.Flags().GetUint16("port")
	usage, _ := cmd.Flags().GetUint8("usage")
	selector, _ := cmd.Flags().GetUint8("selector")
	matchingType, _ := cmd.Flags().GetUint8("matching-type")

	if certFile == "" {
		return fmt.Errorf("%w: --cert-file is required", ErrInvalidInput)
	}
	if hostname == "" {
		return fmt.Errorf("%w: --hostname is required", ErrInvalidInput)
	}
	if usage > dane.UsageDANEEE {
		return fmt.Errorf("%w: usage %d", ErrInvalidInput, usage)
	}

	certs, err := loadCertsFromPEMFile(certFile)
	if err != nil {
		return err
	}

	result := tlsaResult{Records: make([]tlsaRow, 0, len(certs))}
	for i, cert := range certs {
		rec, err := dane.Generate(cert, usage, selector, matchingType)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		result.Records = append(result.Records, tlsaRow{
			Index:   i,
			Subject: cert.Subject.String(),
			Usage:   tlsaUsageName(usage),
			Record:  rec.RR(hostname, port).String(),
		})
	}
	return emit(result)
}

// loadCertsFromPEMFile reads every CERTIFICATE block from a PEM file.
func loadCertsFromPEMFile(certFile string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrFileOperation, certFile, err)
	}

	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing certificate %d: %w", ErrInvalidInput, len(certs), err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: no PEM certificates found in %s", ErrInvalidInput, certFile)
	}
	return certs, nil
}

var usageNames = map[uint8]string{
	dane.UsagePKIXTA: "PKIX-TA",
	dane.UsagePKIXEE: "PKIX-EE",
	dane.UsageDANETA: "DANE-TA",
	dane.UsageDANEEE: "DANE-EE",
}

func tlsaUsageName(usage uint8) string {
	if name, ok := usageNames[usage]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", usage)
}
