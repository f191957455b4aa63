// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pinguard/internal/config"
	"github.com/jeremyhahn/go-pinguard/pkg/dispatch"
	"github.com/jeremyhahn/go-pinguard/pkg/pinclient"
	"github.com/jeremyhahn/go-pinguard/pkg/pinning"
	"github.com/jeremyhahn/go-pinguard/pkg/spkihash"
)

const defaultCheckTimeout = 10 * time.Second

// checkCmd performs one pinned handshake.
var checkCmd = &cobra.Command{
	Use:   "check <https-url|host[:port]>",
	Short: "Perform one pinned TLS handshake and print the decision",
	Long: `Connect to a TLS server, evaluate its certificate chain against the pin
configuration and print the chain together with the verdict and disposition.

Policies come from --config, from --pin flags, or both. DANE and Rego
validators configured in the file are consulted before the pins.

Exit codes: 0 accepted, 3 rejected by pinning, 1 connection or CA trust
failure, 2 invalid input or configuration.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	addCheckFlags(checkCmd)
}

func addCheckFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("config", "", "path to YAML pin configuration")
	f.StringSlice("pin", nil, "base64 SHA-256 pin for the target host (repeatable)")
	f.String("mode", "spki", "pin mode for --pin (spki|certificate|public-key)")
	f.Bool("report-only", false, "do not enforce --pin policies, only report mismatches")
	f.Bool("include-subdomains", false, "apply --pin policies to subdomains of the target host")
	f.String("ca-file", "", "PEM CA bundle for baseline trust (default: system roots)")
	f.Duration("timeout", defaultCheckTimeout, "dial and handshake timeout")
}

type chainCert struct {
	Index    int    `json:"index"`
	Subject  string `json:"subject"`
	Issuer   string `json:"issuer"`
	NotAfter string `json:"not_after"`
	Pin      string `json:"pin,omitempty"`
	Pinned   bool   `json:"pinned"`
}

type checkResult struct {
	Host        string      `json:"host"`
	Port        int         `json:"port"`
	Accepted    bool        `json:"accepted"`
	Disposition string      `json:"disposition,omitempty"`
	Verdict     string      `json:"verdict,omitempty"`
	External    bool        `json:"external"`
	Validators  []string    `json:"validators,omitempty"`
	Policy      string      `json:"policy,omitempty"`
	Enforced    bool        `json:"enforced"`
	States      []string    `json:"states,omitempty"`
	Error       string      `json:"error,omitempty"`
	Chain       []chainCert `json:"chain"`
}

func (r checkResult) header() table.Row {
	return table.Row{"#", "Subject", "Issuer", "Pin", "Pinned"}
}

func (r checkResult) rows() []table.Row {
	rows := make([]table.Row, 0, len(r.Chain))
	for _, c := range r.Chain {
		pinned := ""
		if c.Pinned {
			pinned = "yes"
		}
		rows = append(rows, table.Row{c.Index, c.Subject, c.Issuer, c.Pin, pinned})
	}
	return rows
}

func (r checkResult) footer() table.Row {
	status := "accepted"
	if !r.Accepted {
		status = "rejected"
	}
	decidedBy := "pins"
	if r.External {
		decidedBy = "external"
	}
	return table.Row{"", net.JoinHostPort(r.Host, strconv.Itoa(r.Port)), r.Verdict + " / " + r.Disposition, decidedBy, status}
}

func runCheck(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	pins, _ := cmd.Flags().GetStringSlice("pin")
	modeName, _ := cmd.Flags().GetString("mode")
	reportOnly, _ := cmd.Flags().GetBool("report-only")
	includeSubdomains, _ := cmd.Flags().GetBool("include-subdomains")
	caFile, _ := cmd.Flags().GetString("ca-file")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	host, port, err := parseTarget(args[0])
	if err != nil {
		return err
	}

	var file *config.File
	if configFile != "" {
		file, err = config.Load(configFile)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
	}

	var extra []pinning.Policy
	if len(pins) > 0 {
		p, err := flagPolicy(host, pins, modeName, !reportOnly, includeSubdomains)
		if err != nil {
			return err
		}
		extra = append(extra, p)
	}

	roots, err := loadRoots(caFile)
	if err != nil {
		return err
	}

	sigCtx, sigStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer sigStop()

	st, err := buildStack(sigCtx, file, extra, slog.Default())
	if err != nil {
		return err
	}
	defer st.Close()

	var decision *dispatch.Decision
	client, err := pinclient.NewClient(&pinclient.ClientConfig{
		Dispatcher: st.dispatcher,
		TLSConfig:  &tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12},
		Timeout:    timeout,
		OnDecision: func(d *dispatch.Decision) { decision = d },
		Logger:     slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCheckFailed, err)
	}
	defer client.Close()

	slog.Debug("checking", "host", host, "port", port, "validators", st.validators)

	conn, dialErr := client.Dial(sigCtx, net.JoinHostPort(host, strconv.Itoa(port)))
	if dialErr == nil {
		_ = conn.Close()
	}

	result := newCheckResult(host, port, st, decision, dialErr)
	if err := emit(result); err != nil {
		return err
	}
	if dialErr != nil {
		return fmt.Errorf("%w: %w", ErrCheckFailed, dialErr)
	}
	return nil
}

// parseTarget accepts an https URL or host[:port]; the port defaults to 443.
func parseTarget(target string) (string, int, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", 0, fmt.Errorf("%w: target is required", ErrInvalidInput)
	}

	host, portStr := target, ""
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		if u.Scheme != "https" {
			return "", 0, fmt.Errorf("%w: scheme %q is not https", ErrInvalidInput, u.Scheme)
		}
		host, portStr = u.Hostname(), u.Port()
	} else if h, p, err := net.SplitHostPort(target); err == nil {
		host, portStr = h, p
	}

	if host == "" {
		return "", 0, fmt.Errorf("%w: missing host in %q", ErrInvalidInput, target)
	}
	if portStr == "" {
		return host, 443, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("%w: invalid port %q", ErrInvalidInput, portStr)
	}
	return host, port, nil
}

func flagPolicy(host string, pins []string, modeName string, enforce, includeSubdomains bool) (pinning.Policy, error) {
	mode, err := pinning.ParseMode(modeName)
	if err != nil {
		return pinning.Policy{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	hashes := make([]spkihash.Hash, 0, len(pins))
	for _, s := range pins {
		h, err := spkihash.ParseHash(s)
		if err != nil {
			return pinning.Policy{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		hashes = append(hashes, h)
	}
	return pinning.Policy{
		Host:              host,
		Enforce:           enforce,
		IncludeSubdomains: includeSubdomains,
		Pins:              hashes,
		Mode:              mode,
	}, nil
}

func loadRoots(caFile string) (*x509.CertPool, error) {
	if caFile == "" {
		return nil, nil
	}
	certs, err := loadCertsFromPEMFile(caFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	for _, cert := range certs {
		pool.AddCert(cert)
	}
	return pool, nil
}

func newCheckResult(host string, port int, st *stack, dec *dispatch.Decision, dialErr error) checkResult {
	r := checkResult{
		Host:       host,
		Port:       port,
		Accepted:   dialErr == nil,
		Validators: st.validators,
	}
	if dialErr != nil {
		r.Error = dialErr.Error()
	}
	if dec == nil {
		return r
	}

	r.Disposition = dec.Disposition.String()
	r.Verdict = dec.Verdict.String()
	r.External = dec.External
	r.Policy = dec.PolicyHost
	r.Enforced = dec.Enforced
	for _, s := range dec.States {
		r.States = append(r.States, string(s))
	}

	policy, hasPolicy := st.dispatcher.Matcher().Lookup(host)
	for i, cert := range dec.Chain {
		c := chainCert{
			Index:    i,
			Subject:  cert.Subject.String(),
			Issuer:   cert.Issuer.String(),
			NotAfter: cert.NotAfter.UTC().Format(time.RFC3339),
		}
		var (
			h   spkihash.Hash
			err error
		)
		if hasPolicy {
			h, err = policy.Fingerprint(cert, spkihash.Extract)
		} else {
			h, err = spkihash.ComputeCertificate(cert)
		}
		if err == nil {
			c.Pin = h.String()
			c.Pinned = slices.Contains(dec.Expected, h)
		}
		r.Chain = append(r.Chain, c)
	}
	return r
}
