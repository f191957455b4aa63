// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package dane

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	// DefaultTimeout is the default DNS query timeout.
	DefaultTimeout = 5 * time.Second

	dnsPort = "53"
	dotPort = "853"

	resolvConf = "/etc/resolv.conf"
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Server is the resolver address, host or host:port. When empty the
	// first nameserver of /etc/resolv.conf is used.
	Server string

	// UseTLS queries over DNS-over-TLS (port 853 by default).
	UseTLS bool

	// TLSServerName overrides the DoT server name.
	TLSServerName string

	// AllowUnauthenticated accepts answers without the AD flag. Only
	// meant for tests and lab resolvers; DANE without DNSSEC is not
	// authenticated.
	AllowUnauthenticated bool

	// Timeout bounds each query. Default: DefaultTimeout.
	Timeout time.Duration

	// Logger for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Resolver looks up TLSA records through a DNSSEC-validating resolver.
type Resolver struct {
	client    *dns.Client
	server    string
	requireAD bool
	logger    *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(cfg *ResolverConfig) (*Resolver, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := &dns.Client{Net: "udp", Timeout: timeout}
	defaultPort := dnsPort
	if cfg.UseTLS {
		client.Net = "tcp-tls"
		client.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.TLSServerName,
		}
		defaultPort = dotPort
	}

	server := cfg.Server
	if server == "" {
		sys, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if len(sys.Servers) == 0 {
			return nil, fmt.Errorf("%w: no nameservers in %s", ErrInvalidConfig, resolvConf)
		}
		server = sys.Servers[0]
		if sys.Port != "" && !cfg.UseTLS {
			defaultPort = sys.Port
		}
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(strings.Trim(server, "[]"), defaultPort)
	}

	return &Resolver{
		client:    client,
		server:    server,
		requireAD: !cfg.AllowUnauthenticated,
		logger:    logger.With("component", "dane_resolver"),
	}, nil
}

// LookupTLSA returns the TLSA records published for host and port.
// Records whose association data cannot be decoded are skipped. An answer
// with no TLSA records yields ErrNoTLSARecords.
func (r *Resolver) LookupTLSA(ctx context.Context, host string, port uint16) ([]Record, error) {
	if host == "" || len(host) > 253 || strings.ContainsRune(host, 0) {
		return nil, ErrInvalidHostname
	}
	if port == 0 {
		return nil, ErrInvalidPort
	}

	msg := new(dns.Msg)
	msg.SetQuestion(OwnerName(host, port), dns.TypeTLSA)
	msg.SetEdns0(4096, true)
	msg.RecursionDesired = true
	msg.AuthenticatedData = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDNSLookupFailed, err)
	}
	if resp.Truncated && r.client.Net == "udp" {
		tcp := &dns.Client{Net: "tcp", Timeout: r.client.Timeout}
		resp, _, err = tcp.ExchangeContext(ctx, msg, r.server)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDNSLookupFailed, err)
		}
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, ErrNoTLSARecords
	default:
		return nil, fmt.Errorf("%w: rcode %s", ErrDNSLookupFailed, dns.RcodeToString[resp.Rcode])
	}

	if r.requireAD && !resp.AuthenticatedData {
		return nil, ErrDNSSECRequired
	}

	records := make([]Record, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		tlsa, ok := rr.(*dns.TLSA)
		if !ok {
			continue
		}
		rec, err := RecordFromRR(tlsa)
		if err != nil {
			r.logger.Debug("skipping undecodable TLSA record", "host", host, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, ErrNoTLSARecords
	}

	r.logger.Debug("TLSA records resolved", "host", host, "port", port, "count", len(records))
	return records, nil
}
