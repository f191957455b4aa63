// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"time"

	"github.com/jeremyhahn/go-pinguard/pkg/pinning"
	"github.com/jeremyhahn/go-pinguard/pkg/report"
	"github.com/jeremyhahn/go-pinguard/pkg/spkihash"
)

// State is a step of challenge evaluation.
type State string

const (
	StateReceived            State = "received"
	StateDelegatedExternally State = "delegated-externally"
	StateExternallyHandled   State = "externally-handled"
	StateExternallyUnhandled State = "externally-unhandled"
	StateLocallyEvaluated    State = "locally-evaluated"
	StateDecided             State = "decided"
)

// Challenge is one server-trust authentication challenge. Chain is ordered
// leaf first.
type Challenge struct {
	Host  string
	Port  int
	Chain []*x509.Certificate
}

// ExternalValidator is consulted before local pin evaluation. It returns
// handled=false to defer to the local matcher.
type ExternalValidator interface {
	Validate(ctx context.Context, ch *Challenge) (disposition Disposition, handled bool)
}

// ExternalValidatorFunc adapts a function to ExternalValidator.
type ExternalValidatorFunc func(ctx context.Context, ch *Challenge) (Disposition, bool)

// Validate calls f(ctx, ch).
func (f ExternalValidatorFunc) Validate(ctx context.Context, ch *Challenge) (Disposition, bool) {
	return f(ctx, ch)
}

// Extractor reads the public key of a certificate.
type Extractor interface {
	Extract(cert *x509.Certificate) (spkihash.PublicKeyInfo, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(cert *x509.Certificate) (spkihash.PublicKeyInfo, error)

// Extract calls f(cert).
func (f ExtractorFunc) Extract(cert *x509.Certificate) (spkihash.PublicKeyInfo, error) {
	return f(cert)
}

// Config configures a Dispatcher.
type Config struct {
	// Matcher holds the pinning configuration. Required.
	Matcher *pinning.Matcher

	// External is tried before local evaluation. Optional.
	External ExternalValidator

	// Extractor reads public keys from chain certificates.
	// Default: spkihash.Extract.
	Extractor Extractor

	// Reporter receives violation reports. Default: a report.LogReporter
	// on Logger.
	Reporter report.Reporter

	// Logger for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Decision is the outcome of one Dispatch call.
type Decision struct {
	Host        string
	Port        int
	Disposition Disposition

	// Chain is the served chain, leaf first.
	Chain []*x509.Certificate

	// Verdict is pinning.Unevaluated when the external validator decided.
	Verdict pinning.Verdict

	// External reports whether the external validator handled the
	// challenge.
	External bool

	// PolicyHost is the host of the applied policy, empty when none.
	PolicyHost string
	Enforced   bool
	Expected   []spkihash.Hash
	Computed   []spkihash.Hash

	// Err is the extraction or hashing failure behind a Malformed verdict.
	Err error

	// States lists the evaluation steps taken, in order.
	States []State
}

// Cause returns an error describing why the challenge was cancelled, or nil
// when the disposition is not Cancel.
func (d *Decision) Cause() error {
	if d.Disposition != Cancel {
		return nil
	}
	if d.External {
		return fmt.Errorf("%w: %s", ErrExternallyRejected, d.Host)
	}
	verr := d.Verdict.Err()
	if verr == nil {
		verr = pinning.ErrMalformedChain
	}
	if d.Err != nil {
		return fmt.Errorf("%w: %w", verr, d.Err)
	}
	return fmt.Errorf("%w: %s", verr, d.Host)
}

func (d *Decision) enter(s State) {
	d.States = append(d.States, s)
}

// Dispatcher evaluates challenges. It holds no per-call state and is safe
// for concurrent use.
type Dispatcher struct {
	matcher   *pinning.Matcher
	external  ExternalValidator
	extractor Extractor
	reporter  report.Reporter
	now       func() time.Time
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher from cfg.
func NewDispatcher(cfg *Config) (*Dispatcher, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Matcher == nil {
		return nil, fmt.Errorf("%w: matcher is required", ErrInvalidConfig)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	extractor := cfg.Extractor
	if extractor == nil {
		extractor = ExtractorFunc(spkihash.Extract)
	}

	reporter := cfg.Reporter
	if reporter == nil {
		reporter = report.NewLogReporter(logger)
	}

	return &Dispatcher{
		matcher:   cfg.Matcher,
		external:  cfg.External,
		extractor: extractor,
		reporter:  reporter,
		now:       time.Now,
		logger:    logger.With("component", "dispatcher"),
	}, nil
}

// Dispatch evaluates ch and returns exactly one decision. A nil challenge
// is cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, ch *Challenge) *Decision {
	if ch == nil {
		return &Decision{
			Disposition: Cancel,
			Verdict:     pinning.Malformed,
			Err:         ErrNilChallenge,
			States:      []State{StateReceived, StateDecided},
		}
	}

	dec := &Decision{Host: ch.Host, Port: ch.Port, Chain: ch.Chain}
	dec.enter(StateReceived)

	if d.external != nil {
		dec.enter(StateDelegatedExternally)
		if disposition, handled := d.external.Validate(ctx, ch); handled {
			dec.enter(StateExternallyHandled)
			dec.External = true
			dec.Disposition = disposition
			dec.enter(StateDecided)
			d.logger.Debug("challenge decided externally",
				"host", ch.Host, "disposition", disposition)
			return dec
		}
		dec.enter(StateExternallyUnhandled)
	}

	policy, ok := d.matcher.Lookup(ch.Host)
	if ok {
		dec.PolicyHost = policy.Host
		dec.Enforced = policy.Enforce
		dec.Expected = policy.Pins
		candidates, err := policy.Candidates(ch.Chain, d.extractor.Extract)
		if err != nil {
			dec.Err = err
			d.logger.Warn("cannot fingerprint chain", "host", ch.Host, "error", err)
		}
		dec.Computed = candidates
	}
	dec.Verdict = d.matcher.Evaluate(ch.Host, dec.Computed)
	dec.enter(StateLocallyEvaluated)

	dec.Disposition = ForVerdict(dec.Verdict)
	if dec.Verdict.Violation() {
		d.report(ctx, ch, &policy, dec)
	}
	dec.enter(StateDecided)

	d.logger.Debug("challenge decided",
		"host", ch.Host,
		"verdict", dec.Verdict,
		"disposition", dec.Disposition)
	return dec
}

// Evaluate is a convenience wrapper around Dispatch.
func (d *Dispatcher) Evaluate(ctx context.Context, host string, port int, chain []*x509.Certificate) *Decision {
	return d.Dispatch(ctx, &Challenge{Host: host, Port: port, Chain: chain})
}

// Matcher returns the pinning configuration the dispatcher evaluates.
func (d *Dispatcher) Matcher() *pinning.Matcher {
	return d.matcher
}

func (d *Dispatcher) report(ctx context.Context, ch *Challenge, policy *pinning.Policy, dec *Decision) {
	r := &report.Report{
		Time:              d.now().UTC(),
		Host:              ch.Host,
		Port:              ch.Port,
		NotedHost:         policy.Host,
		IncludeSubdomains: policy.IncludeSubdomains,
		Enforced:          policy.Enforce,
		Verdict:           dec.Verdict,
		ServedChain:       report.EncodeChain(ch.Chain),
		KnownPins:         report.KnownPins(policy.Pins),
		ComputedPins:      spkihash.Strings(dec.Computed),
		ReportURIs:        policy.ReportURIs,
	}
	if dec.Err != nil {
		r.Error = dec.Err.Error()
	}
	d.reporter.Report(ctx, r)
}
