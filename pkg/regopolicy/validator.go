// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package regopolicy decides TLS server-trust challenges with a Rego
// policy evaluated by Open Policy Agent.
//
// The policy receives the challenge as input and yields one of the
// decisions "accept", "default" or "reject". An undefined decision leaves
// the challenge to the local pin matcher. Policies run with a restricted
// builtin set: no network, time or randomness.
//
//	package pinguard
//
//	import rego.v1
//
//	decision := "reject" if {
//		endswith(input.host, ".internal.example")
//		not input.chain[0].spki_sha256 in data.pins
//	}
package regopolicy

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"github.com/jeremyhahn/go-pinguard/pkg/dispatch"
	"github.com/jeremyhahn/go-pinguard/pkg/spkihash"
)

// DefaultQuery is the decision queried when Config.Query is empty.
const DefaultQuery = "data.pinguard.decision"

// Decisions a policy may return.
const (
	DecisionAccept  = "accept"
	DecisionDefault = "default"
	DecisionReject  = "reject"
)

var (
	// ErrInvalidConfig indicates the validator configuration is invalid.
	ErrInvalidConfig = errors.New("regopolicy: invalid configuration")

	// ErrForbiddenBuiltin indicates the policy calls a builtin outside the
	// allowed set.
	ErrForbiddenBuiltin = errors.New("regopolicy: forbidden builtin")

	// ErrUnknownDecision indicates the policy produced an unrecognized
	// decision value.
	ErrUnknownDecision = errors.New("regopolicy: unknown decision")
)

// Config configures a Validator.
type Config struct {
	// Module is Rego source. Either Module or Paths is required.
	Module string

	// Paths are policy files or directories loaded in addition to Module.
	Paths []string

	// Data is exposed to the policy under data, next to the policy
	// packages. Optional.
	Data map[string]any

	// Query selects the decision. Default: DefaultQuery.
	Query string

	// FailClosed cancels challenges whose evaluation fails. By default
	// such challenges are left unhandled.
	FailClosed bool

	// Logger for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Validator is a dispatch.ExternalValidator backed by a prepared Rego query.
type Validator struct {
	query      rego.PreparedEvalQuery
	failClosed bool
	logger     *slog.Logger
}

// NewValidator compiles the policy and prepares the decision query.
func NewValidator(ctx context.Context, cfg *Config) (*Validator, error) {
	if cfg == nil || (cfg.Module == "" && len(cfg.Paths) == 0) {
		return nil, ErrInvalidConfig
	}
	query := cfg.Query
	if query == "" {
		query = DefaultQuery
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	opts := []func(*rego.Rego){
		rego.Query(query),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
	}
	if cfg.Module != "" {
		opts = append(opts, rego.Module("pinguard.rego", cfg.Module))
	}
	if len(cfg.Paths) > 0 {
		opts = append(opts, rego.Load(cfg.Paths, nil))
	}
	if cfg.Data != nil {
		opts = append(opts, rego.Store(newStore(cfg.Data)))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := assertAllowedBuiltins(compiler); err != nil {
		return nil, err
	}

	return &Validator{
		query:      prepared,
		failClosed: cfg.FailClosed,
		logger:     logger.With("component", "rego_validator"),
	}, nil
}

// Validate implements dispatch.ExternalValidator.
func (v *Validator) Validate(ctx context.Context, ch *dispatch.Challenge) (dispatch.Disposition, bool) {
	decision, err := v.Decide(ctx, ch)
	if err != nil {
		v.logger.Warn("policy evaluation failed", "host", ch.Host, "error", err)
		if v.failClosed {
			return dispatch.Cancel, true
		}
		return dispatch.UseDefaultTrust, false
	}

	switch decision {
	case DecisionAccept:
		return dispatch.UseCustomCredential, true
	case DecisionDefault:
		return dispatch.UseDefaultTrust, true
	case DecisionReject:
		return dispatch.Cancel, true
	default:
		return dispatch.UseDefaultTrust, false
	}
}

// Decide evaluates the policy for ch and returns the raw decision. An
// undefined decision is returned as the empty string.
func (v *Validator) Decide(ctx context.Context, ch *dispatch.Challenge) (string, error) {
	results, err := v.query.Eval(ctx, rego.EvalInput(Input(ch)))
	if err != nil {
		return "", err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "", nil
	}
	decision, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("%w: %v", ErrUnknownDecision, results[0].Expressions[0].Value)
	}
	switch decision {
	case DecisionAccept, DecisionDefault, DecisionReject:
		return decision, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDecision, decision)
	}
}

// Input builds the policy input document for a challenge.
func Input(ch *dispatch.Challenge) map[string]any {
	chain := make([]any, 0, len(ch.Chain))
	for _, cert := range ch.Chain {
		if cert == nil {
			continue
		}
		chain = append(chain, certificateInput(cert))
	}
	return map[string]any{
		"host":  strings.ToLower(ch.Host),
		"port":  ch.Port,
		"chain": chain,
	}
}

func certificateInput(cert *x509.Certificate) map[string]any {
	dnsNames := make([]any, len(cert.DNSNames))
	for i, n := range cert.DNSNames {
		dnsNames[i] = n
	}
	return map[string]any{
		"subject":     cert.Subject.String(),
		"issuer":      cert.Issuer.String(),
		"serial":      cert.SerialNumber.String(),
		"dns_names":   dnsNames,
		"is_ca":       cert.IsCA,
		"not_before":  cert.NotBefore.UTC().Format(time.RFC3339),
		"not_after":   cert.NotAfter.UTC().Format(time.RFC3339),
		"spki_sha256": spkihash.Sum(cert.RawSubjectPublicKeyInfo).String(),
		"sha256":      spkihash.Sum(cert.Raw).String(),
	}
}

func assertAllowedBuiltins(compiler *ast.Compiler) error {
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; !ok {
				forbidden[name] = struct{}{}
			}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("%w: %s", ErrForbiddenBuiltin, strings.Join(names, ", "))
}
