// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jeremyhahn/go-pinguard/internal/config"
	"github.com/jeremyhahn/go-pinguard/pkg/dane"
	"github.com/jeremyhahn/go-pinguard/pkg/dispatch"
	"github.com/jeremyhahn/go-pinguard/pkg/pinning"
	"github.com/jeremyhahn/go-pinguard/pkg/regopolicy"
	"github.com/jeremyhahn/go-pinguard/pkg/report"
)

// stack is a dispatcher assembled from a configuration file together with
// the reporters and validators it owns.
type stack struct {
	dispatcher *dispatch.Dispatcher
	validators []string
	closers    []io.Closer
}

// Close flushes reporters and releases validators in reverse build order.
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildStack wires the matcher, reporters and external validators described
// by f, plus any extra policies given on the command line.
func buildStack(ctx context.Context, f *config.File, extra []pinning.Policy, logger *slog.Logger) (*stack, error) {
	if f == nil {
		f = &config.File{}
	}
	policies, err := f.PinPolicies()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	policies = append(policies, extra...)

	matcher, err := pinning.NewMatcher(&pinning.Config{Policies: policies, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	s := &stack{}
	reporter, err := s.buildReporter(f.Reporting, policies, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	external, err := s.buildExternal(ctx, f, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	s.dispatcher, err = dispatch.NewDispatcher(&dispatch.Config{
		Matcher:  matcher,
		External: external,
		Reporter: reporter,
		Logger:   logger,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return s, nil
}

// buildReporter logs every violation and, when any report URI is
// configured, delivers reports over HTTP. Only HTTP delivery is throttled.
func (s *stack) buildReporter(cfg config.Reporting, policies []pinning.Policy, logger *slog.Logger) (report.Reporter, error) {
	logReporter := report.NewLogReporter(logger)

	delivers := len(cfg.ReportURIs) > 0
	for _, p := range policies {
		if len(p.ReportURIs) > 0 {
			delivers = true
		}
	}
	if !delivers {
		return logReporter, nil
	}

	interval, err := cfg.ThrottleInterval()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	h, err := report.NewHTTPReporter(&report.HTTPConfig{URIs: cfg.ReportURIs, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	s.closers = append(s.closers, h)

	var delivery report.Reporter = h
	if interval >= 0 {
		t, err := report.NewThrottle(h, &report.ThrottleConfig{Interval: interval})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		s.closers = append(s.closers, t)
		delivery = t
	}
	return report.Multi(logReporter, delivery), nil
}

func (s *stack) buildExternal(ctx context.Context, f *config.File, logger *slog.Logger) (dispatch.ExternalValidator, error) {
	var validators []dispatch.NamedValidator

	if f.DANE.IsEnabled() {
		timeout, err := f.DANE.TimeoutDuration()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		resolver, err := dane.NewResolver(&dane.ResolverConfig{
			Server:               f.DANE.Server,
			UseTLS:               f.DANE.UseTLS,
			TLSServerName:        f.DANE.TLSServerName,
			AllowUnauthenticated: f.DANE.AllowUnauthenticated,
			Timeout:              timeout,
			Logger:               logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: dane: %w", ErrConfig, err)
		}
		v, err := dane.NewValidator(&dane.ValidatorConfig{
			Lookup:     resolver,
			FailClosed: f.DANE.FailClosed,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: dane: %w", ErrConfig, err)
		}
		validators = append(validators, dispatch.NamedValidator{Name: "dane", Validator: v})
	}

	if f.Rego != nil {
		v, err := regopolicy.NewValidator(ctx, &regopolicy.Config{
			Module:     f.Rego.Module,
			Paths:      f.Rego.Paths,
			Data:       f.Rego.Data,
			Query:      f.Rego.Query,
			FailClosed: f.Rego.FailClosed,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: rego: %w", ErrConfig, err)
		}
		validators = append(validators, dispatch.NamedValidator{Name: "rego", Validator: v})
	}

	if len(validators) == 0 {
		return nil, nil
	}
	for _, v := range validators {
		s.validators = append(s.validators, v.Name)
	}
	seq, err := dispatch.NewSequence(&dispatch.SequenceConfig{Validators: validators, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return seq, nil
}
