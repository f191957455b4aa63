// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"log/slog"
	"time"
)

// DefaultValidatorTimeout bounds each external validator attempt in a
// Sequence.
const DefaultValidatorTimeout = 5 * time.Second

// NamedValidator pairs an external validator with a name used in logs.
type NamedValidator struct {
	Name      string
	Validator ExternalValidator
}

// SequenceConfig configures a Sequence.
type SequenceConfig struct {
	// Validators are tried in order. Nil validators are skipped.
	Validators []NamedValidator

	// PerValidatorTimeout is applied to each attempt.
	// Default: DefaultValidatorTimeout.
	PerValidatorTimeout time.Duration

	// Logger for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Sequence is an ExternalValidator that tries several validators in
// priority order and returns the first handled result. When every
// validator declines, the challenge is left unhandled.
type Sequence struct {
	validators []NamedValidator
	perTimeout time.Duration
	logger     *slog.Logger
}

// NewSequence creates a Sequence. At least one non-nil validator is
// required.
func NewSequence(cfg *SequenceConfig) (*Sequence, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}

	validators := make([]NamedValidator, 0, len(cfg.Validators))
	for _, v := range cfg.Validators {
		if v.Validator != nil {
			validators = append(validators, v)
		}
	}
	if len(validators) == 0 {
		return nil, ErrInvalidConfig
	}

	perTimeout := cfg.PerValidatorTimeout
	if perTimeout <= 0 {
		perTimeout = DefaultValidatorTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sequence{
		validators: validators,
		perTimeout: perTimeout,
		logger:     logger.With("component", "external_sequence"),
	}, nil
}

// Validate implements ExternalValidator.
func (s *Sequence) Validate(ctx context.Context, ch *Challenge) (Disposition, bool) {
	for _, v := range s.validators {
		if ctx.Err() != nil {
			s.logger.Debug("context done, leaving challenge unhandled", "host", ch.Host)
			return UseDefaultTrust, false
		}

		disposition, handled := s.try(ctx, v.Validator, ch)
		if handled {
			s.logger.Debug("external validator decided",
				"validator", v.Name, "host", ch.Host, "disposition", disposition)
			return disposition, true
		}
		s.logger.Debug("external validator declined", "validator", v.Name, "host", ch.Host)
	}
	return UseDefaultTrust, false
}

func (s *Sequence) try(ctx context.Context, v ExternalValidator, ch *Challenge) (Disposition, bool) {
	vctx, cancel := context.WithTimeout(ctx, s.perTimeout)
	defer cancel()
	return v.Validate(vctx, ch)
}
