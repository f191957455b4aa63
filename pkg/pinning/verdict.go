// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package pinning

import "fmt"

// Verdict is the outcome of evaluating candidate fingerprints against the
// pinning configuration.
type Verdict int

const (
	// Unevaluated means the matcher was not consulted, for example because
	// an external validator decided the challenge.
	Unevaluated Verdict = iota

	// NoPolicy means no policy applies to the host.
	NoPolicy

	// Matched means at least one candidate equals a pinned fingerprint.
	Matched

	// MismatchEnforced means no candidate matched an enforced policy.
	MismatchEnforced

	// MismatchReportOnly means no candidate matched a report-only policy.
	MismatchReportOnly

	// Malformed means a policy applies but candidates could not be
	// computed. Always treated as an enforced failure.
	Malformed
)

var verdictNames = map[Verdict]string{
	Unevaluated:        "unevaluated",
	NoPolicy:           "no-policy",
	Matched:            "matched",
	MismatchEnforced:   "mismatch-enforced",
	MismatchReportOnly: "mismatch-report-only",
	Malformed:          "malformed",
}

// String returns the kebab-case name of the verdict.
func (v Verdict) String() string {
	if name, ok := verdictNames[v]; ok {
		return name
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Verdict) UnmarshalText(text []byte) error {
	for verdict, name := range verdictNames {
		if name == string(text) {
			*v = verdict
			return nil
		}
	}
	return fmt.Errorf("pinning: unknown verdict %q", text)
}

// Violation reports whether the verdict must be sent to the observability
// sink.
func (v Verdict) Violation() bool {
	return v == MismatchEnforced || v == MismatchReportOnly || v == Malformed
}

// Err maps the verdict to the error taxonomy. Verdicts that do not describe
// a violation return nil.
func (v Verdict) Err() error {
	switch v {
	case MismatchEnforced:
		return ErrPinMismatch
	case MismatchReportOnly:
		return ErrPinMismatchReported
	case Malformed:
		return ErrMalformedChain
	default:
		return nil
	}
}
