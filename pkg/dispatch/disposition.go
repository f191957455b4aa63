// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package dispatch

import (
	"fmt"

	"github.com/jeremyhahn/go-pinguard/pkg/pinning"
)

// Disposition is the instruction returned to the TLS layer for one
// authentication challenge.
type Disposition int

const (
	// UseDefaultTrust proceeds with baseline CA trust evaluation.
	UseDefaultTrust Disposition = iota

	// UseCustomCredential accepts the presented chain as the credential.
	UseCustomCredential

	// Cancel aborts the connection.
	Cancel
)

var dispositionNames = map[Disposition]string{
	UseDefaultTrust:     "use-default-trust",
	UseCustomCredential: "use-custom-credential",
	Cancel:              "cancel",
}

// String returns the disposition name.
func (d Disposition) String() string {
	if name, ok := dispositionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("disposition(%d)", int(d))
}

// MarshalText implements encoding.TextMarshaler.
func (d Disposition) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ParseDisposition parses a disposition name.
func ParseDisposition(s string) (Disposition, error) {
	for d, name := range dispositionNames {
		if name == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDisposition, s)
}

// ForVerdict maps a matcher verdict to its disposition. Report-only
// mismatches fall back to baseline trust; malformed input and unknown
// verdicts cancel.
func ForVerdict(v pinning.Verdict) Disposition {
	switch v {
	case pinning.NoPolicy, pinning.MismatchReportOnly:
		return UseDefaultTrust
	case pinning.Matched:
		return UseCustomCredential
	default:
		return Cancel
	}
}
