// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jeremyhahn/go-pinguard/pkg/pinning"
	"github.com/jeremyhahn/go-pinguard/pkg/report"
	"github.com/jeremyhahn/go-pinguard/pkg/spkihash"
)

// testChain holds a CA-signed leaf and its issuer.
type testChain struct {
	leaf *x509.Certificate
	ca   *x509.Certificate
}

func (c testChain) certs() []*x509.Certificate {
	return []*x509.Certificate{c.leaf, c.ca}
}

func pinOf(cert *x509.Certificate) spkihash.Hash {
	return spkihash.Hash(sha256.Sum256(cert.RawSubjectPublicKeyInfo))
}

func generateChain(t *testing.T, host string) testChain {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	ca, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, ca, &leafKey.PublicKey, caKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	return testChain{leaf: leaf, ca: ca}
}

type captured struct {
	mu      sync.Mutex
	reports []*report.Report
}

func (c *captured) Report(_ context.Context, r *report.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
}

func (c *captured) all() []*report.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*report.Report(nil), c.reports...)
}

func newDispatcher(t *testing.T, cfg *Config, policies ...pinning.Policy) (*Dispatcher, *captured) {
	t.Helper()
	m, err := pinning.NewMatcher(&pinning.Config{Policies: policies})
	require.NoError(t, err)
	rec := &captured{}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Matcher = m
	if cfg.Reporter == nil {
		cfg.Reporter = rec
	}
	d, err := NewDispatcher(cfg)
	require.NoError(t, err)
	return d, rec
}

var otherPin = spkihash.Sum([]byte("unrelated key"))

func TestNewDispatcher_InvalidConfig(t *testing.T) {
	d, err := NewDispatcher(nil)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	d, err = NewDispatcher(&Config{})
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDispatch_NoPolicy(t *testing.T) {
	chain := generateChain(t, "unpinned.example.org")
	d, rec := newDispatcher(t, nil, pinning.Policy{Host: "example.com", Enforce: true, Pins: []spkihash.Hash{otherPin}})

	dec := d.Evaluate(context.Background(), "unpinned.example.org", 443, chain.certs())
	assert.Equal(t, UseDefaultTrust, dec.Disposition)
	assert.Equal(t, pinning.NoPolicy, dec.Verdict)
	assert.Empty(t, dec.Computed)
	assert.Empty(t, dec.PolicyHost)
	assert.NoError(t, dec.Cause())
	assert.Equal(t, []State{StateReceived, StateLocallyEvaluated, StateDecided}, dec.States)
	assert.Empty(t, rec.all())
}

func TestDispatch_MatchedLeaf(t *testing.T) {
	chain := generateChain(t, "example.com")
	d, rec := newDispatcher(t, nil, pinning.Policy{
		Host: "example.com", Enforce: true, Pins: []spkihash.Hash{pinOf(chain.leaf), otherPin},
	})

	dec := d.Evaluate(context.Background(), "example.com", 443, chain.certs())
	assert.Equal(t, UseCustomCredential, dec.Disposition)
	assert.Equal(t, pinning.Matched, dec.Verdict)
	assert.Equal(t, []spkihash.Hash{pinOf(chain.leaf), pinOf(chain.ca)}, dec.Computed)
	assert.Empty(t, rec.all())
}

func TestDispatch_MatchedIssuer(t *testing.T) {
	chain := generateChain(t, "example.com")
	d, _ := newDispatcher(t, nil, pinning.Policy{
		Host: "example.com", Enforce: true, Pins: []spkihash.Hash{otherPin, pinOf(chain.ca)},
	})

	dec := d.Evaluate(context.Background(), "example.com", 443, chain.certs())
	assert.Equal(t, UseCustomCredential, dec.Disposition)
}

func TestDispatch_MismatchEnforced(t *testing.T) {
	chain := generateChain(t, "example.com")
	d, rec := newDispatcher(t, nil, pinning.Policy{
		Host: "example.com", Enforce: true, Pins: []spkihash.Hash{otherPin},
		ReportURIs: []string{"https://collector.example/report"},
	})

	dec := d.Evaluate(context.Background(), "example.com", 8443, chain.certs())
	assert.Equal(t, Cancel, dec.Disposition)
	assert.Equal(t, pinning.MismatchEnforced, dec.Verdict)
	assert.ErrorIs(t, dec.Cause(), pinning.ErrPinMismatch)

	reports := rec.all()
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, "example.com", r.Host)
	assert.Equal(t, 8443, r.Port)
	assert.Equal(t, "example.com", r.NotedHost)
	assert.True(t, r.Enforced)
	assert.Equal(t, pinning.MismatchEnforced, r.Verdict)
	assert.Equal(t, report.KnownPins([]spkihash.Hash{otherPin}), r.KnownPins)
	assert.Equal(t, []string{pinOf(chain.leaf).String(), pinOf(chain.ca).String()}, r.ComputedPins)
	assert.Len(t, r.ServedChain, 2)
	assert.Equal(t, []string{"https://collector.example/report"}, r.ReportURIs)
	assert.False(t, r.Time.IsZero())
}

func TestDispatch_MismatchReportOnly(t *testing.T) {
	chain := generateChain(t, "example.com")
	d, rec := newDispatcher(t, nil, pinning.Policy{
		Host: "example.com", Enforce: false, Pins: []spkihash.Hash{otherPin},
	})

	dec := d.Evaluate(context.Background(), "example.com", 443, chain.certs())
	assert.Equal(t, UseDefaultTrust, dec.Disposition)
	assert.Equal(t, pinning.MismatchReportOnly, dec.Verdict)
	assert.NoError(t, dec.Cause())

	reports := rec.all()
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Enforced)
	assert.Equal(t, pinning.MismatchReportOnly, reports[0].Verdict)
}

func TestDispatch_ExtractionFailureIsMalformed(t *testing.T) {
	chain := generateChain(t, "example.com")
	failing := ExtractorFunc(func(*x509.Certificate) (spkihash.PublicKeyInfo, error) {
		return spkihash.PublicKeyInfo{}, spkihash.ErrExtractionFailed
	})

	// Report-only policies still cancel on malformed input.
	d, rec := newDispatcher(t, &Config{Extractor: failing}, pinning.Policy{
		Host: "example.com", Enforce: false, Pins: []spkihash.Hash{pinOf(chain.leaf)},
	})

	dec := d.Evaluate(context.Background(), "example.com", 443, chain.certs())
	assert.Equal(t, Cancel, dec.Disposition)
	assert.Equal(t, pinning.Malformed, dec.Verdict)
	assert.Empty(t, dec.Computed)
	assert.ErrorIs(t, dec.Err, spkihash.ErrExtractionFailed)
	assert.ErrorIs(t, dec.Cause(), pinning.ErrMalformedChain)
	assert.ErrorIs(t, dec.Cause(), spkihash.ErrExtractionFailed)

	reports := rec.all()
	require.Len(t, reports, 1)
	assert.Equal(t, pinning.Malformed, reports[0].Verdict)
	assert.NotEmpty(t, reports[0].Error)
}

func TestDispatch_UnsupportedAlgorithmIsMalformed(t *testing.T) {
	chain := generateChain(t, "example.com")
	unsupported := ExtractorFunc(func(*x509.Certificate) (spkihash.PublicKeyInfo, error) {
		return spkihash.PublicKeyInfo{Algorithm: "dsa-1024", RawKey: []byte{1}}, nil
	})
	d, _ := newDispatcher(t, &Config{Extractor: unsupported}, pinning.Policy{
		Host: "example.com", Enforce: true, Pins: []spkihash.Hash{pinOf(chain.leaf)},
	})

	dec := d.Evaluate(context.Background(), "example.com", 443, chain.certs())
	assert.Equal(t, Cancel, dec.Disposition)
	assert.Equal(t, pinning.Malformed, dec.Verdict)
	assert.ErrorIs(t, dec.Err, spkihash.ErrUnsupportedAlgorithm)
}

func TestDispatch_EmptyChainIsMalformed(t *testing.T) {
	d, rec := newDispatcher(t, nil, pinning.Policy{Host: "example.com", Enforce: true, Pins: []spkihash.Hash{otherPin}})

	dec := d.Evaluate(context.Background(), "example.com", 443, nil)
	assert.Equal(t, Cancel, dec.Disposition)
	assert.Equal(t, pinning.Malformed, dec.Verdict)
	assert.ErrorIs(t, dec.Err, pinning.ErrMalformedChain)
	assert.Len(t, rec.all(), 1)
}

func TestDispatch_NilChallenge(t *testing.T) {
	d, _ := newDispatcher(t, nil, pinning.Policy{Host: "example.com", Pins: []spkihash.Hash{otherPin}})

	dec := d.Dispatch(context.Background(), nil)
	assert.Equal(t, Cancel, dec.Disposition)
	assert.ErrorIs(t, dec.Err, ErrNilChallenge)
}

func TestDispatch_SubdomainPolicy(t *testing.T) {
	chain := generateChain(t, "api.example.com")
	d, rec := newDispatcher(t, nil, pinning.Policy{
		Host: "example.com", IncludeSubdomains: true, Enforce: true, Pins: []spkihash.Hash{otherPin},
	})

	dec := d.Evaluate(context.Background(), "api.example.com", 443, chain.certs())
	assert.Equal(t, Cancel, dec.Disposition)
	assert.Equal(t, "example.com", dec.PolicyHost)

	reports := rec.all()
	require.Len(t, reports, 1)
	assert.Equal(t, "api.example.com", reports[0].Host)
	assert.Equal(t, "example.com", reports[0].NotedHost)
	assert.True(t, reports[0].IncludeSubdomains)
}

func TestDispatch_CertificateMode(t *testing.T) {
	chain := generateChain(t, "example.com")
	d, _ := newDispatcher(t, nil, pinning.Policy{
		Host: "example.com", Enforce: true, Mode: pinning.ModeCertificate,
		Pins: []spkihash.Hash{spkihash.Sum(chain.leaf.Raw)},
	})

	dec := d.Evaluate(context.Background(), "example.com", 443, chain.certs())
	assert.Equal(t, UseCustomCredential, dec.Disposition)
}

func TestDispatch_ExternalHandled(t *testing.T) {
	chain := generateChain(t, "example.com")
	var extracted atomic.Int32
	extractor := ExtractorFunc(func(cert *x509.Certificate) (spkihash.PublicKeyInfo, error) {
		extracted.Add(1)
		return spkihash.Extract(cert)
	})

	for _, want := range []Disposition{UseDefaultTrust, UseCustomCredential, Cancel} {
		external := ExternalValidatorFunc(func(context.Context, *Challenge) (Disposition, bool) {
			return want, true
		})
		d, rec := newDispatcher(t, &Config{External: external, Extractor: extractor}, pinning.Policy{
			Host: "example.com", Enforce: true, Pins: []spkihash.Hash{otherPin},
		})

		dec := d.Evaluate(context.Background(), "example.com", 443, chain.certs())
		assert.Equal(t, want, dec.Disposition)
		assert.True(t, dec.External)
		assert.Equal(t, pinning.Unevaluated, dec.Verdict)
		assert.Equal(t, []State{StateReceived, StateDelegatedExternally, StateExternallyHandled, StateDecided}, dec.States)
		assert.Empty(t, rec.all())
		if want == Cancel {
			assert.ErrorIs(t, dec.Cause(), ErrExternallyRejected)
		}
	}
	assert.Zero(t, extracted.Load())
}

func TestDispatch_ExternalUnhandledFallsThrough(t *testing.T) {
	chain := generateChain(t, "example.com")
	var seen *Challenge
	external := ExternalValidatorFunc(func(_ context.Context, ch *Challenge) (Disposition, bool) {
		seen = ch
		return Cancel, false
	})
	d, _ := newDispatcher(t, &Config{External: external}, pinning.Policy{
		Host: "example.com", Enforce: true, Pins: []spkihash.Hash{pinOf(chain.leaf)},
	})

	dec := d.Evaluate(context.Background(), "example.com", 443, chain.certs())
	require.NotNil(t, seen)
	assert.Equal(t, "example.com", seen.Host)
	assert.False(t, dec.External)
	assert.Equal(t, UseCustomCredential, dec.Disposition)
	assert.Equal(t, []State{
		StateReceived, StateDelegatedExternally, StateExternallyUnhandled, StateLocallyEvaluated, StateDecided,
	}, dec.States)
}

func TestDispatch_OpenWeatherMapScenario(t *testing.T) {
	pins := []spkihash.Hash{
		spkihash.MustParseHash("axmGTWYycVN5oCjh3GJrxWVndLSZjypDO6evrHMwbXg="),
		spkihash.MustParseHash("BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB="),
	}
	d, rec := newDispatcher(t, nil, pinning.Policy{
		Host: "api.openweathermap.org", Enforce: true, IncludeSubdomains: true, Pins: pins,
	})

	// A freshly generated key cannot hash to either configured pin.
	chain := generateChain(t, "api.openweathermap.org")
	dec := d.Evaluate(context.Background(), "api.openweathermap.org", 443, chain.certs())
	assert.Equal(t, Cancel, dec.Disposition)
	assert.Equal(t, pinning.MismatchEnforced, dec.Verdict)
	assert.Len(t, rec.all(), 1)

	dec = d.Evaluate(context.Background(), "tile.api.openweathermap.org", 443, chain.certs())
	assert.Equal(t, Cancel, dec.Disposition)

	dec = d.Evaluate(context.Background(), "openweathermap.org", 443, chain.certs())
	assert.Equal(t, UseDefaultTrust, dec.Disposition)
	assert.Equal(t, pinning.NoPolicy, dec.Verdict)
}

func TestDispatch_Concurrent(t *testing.T) {
	good := generateChain(t, "example.com")
	bad := generateChain(t, "example.com")
	d, rec := newDispatcher(t, nil, pinning.Policy{
		Host: "example.com", Enforce: true, Pins: []spkihash.Hash{pinOf(good.leaf)},
	})

	var g errgroup.Group
	for i := 0; i < 64; i++ {
		chain, want := good, UseCustomCredential
		if i%2 == 1 {
			chain, want = bad, Cancel
		}
		g.Go(func() error {
			dec := d.Evaluate(context.Background(), "example.com", 443, chain.certs())
			if dec.Disposition != want {
				return errors.New("unexpected disposition " + dec.Disposition.String())
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, rec.all(), 32)
}

func TestDispatch_DefaultReporterLogs(t *testing.T) {
	m, err := pinning.NewMatcher(&pinning.Config{Policies: []pinning.Policy{
		{Host: "example.com", Enforce: true, Pins: []spkihash.Hash{otherPin}},
	}})
	require.NoError(t, err)
	d, err := NewDispatcher(&Config{Matcher: m})
	require.NoError(t, err)
	assert.Same(t, m, d.Matcher())

	dec := d.Evaluate(context.Background(), "example.com", 443, nil)
	assert.Equal(t, Cancel, dec.Disposition)
}
