// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// foreignPin matches no certificate generated by these tests.
const foreignPin = "BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB="

// testPKI is a CA and a leaf valid for 127.0.0.1, with PEM copies on disk.
type testPKI struct {
	ca        *x509.Certificate
	leaf      *x509.Certificate
	server    tls.Certificate
	caFile    string
	chainFile string
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA", Organization: []string{"Test"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	ca, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, ca, &leafKey.PublicKey, caKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	dir := t.TempDir()
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER})
	leafPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leafDER})
	caFile := filepath.Join(dir, "ca.pem")
	chainFile := filepath.Join(dir, "chain.pem")
	require.NoError(t, os.WriteFile(caFile, caPEM, 0644))
	require.NoError(t, os.WriteFile(chainFile, append(leafPEM, caPEM...), 0644))

	return &testPKI{
		ca:   ca,
		leaf: leaf,
		server: tls.Certificate{
			Certificate: [][]byte{leafDER, caDER},
			PrivateKey:  leafKey,
			Leaf:        leaf,
		},
		caFile:    caFile,
		chainFile: chainFile,
	}
}

func (p *testPKI) leafPin() string {
	sum := sha256.Sum256(p.leaf.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func (p *testPKI) caPin() string {
	sum := sha256.Sum256(p.ca.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// startTLSServer serves pki's chain and returns its 127.0.0.1 address.
func startTLSServer(t *testing.T, pki *testPKI) string {
	t.Helper()
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{pki.server}, MinVersion: tls.VersionTLS12}
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv.Listener.Addr().String()
}

// useJSONOutput redirects command output to a JSON file for the duration of
// the test and returns its path.
func useJSONOutput(t *testing.T) string {
	t.Helper()
	oldFormat, oldOutput := format, outputFile
	path := filepath.Join(t.TempDir(), "out.json")
	format, outputFile = formatJSON, path
	t.Cleanup(func() { format, outputFile = oldFormat, oldOutput })
	return path
}

// runCheckArgs runs check against target on a fresh command so flag state
// does not leak between tests. The result is zero when nothing was emitted.
func runCheckArgs(t *testing.T, target string, args ...string) (checkResult, error) {
	t.Helper()
	path := useJSONOutput(t)

	cmd := &cobra.Command{Use: "check", RunE: runCheck}
	addCheckFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))

	runErr := runCheck(cmd, []string{target})

	var result checkResult
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return result, runErr
	}
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &result))
	return result, runErr
}
