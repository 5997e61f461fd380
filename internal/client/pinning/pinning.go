// Package pinning builds HTTP clients that trust exactly one certificate,
// identified by its SHA-256 fingerprint, instead of the system roots.
package pinning

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/cryptox"
)

// ErrFingerprintMismatch means the server presented a different certificate
// than the pinned one. The device has to pair again.
var ErrFingerprintMismatch = errors.New("certificate fingerprint mismatch")

// TLSConfig accepts only a leaf certificate whose fingerprint equals
// fingerprint. Chain and host name checks are replaced by the pin.
func TLSConfig(fingerprint string) *tls.Config {
	want := cryptox.NormalizeFingerprint(fingerprint)
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		// the pin below is the only verification
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("%w: no certificate presented", ErrFingerprintMismatch)
			}
			if got := cryptox.Fingerprint(rawCerts[0]); !cryptox.EqualFingerprint(got, want) {
				return fmt.Errorf("%w: got %s", ErrFingerprintMismatch, cryptox.FormatFingerprint(got))
			}
			return nil
		},
	}
}

// NewClient returns an http.Client pinned to fingerprint.
func NewClient(fingerprint string) *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig:     TLSConfig(fingerprint),
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
