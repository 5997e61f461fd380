// Package trust implements the trust anchor: a self-signed ECDSA P-256
// certificate per profile whose SHA-256 fingerprint devices pin during
// pairing. The private key is persisted sealed under a key derived from the
// profile master key and lives in memory only while the profile is unlocked.
package trust

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/cryptox"
	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/models"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/trustmaterial"
)

// Reset reasons reported in ResetEvent.
const (
	ReasonUndecryptable = "undecryptable"
	ReasonCorrupt       = "corrupt"
	ReasonExpired       = "expired"
	ReasonRotated       = "rotated"
)

// ResetEvent signals that the certificate changed and every fingerprint
// pinned by existing devices is stale.
type ResetEvent struct {
	ProfileID      string
	Reason         string
	OldFingerprint string
	NewFingerprint string
	At             time.Time
}

// Certificate is the public view of the current certificate.
type Certificate struct {
	Fingerprint string
	NotBefore   time.Time
	NotAfter    time.Time
	DER         []byte
}

// Seams for tests that check the plaintext key DER is wiped.
var (
	marshalKey = x509.MarshalPKCS8PrivateKey
	openKey    = cryptox.Open
)

type Options struct {
	Validity time.Duration
	// OnReset is called synchronously after a reset has been persisted.
	OnReset func(ctx context.Context, ev ResetEvent)
}

type Anchor struct {
	mu   sync.Mutex
	repo trustmaterial.Repository
	log  logging.Logger
	opts Options
	now  func() time.Time

	profileID string
	sealKey   *memguard.LockedBuffer
	priv      *ecdsa.PrivateKey
	cert      *Certificate
	tlsCert   *tls.Certificate
}

func NewAnchor(repo trustmaterial.Repository, l logging.Logger, opts Options) *Anchor {
	if opts.Validity <= 0 {
		opts.Validity = 825 * 24 * time.Hour
	}
	return &Anchor{
		repo: repo,
		log:  l.With("module", "trust"),
		opts: opts,
		now:  time.Now,
	}
}

// Bind attaches the anchor to an unlocked profile. The sealing key is
// derived from masterKey; masterKey itself is not retained.
func (a *Anchor) Bind(profileID string, masterKey []byte) error {
	key, err := cryptox.DeriveSubKey(masterKey, "trust-anchor")
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.forgetLocked()
	a.profileID = profileID
	a.sealKey = memguard.NewBufferFromBytes(key)
	return nil
}

// EnsureCertificate returns the cached certificate, else loads and decrypts
// the stored one, else generates and persists a new one. A stored key that
// cannot be decrypted or parsed is replaced and a ResetEvent is emitted.
func (a *Anchor) EnsureCertificate(ctx context.Context) (*Certificate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sealKey == nil {
		return nil, common.ErrProfileLocked
	}
	if a.cert != nil && a.now().Before(a.cert.NotAfter) {
		return a.cert, nil
	}

	m, err := a.repo.Get(ctx, a.profileID)
	if errors.Is(err, common.ErrorNotFound) {
		return a.generateLocked(ctx, nil, "")
	}
	if err != nil {
		return nil, fmt.Errorf("load trust material: %w", err)
	}

	reason, err := a.loadLocked(m)
	if err == nil {
		return a.cert, nil
	}

	a.log.Warn(ctx, "stored certificate unusable, regenerating", "reason", reason, "error", err)
	return a.generateLocked(ctx, m, reason)
}

func (a *Anchor) loadLocked(m *models.TrustMaterial) (string, error) {
	cert, err := x509.ParseCertificate(m.CertDER)
	if err != nil {
		return ReasonCorrupt, err
	}
	if !a.now().Before(cert.NotAfter) {
		return ReasonExpired, fmt.Errorf("certificate expired at %s", cert.NotAfter)
	}

	der, err := openKey(a.sealKey.Bytes(), m.SealedKey)
	if err != nil {
		return ReasonUndecryptable, err
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	common.WipeByteArray(der)
	if err != nil {
		return ReasonCorrupt, err
	}
	priv, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return ReasonCorrupt, fmt.Errorf("unexpected key type %T", parsed)
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok || !pub.Equal(&priv.PublicKey) {
		return ReasonCorrupt, errors.New("private key does not match certificate")
	}

	a.forgetKeyLocked()
	a.install(cert, m.CertDER, priv)
	return "", nil
}

// generateLocked creates a fresh key pair. prev is the material being
// replaced (nil on first use); a non-empty reason marks the change as a
// trust reset.
func (a *Anchor) generateLocked(ctx context.Context, prev *models.TrustMaterial, reason string) (*Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	now := a.now().UTC()
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("serial: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "vitalink " + a.profileID, Organization: []string{"vitalink"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(a.opts.Validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost", "vitalink.local"},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	keyDER, err := marshalKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	sealed, err := cryptox.Seal(a.sealKey.Bytes(), keyDER)
	common.WipeByteArray(keyDER)
	if err != nil {
		return nil, fmt.Errorf("seal key: %w", err)
	}

	m := &models.TrustMaterial{
		ProfileID: a.profileID,
		CertDER:   certDER,
		SealedKey: sealed,
		NotAfter:  cert.NotAfter,
		CreatedAt: now,
	}
	if prev != nil {
		m.ResetAt = prev.ResetAt
	}
	if reason != "" {
		m.ResetAt = &now
	}
	if err := a.repo.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("save trust material: %w", err)
	}

	var oldFP string
	if prev != nil {
		oldFP = cryptox.Fingerprint(prev.CertDER)
	}

	a.forgetKeyLocked()
	a.install(cert, certDER, priv)

	if reason != "" {
		ev := ResetEvent{
			ProfileID:      a.profileID,
			Reason:         reason,
			OldFingerprint: oldFP,
			NewFingerprint: a.cert.Fingerprint,
			At:             now,
		}
		a.log.Warn(ctx, "trust reset", "reason", reason, "old_fp", oldFP, "new_fp", ev.NewFingerprint)
		if a.opts.OnReset != nil {
			a.opts.OnReset(ctx, ev)
		}
	} else {
		a.log.Info(ctx, "certificate created", "fp", a.cert.Fingerprint, "not_after", cert.NotAfter)
	}

	return a.cert, nil
}

// install makes priv the live key. The plaintext DER never outlives the
// call that produced it; only the sealed copy and priv remain.
func (a *Anchor) install(cert *x509.Certificate, certDER []byte, priv *ecdsa.PrivateKey) {
	a.priv = priv
	a.cert = &Certificate{
		Fingerprint: cryptox.Fingerprint(certDER),
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
		DER:         certDER,
	}
	a.tlsCert = &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
		Leaf:        cert,
	}
}

// Fingerprint returns the lowercase hex SHA-256 of the current certificate.
func (a *Anchor) Fingerprint() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cert == nil {
		return "", common.ErrNoCertificate
	}
	return a.cert.Fingerprint, nil
}

// TLSCertificate returns the certificate for serving TLS.
func (a *Anchor) TLSCertificate() (*tls.Certificate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tlsCert == nil {
		return nil, common.ErrNoCertificate
	}
	return a.tlsCert, nil
}

// GetCertificate adapts TLSCertificate to tls.Config.GetCertificate so a
// running server picks up rotations.
func (a *Anchor) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return a.TLSCertificate()
}

// Rotate replaces the key pair unconditionally and emits a ResetEvent.
func (a *Anchor) Rotate(ctx context.Context) (*Certificate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sealKey == nil {
		return nil, common.ErrProfileLocked
	}
	prev, err := a.repo.Get(ctx, a.profileID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("load trust material: %w", err)
	}
	return a.generateLocked(ctx, prev, ReasonRotated)
}

// TrustResetAt returns the time of the last trust reset, or nil.
func (a *Anchor) TrustResetAt(ctx context.Context) (*time.Time, error) {
	a.mu.Lock()
	profileID := a.profileID
	a.mu.Unlock()

	if profileID == "" {
		return nil, common.ErrProfileLocked
	}
	m, err := a.repo.Get(ctx, profileID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.ResetAt, nil
}

// Forget destroys all key material held in memory. The anchor must be
// bound again before use.
func (a *Anchor) Forget() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.forgetLocked()
}

func (a *Anchor) forgetLocked() {
	a.forgetKeyLocked()
	if a.sealKey != nil {
		a.sealKey.Destroy()
		a.sealKey = nil
	}
	a.profileID = ""
}

func (a *Anchor) forgetKeyLocked() {
	if a.priv != nil && a.priv.D != nil {
		words := a.priv.D.Bits()
		for i := range words {
			words[i] = 0
		}
		a.priv.D.SetInt64(0)
	}
	a.priv = nil
	a.tlsCert = nil
	a.cert = nil
}
