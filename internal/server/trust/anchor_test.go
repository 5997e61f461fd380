package trust

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/cryptox"
	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/models"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	m       map[string]*models.TrustMaterial
	getErr  error
	saveErr error
	saves   int
}

func newMemRepo() *memRepo { return &memRepo{m: map[string]*models.TrustMaterial{}} }

func (r *memRepo) Get(_ context.Context, id string) (*models.TrustMaterial, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	m, ok := r.m[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *memRepo) Save(_ context.Context, m *models.TrustMaterial) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	cp := *m
	r.m[m.ProfileID] = &cp
	return nil
}

func master(b byte) []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = b
	}
	return k
}

func newAnchor(t *testing.T, repo *memRepo, events *[]ResetEvent) *Anchor {
	t.Helper()
	a := NewAnchor(repo, logging.Nop(), Options{
		Validity: 24 * time.Hour,
		OnReset: func(_ context.Context, ev ResetEvent) {
			if events != nil {
				*events = append(*events, ev)
			}
		},
	})
	t.Cleanup(a.Forget)
	return a
}

func TestEnsureCertificate_RequiresBind(t *testing.T) {
	a := newAnchor(t, newMemRepo(), nil)
	_, err := a.EnsureCertificate(context.Background())
	require.ErrorIs(t, err, common.ErrProfileLocked)

	_, err = a.Fingerprint()
	require.ErrorIs(t, err, common.ErrNoCertificate)
	_, err = a.TLSCertificate()
	require.ErrorIs(t, err, common.ErrNoCertificate)
}

func TestEnsureCertificate_GeneratesOnceAndReloads(t *testing.T) {
	repo := newMemRepo()
	var events []ResetEvent
	a := newAnchor(t, repo, &events)
	ctx := context.Background()

	require.NoError(t, a.Bind("p1", master(1)))
	c1, err := a.EnsureCertificate(ctx)
	require.NoError(t, err)
	require.Len(t, c1.Fingerprint, 64)
	require.Equal(t, cryptox.Fingerprint(c1.DER), c1.Fingerprint)
	require.Empty(t, events, "first creation is not a reset")
	require.Equal(t, 1, repo.saves)

	c2, err := a.EnsureCertificate(ctx)
	require.NoError(t, err)
	require.Equal(t, c1.Fingerprint, c2.Fingerprint)
	require.Equal(t, 1, repo.saves, "cached certificate is reused")

	a.Forget()
	_, err = a.Fingerprint()
	require.ErrorIs(t, err, common.ErrNoCertificate)

	require.NoError(t, a.Bind("p1", master(1)))
	c3, err := a.EnsureCertificate(ctx)
	require.NoError(t, err)
	require.Equal(t, c1.Fingerprint, c3.Fingerprint, "same master key decrypts the stored key")
	require.Empty(t, events)

	tc, err := a.TLSCertificate()
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(tc.Certificate[0])
	require.NoError(t, err)
	require.Equal(t, c1.Fingerprint, cryptox.Fingerprint(leaf.Raw))

	viaHello, err := a.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	require.Same(t, tc, viaHello)
}

func TestEnsureCertificate_CorruptedKeyTriggersReset(t *testing.T) {
	repo := newMemRepo()
	var events []ResetEvent
	a := newAnchor(t, repo, &events)
	ctx := context.Background()

	require.NoError(t, a.Bind("p1", master(1)))
	c1, err := a.EnsureCertificate(ctx)
	require.NoError(t, err)
	a.Forget()

	repo.m["p1"].SealedKey[len(repo.m["p1"].SealedKey)-1] ^= 0xff

	require.NoError(t, a.Bind("p1", master(1)))
	c2, err := a.EnsureCertificate(ctx)
	require.NoError(t, err)
	require.NotEqual(t, c1.Fingerprint, c2.Fingerprint)

	require.Len(t, events, 1)
	require.Equal(t, ReasonUndecryptable, events[0].Reason)
	require.Equal(t, c1.Fingerprint, events[0].OldFingerprint)
	require.Equal(t, c2.Fingerprint, events[0].NewFingerprint)

	at, err := a.TrustResetAt(ctx)
	require.NoError(t, err)
	require.NotNil(t, at)
}

func TestEnsureCertificate_WrongMasterKeyTriggersReset(t *testing.T) {
	repo := newMemRepo()
	var events []ResetEvent
	a := newAnchor(t, repo, &events)
	ctx := context.Background()

	require.NoError(t, a.Bind("p1", master(1)))
	_, err := a.EnsureCertificate(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Bind("p1", master(2)))
	_, err = a.EnsureCertificate(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestEnsureCertificate_CorruptCertificate(t *testing.T) {
	repo := newMemRepo()
	var events []ResetEvent
	a := newAnchor(t, repo, &events)
	ctx := context.Background()

	repo.m["p1"] = &models.TrustMaterial{ProfileID: "p1", CertDER: []byte("garbage"), SealedKey: []byte("x")}

	require.NoError(t, a.Bind("p1", master(1)))
	_, err := a.EnsureCertificate(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, ReasonCorrupt, events[0].Reason)
}

func TestEnsureCertificate_ExpiredIsReplaced(t *testing.T) {
	repo := newMemRepo()
	var events []ResetEvent
	a := newAnchor(t, repo, &events)
	ctx := context.Background()

	require.NoError(t, a.Bind("p1", master(1)))
	c1, err := a.EnsureCertificate(ctx)
	require.NoError(t, err)

	a.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	c2, err := a.EnsureCertificate(ctx)
	require.NoError(t, err)
	require.NotEqual(t, c1.Fingerprint, c2.Fingerprint)
	require.Len(t, events, 1)
	require.Equal(t, ReasonExpired, events[0].Reason)
}

func TestRotate(t *testing.T) {
	repo := newMemRepo()
	var events []ResetEvent
	a := newAnchor(t, repo, &events)
	ctx := context.Background()

	_, err := a.Rotate(ctx)
	require.ErrorIs(t, err, common.ErrProfileLocked)

	require.NoError(t, a.Bind("p1", master(1)))
	c1, err := a.EnsureCertificate(ctx)
	require.NoError(t, err)

	c2, err := a.Rotate(ctx)
	require.NoError(t, err)
	require.NotEqual(t, c1.Fingerprint, c2.Fingerprint)
	require.Len(t, events, 1)
	require.Equal(t, ReasonRotated, events[0].Reason)

	fp, err := a.Fingerprint()
	require.NoError(t, err)
	require.Equal(t, c2.Fingerprint, fp)
}

func TestEnsureCertificate_RepoErrors(t *testing.T) {
	repo := newMemRepo()
	a := newAnchor(t, repo, nil)
	ctx := context.Background()
	require.NoError(t, a.Bind("p1", master(1)))

	repo.getErr = errors.New("db down")
	_, err := a.EnsureCertificate(ctx)
	require.ErrorContains(t, err, "db down")

	repo.getErr = nil
	repo.saveErr = errors.New("disk full")
	_, err = a.EnsureCertificate(ctx)
	require.ErrorContains(t, err, "disk full")
	_, err = a.Fingerprint()
	require.ErrorIs(t, err, common.ErrNoCertificate, "nothing is installed when persisting fails")
}

func TestTrustResetAt_Locked(t *testing.T) {
	a := newAnchor(t, newMemRepo(), nil)
	_, err := a.TrustResetAt(context.Background())
	require.ErrorIs(t, err, common.ErrProfileLocked)
}

func TestPlaintextKeyIsWiped(t *testing.T) {
	var generated, loaded []byte
	origMarshal, origOpen := marshalKey, openKey
	t.Cleanup(func() { marshalKey, openKey = origMarshal, origOpen })
	marshalKey = func(k any) ([]byte, error) {
		der, err := origMarshal(k)
		generated = der
		return der, err
	}
	openKey = func(key, sealed []byte) ([]byte, error) {
		der, err := origOpen(key, sealed)
		loaded = der
		return der, err
	}

	repo := newMemRepo()
	a := newAnchor(t, repo, nil)
	require.NoError(t, a.Bind("p1", master(1)))
	_, err := a.EnsureCertificate(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, generated)
	require.Equal(t, make([]byte, len(generated)), generated, "generated key DER is zeroed once sealed")

	b := newAnchor(t, repo, nil)
	require.NoError(t, b.Bind("p1", master(1)))
	_, err = b.EnsureCertificate(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, loaded)
	require.Equal(t, make([]byte, len(loaded)), loaded, "decrypted key DER is zeroed once parsed")

	_, err = b.TLSCertificate()
	require.NoError(t, err, "the parsed key stays usable")
}
