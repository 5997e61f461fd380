// Package profile ties the unlock/lock cycle of a local profile to the rest
// of the daemon: key material, the trust anchor, pairing and the servers.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/models"
	"github.com/dmitrijs2005/vitalink/internal/server/trust"
	"go.uber.org/atomic"
)

// Opener verifies or creates a profile and returns its master key.
type Opener interface {
	Open(ctx context.Context, name string, passphrase []byte) (*models.Profile, []byte, bool, error)
}

// Anchor is the part of trust.Anchor the manager drives.
type Anchor interface {
	Bind(profileID string, masterKey []byte) error
	EnsureCertificate(ctx context.Context) (*trust.Certificate, error)
	Rotate(ctx context.Context) (*trust.Certificate, error)
	Forget()
}

// Pairing is activated for the unlocked profile and cancelled on lock.
type Pairing interface {
	Activate(profileID string)
	Deactivate(ctx context.Context)
}

// Servers is the supervisor surface used on unlock and lock. Seal stops
// every server and refuses starts until Unseal.
type Servers interface {
	Start(ctx context.Context, name string) error
	Seal(ctx context.Context) error
	Unseal(ctx context.Context) error
}

type Options struct {
	// AutoStart lists servers started after a successful unlock.
	AutoStart []string
}

// Active describes the unlocked profile.
type Active struct {
	ID          string
	Name        string
	Fingerprint string
	UnlockedAt  time.Time
}

// UnlockResult is returned by Unlock.
type UnlockResult struct {
	Active
	Created bool
	// Started lists auto-started servers; StartErrors those that failed.
	Started     []string
	StartErrors map[string]error
}

type Manager struct {
	opener  Opener
	anchor  Anchor
	pairing Pairing
	servers Servers
	opts    Options
	log     logging.Logger

	// mu serializes Unlock, Lock and rotation; active is read without it
	// so status checks never wait on a lock in progress.
	mu     sync.Mutex
	active atomic.Pointer[Active]
	now    func() time.Time
}

func NewManager(opener Opener, anchor Anchor, p Pairing, servers Servers, l logging.Logger, opts Options) *Manager {
	return &Manager{
		opener:  opener,
		anchor:  anchor,
		pairing: p,
		servers: servers,
		opts:    opts,
		log:     l.With("module", "profile"),
		now:     time.Now,
	}
}

// Unlock opens the named profile, creating it on first use, and readies the
// trust anchor. The master key is handed to the anchor, which keeps only a
// derived sealing key, and is wiped before returning. Auto-start failures
// are reported in the result but do not fail the unlock.
func (m *Manager) Unlock(ctx context.Context, name string, passphrase []byte) (*UnlockResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active.Load() != nil {
		return nil, common.ErrProfileUnlocked
	}

	p, key, created, err := m.opener.Open(ctx, name, passphrase)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	if err := m.anchor.Bind(p.ID, key); err != nil {
		return nil, fmt.Errorf("error binding trust anchor: %w", err)
	}
	cert, err := m.anchor.EnsureCertificate(ctx)
	if err != nil {
		m.anchor.Forget()
		return nil, fmt.Errorf("error preparing certificate: %w", err)
	}

	if err := m.servers.Unseal(ctx); err != nil {
		m.anchor.Forget()
		return nil, fmt.Errorf("error enabling servers: %w", err)
	}

	active := &Active{ID: p.ID, Name: p.Name, Fingerprint: cert.Fingerprint, UnlockedAt: m.now().UTC()}
	m.active.Store(active)
	m.pairing.Activate(p.ID)

	res := &UnlockResult{Active: *active, Created: created}
	for _, name := range m.opts.AutoStart {
		if err := m.servers.Start(ctx, name); err != nil && !errors.Is(err, common.ErrServerRunning) {
			if res.StartErrors == nil {
				res.StartErrors = map[string]error{}
			}
			res.StartErrors[name] = err
			m.log.Warn(ctx, "auto-start failed", "server", name, "error", err)
			continue
		}
		res.Started = append(res.Started, name)
	}

	m.log.Info(ctx, "profile unlocked", "profile_id", p.ID, "created", created, "started", res.Started)
	return res, nil
}

// Lock cancels pairing, stops every server and destroys key material. It
// returns once no listener remains. The servers are sealed rather than just
// stopped, so a start racing with Lock is refused.
func (m *Manager) Lock(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := m.active.Load()
	if active == nil {
		return common.ErrProfileLocked
	}

	m.pairing.Deactivate(ctx)
	m.active.Store(nil)
	if err := m.servers.Seal(ctx); err != nil {
		m.log.Error(ctx, "stopping servers on lock failed", "error", err)
	}
	m.anchor.Forget()

	m.log.Info(ctx, "profile locked", "profile_id", active.ID)
	return nil
}

// RotateCertificate replaces the certificate of the unlocked profile. Every
// paired device has to re-pair afterwards.
func (m *Manager) RotateCertificate(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.active.Load()
	if cur == nil {
		return "", common.ErrProfileLocked
	}
	cert, err := m.anchor.Rotate(ctx)
	if err != nil {
		return "", err
	}
	next := *cur
	next.Fingerprint = cert.Fingerprint
	m.active.Store(&next)
	return cert.Fingerprint, nil
}

// Active returns the unlocked profile, or false when locked.
func (m *Manager) Active() (Active, bool) {
	a := m.active.Load()
	if a == nil {
		return Active{}, false
	}
	return *a, true
}
