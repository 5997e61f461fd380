// Package registry keeps the set of paired devices: enrollment, bearer token
// authentication with rotation, listing and revocation. It also owns the
// cross-profile grants that scope what a device can reach.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/cryptox"
	"github.com/dmitrijs2005/vitalink/internal/dbx"
	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/models"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// DeviceInfo is what a device reports about itself while pairing.
type DeviceInfo struct {
	Name     string `json:"name"`
	Model    string `json:"model"`
	Platform string `json:"platform"`
}

// Normalize trims the fields and applies a fallback name.
func (i DeviceInfo) Normalize() DeviceInfo {
	i.Name = strings.TrimSpace(i.Name)
	i.Model = strings.TrimSpace(i.Model)
	i.Platform = strings.ToLower(strings.TrimSpace(i.Platform))
	if i.Name == "" {
		i.Name = "Unnamed device"
	}
	if len(i.Name) > 64 {
		i.Name = i.Name[:64]
	}
	return i
}

// FingerprintSource reports the fingerprint devices are expected to have
// pinned. The trust anchor implements it.
type FingerprintSource interface {
	Fingerprint() (string, error)
}

type Registry struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	trust       FingerprintSource
	log         logging.Logger
	now         func() time.Time
}

func New(db *sql.DB, m repomanager.RepositoryManager, trust FingerprintSource, l logging.Logger) *Registry {
	return &Registry{
		db:          db,
		repomanager: m,
		trust:       trust,
		log:         l.With("module", "registry"),
		now:         time.Now,
	}
}

func (r *Registry) newToken() (string, error) {
	return common.MakeRandHexString(32)
}

// Enroll inserts a device and returns it together with its first bearer
// token. Only the token hash is stored.
func (r *Registry) Enroll(ctx context.Context, profileID string, info DeviceInfo, access, fingerprint string) (*models.Device, string, error) {
	if !common.ValidAccessLevel(access) {
		return nil, "", fmt.Errorf("%w: access level %q", common.ErrorValidation, access)
	}
	token, err := r.newToken()
	if err != nil {
		return nil, "", common.ErrorInternal
	}

	info = info.Normalize()
	now := r.now().UTC()
	d := &models.Device{
		ID:          uuid.NewString(),
		ProfileID:   profileID,
		Name:        info.Name,
		Model:       info.Model,
		Platform:    info.Platform,
		TokenHash:   cryptox.HashToken(token),
		Access:      access,
		Fingerprint: cryptox.NormalizeFingerprint(fingerprint),
		PairedAt:    now,
		LastSeen:    now,
	}

	if err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return r.repomanager.Devices(tx).Create(ctx, d)
	}); err != nil {
		return nil, "", fmt.Errorf("error enrolling device: %w", err)
	}

	r.log.Info(ctx, "device enrolled", "device_id", d.ID, "profile_id", profileID, "platform", d.Platform, "access", access)
	return d, token, nil
}

// Authenticate validates a bearer token and rotates it in the same
// transaction. The returned token replaces the presented one, which is
// unusable afterwards.
//
// Errors: common.ErrorUnauthorized for unknown, revoked or already rotated
// tokens; common.ErrTrustReset when the device pinned a certificate that is
// no longer current.
func (r *Registry) Authenticate(ctx context.Context, token string) (*models.Device, string, error) {
	if token == "" {
		return nil, "", common.ErrorUnauthorized
	}
	currentFP, err := r.trust.Fingerprint()
	if err != nil {
		return nil, "", fmt.Errorf("trust anchor: %w", err)
	}

	oldHash := cryptox.HashToken(token)
	next, err := r.newToken()
	if err != nil {
		return nil, "", common.ErrorInternal
	}
	newHash := cryptox.HashToken(next)

	var device *models.Device
	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := r.repomanager.Devices(tx)

		d, err := repo.GetByTokenHash(ctx, oldHash)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrorUnauthorized
			}
			return err
		}
		if !cryptox.EqualFingerprint(d.Fingerprint, currentFP) {
			return common.ErrTrustReset
		}

		seen := r.now().UTC()
		ok, err := repo.RotateToken(ctx, d.ID, oldHash, newHash, seen)
		if err != nil {
			return err
		}
		if !ok {
			return common.ErrorUnauthorized
		}
		d.TokenHash = newHash
		d.LastSeen = seen
		device = d
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) || errors.Is(err, common.ErrTrustReset) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("error authenticating device: %w", err)
	}

	return device, next, nil
}

func (r *Registry) ListDevices(ctx context.Context, profileID string) ([]models.Device, error) {
	return r.repomanager.Devices(r.db).ListByProfile(ctx, profileID)
}

// Unpair deletes the device. Its current token stops working immediately.
func (r *Registry) Unpair(ctx context.Context, deviceID string) error {
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return r.repomanager.Devices(tx).Delete(ctx, deviceID)
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return err
		}
		return fmt.Errorf("error unpairing device: %w", err)
	}
	r.log.Info(ctx, "device unpaired", "device_id", deviceID)
	return nil
}

// UnpairForProfile deletes the device only if it belongs to profileID.
func (r *Registry) UnpairForProfile(ctx context.Context, profileID, deviceID string) error {
	d, err := r.repomanager.Devices(r.db).GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if d.ProfileID != profileID {
		return common.ErrorNotFound
	}
	return r.Unpair(ctx, deviceID)
}

func (r *Registry) DeviceCount(ctx context.Context, profileID string) (int, error) {
	return r.repomanager.Devices(r.db).CountByProfile(ctx, profileID)
}

// InactiveDevices lists devices not seen for thresholdDays. They are only
// reported, never removed.
func (r *Registry) InactiveDevices(ctx context.Context, profileID string, thresholdDays int) ([]models.Device, error) {
	if thresholdDays <= 0 {
		return nil, fmt.Errorf("%w: threshold must be positive", common.ErrorValidation)
	}
	before := r.now().UTC().Add(-time.Duration(thresholdDays) * 24 * time.Hour)
	return r.repomanager.Devices(r.db).ListInactive(ctx, profileID, before)
}
