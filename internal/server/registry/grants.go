package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/models"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/repomanager"
)

// GrantService manages profile-to-profile sharing.
type GrantService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
	now         func() time.Time
}

func NewGrantService(db *sql.DB, m repomanager.RepositoryManager, l logging.Logger) *GrantService {
	return &GrantService{db: db, repomanager: m, log: l.With("module", "grants"), now: time.Now}
}

// Grant lets granteeName's profile see granterID's data at access.
func (s *GrantService) Grant(ctx context.Context, granterID, granteeName, access string) (*models.Grant, error) {
	if !common.ValidAccessLevel(access) {
		return nil, fmt.Errorf("%w: access level %q", common.ErrorValidation, access)
	}
	grantee, err := s.repomanager.Profiles(s.db).GetByName(ctx, granteeName)
	if err != nil {
		return nil, fmt.Errorf("grantee %q: %w", granteeName, err)
	}
	if grantee.ID == granterID {
		return nil, fmt.Errorf("%w: cannot grant access to own profile", common.ErrorValidation)
	}

	g := &models.Grant{GranterID: granterID, GranteeID: grantee.ID, Access: access, GrantedAt: s.now().UTC()}
	if err := s.repomanager.Grants(s.db).Upsert(ctx, g); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "grant saved", "granter", granterID, "grantee", grantee.ID, "access", access)
	return g, nil
}

func (s *GrantService) Revoke(ctx context.Context, granterID, granteeName string) error {
	grantee, err := s.repomanager.Profiles(s.db).GetByName(ctx, granteeName)
	if err != nil {
		return fmt.Errorf("grantee %q: %w", granteeName, err)
	}
	if err := s.repomanager.Grants(s.db).Delete(ctx, granterID, grantee.ID); err != nil {
		return err
	}
	s.log.Info(ctx, "grant revoked", "granter", granterID, "grantee", grantee.ID)
	return nil
}

// Given lists grants made by profileID.
func (s *GrantService) Given(ctx context.Context, profileID string) ([]models.Grant, error) {
	return s.repomanager.Grants(s.db).ListByGranter(ctx, profileID)
}

// Received lists grants other profiles made to profileID.
func (s *GrantService) Received(ctx context.Context, profileID string) ([]models.Grant, error) {
	return s.repomanager.Grants(s.db).ListByGrantee(ctx, profileID)
}

// Scope returns every profile a device may reach and the access it has
// there. The device's own profile is reachable at the device's level; a
// granting profile is reachable at the lower of the device level and the
// grant level.
func (s *GrantService) Scope(ctx context.Context, d *models.Device) (map[string]string, error) {
	scope := map[string]string{d.ProfileID: d.Access}

	received, err := s.Received(ctx, d.ProfileID)
	if err != nil {
		return nil, err
	}
	for _, g := range received {
		scope[g.GranterID] = common.LowerAccess(d.Access, g.Access)
	}
	return scope, nil
}
