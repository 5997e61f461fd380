// Package services contains daemon-side business logic on top of the
// repositories. ProfileService opens local profiles from a passphrase;
// RecordService stores and serves the synced documents.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/cryptox"
	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/models"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/repomanager"
)

// deriveMasterKey is a seam so tests avoid the full argon2id cost.
var deriveMasterKey = cryptox.DeriveMasterKey

type ProfileService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
}

func NewProfileService(db *sql.DB, m repomanager.RepositoryManager, l logging.Logger) *ProfileService {
	return &ProfileService{db: db, repomanager: m, log: l.With("module", "profiles")}
}

// Open derives the master key for name from passphrase. A profile that does
// not exist yet is created with a fresh salt and verifier. A wrong
// passphrase yields common.ErrorUnauthorized. The caller owns the returned
// key and must wipe it.
func (s *ProfileService) Open(ctx context.Context, name string, passphrase []byte) (*models.Profile, []byte, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(passphrase) == 0 {
		return nil, nil, false, fmt.Errorf("%w: name and passphrase are required", common.ErrorValidation)
	}
	repo := s.repomanager.Profiles(s.db)

	p, err := repo.GetByName(ctx, name)
	switch {
	case err == nil:
		key := deriveMasterKey(passphrase, p.Salt)
		if !cryptox.CheckVerifier(key, p.Verifier) {
			common.WipeByteArray(key)
			s.log.Warn(ctx, "profile unlock rejected", "profile", name)
			return nil, nil, false, common.ErrorUnauthorized
		}
		return p, key, false, nil

	case errors.Is(err, common.ErrorNotFound):
		salt := common.GenerateRandByteArray(32)
		key := deriveMasterKey(passphrase, salt)
		p, err = repo.Create(ctx, &models.Profile{Name: name, Salt: salt, Verifier: cryptox.MakeVerifier(key)})
		if err != nil {
			common.WipeByteArray(key)
			return nil, nil, false, fmt.Errorf("error creating profile: %w", err)
		}
		s.log.Info(ctx, "profile created", "profile_id", p.ID, "profile", name)
		return p, key, true, nil

	default:
		return nil, nil, false, fmt.Errorf("error loading profile: %w", err)
	}
}

func (s *ProfileService) List(ctx context.Context) ([]models.Profile, error) {
	return s.repomanager.Profiles(s.db).List(ctx)
}

func (s *ProfileService) Get(ctx context.Context, id string) (*models.Profile, error) {
	return s.repomanager.Profiles(s.db).GetByID(ctx, id)
}
