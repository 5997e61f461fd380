package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/dbx"
	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/models"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	DefaultPullLimit = 500
	MaxPullLimit     = 5000
	MaxPushBatch     = 500
)

var collectionName = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)

// ValidCollection reports whether name can be used as a collection.
func ValidCollection(name string) bool {
	return collectionName.MatchString(name)
}

// RecordInput is one document pushed by a device. An empty ID means a new
// document.
type RecordInput struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
	Deleted bool            `json:"deleted"`
}

type RecordService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
	now         func() time.Time
}

func NewRecordService(db *sql.DB, m repomanager.RepositoryManager, l logging.Logger) *RecordService {
	return &RecordService{db: db, repomanager: m, log: l.With("module", "records"), now: time.Now}
}

// Pull returns the profile's records in collection changed after version
// since, oldest first.
func (s *RecordService) Pull(ctx context.Context, profileID, collection string, since int64, limit int) ([]models.Record, error) {
	if !ValidCollection(collection) {
		return nil, fmt.Errorf("%w: collection %q", common.ErrorValidation, collection)
	}
	if since < 0 {
		return nil, fmt.Errorf("%w: since must not be negative", common.ErrorValidation)
	}
	if limit <= 0 {
		limit = DefaultPullLimit
	}
	if limit > MaxPullLimit {
		limit = MaxPullLimit
	}
	return s.repomanager.Records(s.db).ListSince(ctx, profileID, collection, since, limit)
}

// Push stores docs in one transaction. Every document takes the next value
// of the profile's version counter, so pulls see writes in commit order.
func (s *RecordService) Push(ctx context.Context, profileID, collection string, docs []RecordInput) ([]models.Record, error) {
	if !ValidCollection(collection) {
		return nil, fmt.Errorf("%w: collection %q", common.ErrorValidation, collection)
	}
	if len(docs) > MaxPushBatch {
		return nil, fmt.Errorf("%w: at most %d documents per push", common.ErrorValidation, MaxPushBatch)
	}
	for i, d := range docs {
		if !d.Deleted && !json.Valid(d.Payload) {
			return nil, fmt.Errorf("%w: document %d has invalid JSON payload", common.ErrorValidation, i)
		}
	}

	var saved []models.Record
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		profileRepo := s.repomanager.Profiles(tx)
		recordRepo := s.repomanager.Records(tx)

		for _, d := range docs {
			version, err := profileRepo.IncrementCurrentVersion(ctx, profileID)
			if err != nil {
				return err
			}
			rec := models.Record{
				ID:         d.ID,
				ProfileID:  profileID,
				Collection: collection,
				Payload:    d.Payload,
				Version:    version,
				Deleted:    d.Deleted,
				UpdatedAt:  s.now().UTC(),
			}
			if rec.ID == "" {
				rec.ID = uuid.NewString()
			}
			if rec.Deleted || len(rec.Payload) == 0 {
				rec.Payload = json.RawMessage("null")
			}
			if err := recordRepo.Upsert(ctx, &rec); err != nil {
				return err
			}
			saved = append(saved, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error storing records: %w", err)
	}

	s.log.Debug(ctx, "records stored", "profile_id", profileID, "collection", collection, "count", len(saved))
	return saved, nil
}
