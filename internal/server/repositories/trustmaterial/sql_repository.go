package trustmaterial

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/dbx"
	"github.com/dmitrijs2005/vitalink/internal/server/models"
)

type SQLRepository struct {
	db dbx.DBTX
	d  dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, d dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, d: d}
}

func (r *SQLRepository) Get(ctx context.Context, profileID string) (*models.TrustMaterial, error) {
	query :=
		`SELECT profile_id, cert_der, sealed_key, not_after, created_at, reset_at
		 FROM trust_material
		 WHERE profile_id = ?`

	m := &models.TrustMaterial{}
	var resetAt sql.NullTime
	err := r.db.QueryRowContext(ctx, r.d.Rebind(query), profileID).
		Scan(&m.ProfileID, &m.CertDER, &m.SealedKey, &m.NotAfter, &m.CreatedAt, &resetAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if resetAt.Valid {
		t := resetAt.Time
		m.ResetAt = &t
	}
	return m, nil
}

func (r *SQLRepository) Save(ctx context.Context, m *models.TrustMaterial) error {
	query :=
		`INSERT INTO trust_material (profile_id, cert_der, sealed_key, not_after, created_at, reset_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (profile_id) DO UPDATE
		 SET cert_der = excluded.cert_der, sealed_key = excluded.sealed_key, not_after = excluded.not_after,
		     created_at = excluded.created_at, reset_at = excluded.reset_at`

	var resetAt sql.NullTime
	if m.ResetAt != nil {
		resetAt = sql.NullTime{Time: *m.ResetAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, r.d.Rebind(query), m.ProfileID, m.CertDER, m.SealedKey, m.NotAfter, m.CreatedAt, resetAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
