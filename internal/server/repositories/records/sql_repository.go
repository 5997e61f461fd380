package records

import (
	"context"
	"fmt"

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

func (r *SQLRepository) Upsert(ctx context.Context, rec *models.Record) error {
	query :=
		`INSERT INTO records (id, profile_id, collection, payload, version, deleted, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (profile_id, collection, id) DO UPDATE
		 SET payload = excluded.payload, version = excluded.version, deleted = excluded.deleted, updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, r.d.Rebind(query),
		rec.ID, rec.ProfileID, rec.Collection, string(rec.Payload), rec.Version, rec.Deleted, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) ListSince(ctx context.Context, profileID, collection string, since int64, limit int) ([]models.Record, error) {
	query :=
		`SELECT id, profile_id, collection, payload, version, deleted, updated_at
		 FROM records
		 WHERE profile_id = ? AND collection = ? AND version > ?
		 ORDER BY version
		 LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.d.Rebind(query), profileID, collection, since, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var rec models.Record
		var payload string
		if err := rows.Scan(&rec.ID, &rec.ProfileID, &rec.Collection, &payload, &rec.Version, &rec.Deleted, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
