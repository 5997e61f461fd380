package grants

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

func (r *SQLRepository) Upsert(ctx context.Context, g *models.Grant) error {
	query :=
		`INSERT INTO grants (granter_id, grantee_id, access, granted_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (granter_id, grantee_id) DO UPDATE SET access = excluded.access, granted_at = excluded.granted_at`

	_, err := r.db.ExecContext(ctx, r.d.Rebind(query), g.GranterID, g.GranteeID, g.Access, g.GrantedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const selectGrant = `SELECT granter_id, grantee_id, access, granted_at FROM grants`

func (r *SQLRepository) Get(ctx context.Context, granterID, granteeID string) (*models.Grant, error) {
	g := &models.Grant{}
	err := r.db.QueryRowContext(ctx, r.d.Rebind(selectGrant+` WHERE granter_id = ? AND grantee_id = ?`), granterID, granteeID).
		Scan(&g.GranterID, &g.GranteeID, &g.Access, &g.GrantedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return g, nil
}

func (r *SQLRepository) Delete(ctx context.Context, granterID, granteeID string) error {
	res, err := r.db.ExecContext(ctx, r.d.Rebind(`DELETE FROM grants WHERE granter_id = ? AND grantee_id = ?`), granterID, granteeID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLRepository) ListByGrantee(ctx context.Context, granteeID string) ([]models.Grant, error) {
	return r.list(ctx, selectGrant+` WHERE grantee_id = ? ORDER BY granted_at`, granteeID)
}

func (r *SQLRepository) ListByGranter(ctx context.Context, granterID string) ([]models.Grant, error) {
	return r.list(ctx, selectGrant+` WHERE granter_id = ? ORDER BY granted_at`, granterID)
}

func (r *SQLRepository) list(ctx context.Context, query string, arg any) ([]models.Grant, error) {
	rows, err := r.db.QueryContext(ctx, r.d.Rebind(query), arg)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Grant
	for rows.Next() {
		var g models.Grant
		if err := rows.Scan(&g.GranterID, &g.GranteeID, &g.Access, &g.GrantedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
