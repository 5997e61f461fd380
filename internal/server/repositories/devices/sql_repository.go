package devices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

func (r *SQLRepository) Create(ctx context.Context, d *models.Device) error {
	query :=
		`INSERT INTO devices (id, profile_id, name, model, platform, token_hash, access, fingerprint, paired_at, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.d.Rebind(query),
		d.ID, d.ProfileID, d.Name, d.Model, d.Platform, d.TokenHash, d.Access, d.Fingerprint, d.PairedAt, d.LastSeen)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const selectDevice = `SELECT id, profile_id, name, model, platform, token_hash, access, fingerprint, paired_at, last_seen FROM devices`

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*models.Device, error) {
	d := &models.Device{}
	err := s.Scan(&d.ID, &d.ProfileID, &d.Name, &d.Model, &d.Platform, &d.TokenHash, &d.Access, &d.Fingerprint, &d.PairedAt, &d.LastSeen)
	return d, err
}

func (r *SQLRepository) GetByTokenHash(ctx context.Context, hash string) (*models.Device, error) {
	return r.getOne(ctx, selectDevice+` WHERE token_hash = ?`, hash)
}

func (r *SQLRepository) GetByID(ctx context.Context, id string) (*models.Device, error) {
	return r.getOne(ctx, selectDevice+` WHERE id = ?`, id)
}

func (r *SQLRepository) getOne(ctx context.Context, query string, arg any) (*models.Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, r.d.Rebind(query), arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *SQLRepository) RotateToken(ctx context.Context, id, oldHash, newHash string, seen time.Time) (bool, error) {
	query :=
		`UPDATE devices SET token_hash = ?, last_seen = ?
		 WHERE id = ? AND token_hash = ?`

	res, err := r.db.ExecContext(ctx, r.d.Rebind(query), newHash, seen, id, oldHash)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *SQLRepository) ListByProfile(ctx context.Context, profileID string) ([]models.Device, error) {
	return r.list(ctx, selectDevice+` WHERE profile_id = ? ORDER BY paired_at`, profileID)
}

func (r *SQLRepository) ListInactive(ctx context.Context, profileID string, before time.Time) ([]models.Device, error) {
	return r.list(ctx, selectDevice+` WHERE profile_id = ? AND last_seen < ? ORDER BY last_seen`, profileID, before)
}

func (r *SQLRepository) list(ctx context.Context, query string, args ...any) ([]models.Device, error) {
	rows, err := r.db.QueryContext(ctx, r.d.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) CountByProfile(ctx context.Context, profileID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.d.Rebind(`SELECT COUNT(*) FROM devices WHERE profile_id = ?`), profileID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.d.Rebind(`DELETE FROM devices WHERE id = ?`), id)
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
