package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/dbx"
	"github.com/dmitrijs2005/vitalink/internal/server/models"
	"github.com/google/uuid"
)

type SQLRepository struct {
	db dbx.DBTX
	d  dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, d dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, d: d}
}

func (r *SQLRepository) Create(ctx context.Context, p *models.Profile) (*models.Profile, error) {

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query :=
		`INSERT INTO profiles (id, name, salt, verifier, created_at)
		 VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.d.Rebind(query), p.ID, p.Name, p.Salt, p.Verifier, p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return p, nil
}

const selectProfile = `SELECT id, name, salt, verifier, current_version, created_at FROM profiles`

func (r *SQLRepository) GetByName(ctx context.Context, name string) (*models.Profile, error) {
	return r.getOne(ctx, selectProfile+` WHERE name = ?`, name)
}

func (r *SQLRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	return r.getOne(ctx, selectProfile+` WHERE id = ?`, id)
}

func (r *SQLRepository) getOne(ctx context.Context, query string, arg any) (*models.Profile, error) {
	p := &models.Profile{}
	err := r.db.QueryRowContext(ctx, r.d.Rebind(query), arg).
		Scan(&p.ID, &p.Name, &p.Salt, &p.Verifier, &p.CurrentVersion, &p.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return p, nil
}

func (r *SQLRepository) List(ctx context.Context) ([]models.Profile, error) {
	rows, err := r.db.QueryContext(ctx, selectProfile+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Profile
	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Salt, &p.Verifier, &p.CurrentVersion, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) IncrementCurrentVersion(ctx context.Context, id string) (int64, error) {
	query :=
		`UPDATE profiles SET current_version = current_version + 1
		 WHERE id = ?
		 RETURNING current_version`

	var version int64
	err := r.db.QueryRowContext(ctx, r.d.Rebind(query), id).Scan(&version)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}

	return version, nil
}
