package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/vitalink/internal/dbx"
	"github.com/dmitrijs2005/vitalink/internal/server/migrations"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/devices"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/grants"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/profiles"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/records"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/trustmaterial"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQLRepositoryManager binds repositories to one SQL dialect.
type SQLRepositoryManager struct {
	dialect dbx.Dialect
}

func NewSQLRepositoryManager(d dbx.Dialect) *SQLRepositoryManager {
	return &SQLRepositoryManager{dialect: d}
}

func (m *SQLRepositoryManager) Dialect() dbx.Dialect {
	return m.dialect
}

func (m *SQLRepositoryManager) Profiles(db dbx.DBTX) profiles.Repository {
	return profiles.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Devices(db dbx.DBTX) devices.Repository {
	return devices.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Grants(db dbx.DBTX) grants.Repository {
	return grants.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Records(db dbx.DBTX) records.Repository {
	return records.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) TrustMaterial(db dbx.DBTX) trustmaterial.Repository {
	return trustmaterial.NewSQLRepository(db, m.dialect)
}

// migrateUp is a seam for testing migrations.Up.
var migrateUp = migrations.Up

// RunMigrations applies the embedded schema for the manager's dialect.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	if err := migrateUp(ctx, db, m.dialect); err != nil {
		return err
	}
	return nil
}

var sqlOpen = sql.Open

// Open opens and pings the database for d. SQLite is pinned to a single
// connection; writers would otherwise contend for the file lock.
func Open(ctx context.Context, d dbx.Dialect, dsn string) (*sql.DB, error) {
	db, err := sqlOpen(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d, err)
	}
	if d == dbx.SQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d, err)
	}
	return db, nil
}
