// Package repomanager vends SQL-backed repository implementations for the
// configured dialect and owns database opening and schema migration.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/vitalink/internal/dbx"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/devices"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/grants"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/profiles"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/records"
	"github.com/dmitrijs2005/vitalink/internal/server/repositories/trustmaterial"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Profiles(db dbx.DBTX) profiles.Repository
	Devices(db dbx.DBTX) devices.Repository
	Grants(db dbx.DBTX) grants.Repository
	Records(db dbx.DBTX) records.Repository
	TrustMaterial(db dbx.DBTX) trustmaterial.Repository
}
