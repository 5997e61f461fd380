// Package records declares the repository contract for synced documents.
package records

import (
	"context"

	"github.com/dmitrijs2005/vitalink/internal/server/models"
)

type Repository interface {
	// Upsert writes rec keyed by (profile, collection, id).
	Upsert(ctx context.Context, rec *models.Record) error
	// ListSince returns records with version > since in version order.
	ListSince(ctx context.Context, profileID, collection string, since int64, limit int) ([]models.Record, error)
}
