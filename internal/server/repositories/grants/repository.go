// Package grants declares the repository contract for cross-profile access
// grants.
package grants

import (
	"context"

	"github.com/dmitrijs2005/vitalink/internal/server/models"
)

type Repository interface {
	// Upsert creates the grant or replaces its access level.
	Upsert(ctx context.Context, g *models.Grant) error
	Get(ctx context.Context, granterID, granteeID string) (*models.Grant, error)
	Delete(ctx context.Context, granterID, granteeID string) error
	ListByGrantee(ctx context.Context, granteeID string) ([]models.Grant, error)
	ListByGranter(ctx context.Context, granterID string) ([]models.Grant, error)
}
