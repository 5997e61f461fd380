// Package trustmaterial declares the repository contract for the persisted
// certificate and sealed private key of each profile.
package trustmaterial

import (
	"context"

	"github.com/dmitrijs2005/vitalink/internal/server/models"
)

type Repository interface {
	// Get returns common.ErrorNotFound when the profile has no certificate yet.
	Get(ctx context.Context, profileID string) (*models.TrustMaterial, error)
	// Save inserts or replaces the profile's trust material.
	Save(ctx context.Context, m *models.TrustMaterial) error
}
