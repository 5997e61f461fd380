// Package profiles declares the repository contract for local user profiles.
package profiles

import (
	"context"

	"github.com/dmitrijs2005/vitalink/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, p *models.Profile) (*models.Profile, error)
	GetByName(ctx context.Context, name string) (*models.Profile, error)
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	List(ctx context.Context) ([]models.Profile, error)
	// IncrementCurrentVersion bumps and returns the profile's sync version.
	IncrementCurrentVersion(ctx context.Context, id string) (int64, error)
}
