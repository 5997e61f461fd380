// Package devices declares the repository contract for paired devices.
package devices

import (
	"context"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, d *models.Device) error

	// GetByTokenHash returns common.ErrorNotFound when no device holds hash.
	GetByTokenHash(ctx context.Context, hash string) (*models.Device, error)
	GetByID(ctx context.Context, id string) (*models.Device, error)

	// RotateToken swaps the stored hash from oldHash to newHash and stamps
	// last_seen. It reports false when the row no longer holds oldHash.
	RotateToken(ctx context.Context, id, oldHash, newHash string, seen time.Time) (bool, error)

	ListByProfile(ctx context.Context, profileID string) ([]models.Device, error)
	ListInactive(ctx context.Context, profileID string, before time.Time) ([]models.Device, error)
	CountByProfile(ctx context.Context, profileID string) (int, error)

	// Delete returns common.ErrorNotFound when nothing was removed.
	Delete(ctx context.Context, id string) error
}
