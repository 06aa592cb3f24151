package sessions

import (
	"context"

	"github.com/mivanovs/telegate/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, profileID int64, credential string) (*models.Session, error)
	// GetActiveByProfile returns the authoritative session row for a profile.
	GetActiveByProfile(ctx context.Context, profileID int64) (*models.Session, error)
	// UpdateCredential rewrites the credential blob and bumps last_used.
	UpdateCredential(ctx context.Context, id int64, credential string) error
	Deactivate(ctx context.Context, id int64) error
}
