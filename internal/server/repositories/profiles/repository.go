package profiles

import (
	"context"

	"github.com/mivanovs/telegate/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, profile *models.Profile) (*models.Profile, error)
	GetByPhone(ctx context.Context, phone string) (*models.Profile, error)
	GetByUserAndPhone(ctx context.Context, userID int64, phone string) (*models.Profile, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Profile, error)
	// Update rewrites every mutable column of the row. last_login is not
	// touched; that is reserved for completed logins.
	Update(ctx context.Context, profile *models.Profile) error
	// SetAuthorized flips only the authorization flag, leaving challenge and
	// metadata untouched. Used by the self-healing write-back.
	SetAuthorized(ctx context.Context, id int64, authorized bool) error
	TouchLastLogin(ctx context.Context, id int64) error
}
