package identity

import (
	"context"
	"fmt"

	"filevault/internal/shared/apperr"
)

var (
	ErrNotFound   = fmt.Errorf("user %w", apperr.ErrNotFound)
	ErrEmailTaken = apperr.Conflict("User already exists")
)

// Repo persists identities. Implementations wrap backend failures with apperr.Store.
type Repo interface {
	Create(ctx context.Context, id Identity) error
	GetByID(ctx context.Context, ownerID string) (Identity, error)
	GetByEmail(ctx context.Context, email string) (Identity, error)
	// Update applies u and returns the post-update identity.
	Update(ctx context.Context, ownerID string, u Update) (Identity, error)
}
