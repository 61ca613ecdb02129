package files

import (
	"context"
	"fmt"

	"filevault/internal/shared/apperr"
)

var ErrNotFound = fmt.Errorf("file %w", apperr.ErrNotFound)

// Repo persists file metadata under the composite key (ownerID, fileID).
// Implementations wrap backend failures with apperr.Store.
type Repo interface {
	Put(ctx context.Context, f FileObject) error
	Get(ctx context.Context, ownerID, fileID string) (FileObject, error)
	// ListByOwner returns the owner's files, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]FileObject, error)
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, ownerID, fileID string) error
}
