package files

import (
	"context"
	"database/sql"
	"errors"

	"filevault/internal/shared/apperr"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Put inserts or replaces the record for (owner_id, id).
func (r *PGRepo) Put(ctx context.Context, f FileObject) error {
	const query = `
INSERT INTO files (
    owner_id,
    id,
    file_name,
    content_type,
    size_bytes,
    storage_key,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (owner_id, id) DO UPDATE SET
    file_name = EXCLUDED.file_name,
    content_type = EXCLUDED.content_type,
    size_bytes = EXCLUDED.size_bytes,
    storage_key = EXCLUDED.storage_key,
    created_at = EXCLUDED.created_at`
	_, err := r.DB.ExecContext(ctx, query,
		f.OwnerID,
		f.ID,
		f.FileName,
		f.ContentType,
		f.SizeBytes,
		f.StorageKey,
		f.CreatedAt,
	)
	return apperr.Store("files.put", err)
}

// Get fetches a record by composite key.
func (r *PGRepo) Get(ctx context.Context, ownerID, fileID string) (FileObject, error) {
	const query = `
SELECT owner_id, id, file_name, content_type, size_bytes, storage_key, created_at
FROM files
WHERE owner_id = $1 AND id = $2
LIMIT 1`
	var f FileObject
	err := r.DB.QueryRowContext(ctx, query, ownerID, fileID).Scan(
		&f.OwnerID,
		&f.ID,
		&f.FileName,
		&f.ContentType,
		&f.SizeBytes,
		&f.StorageKey,
		&f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FileObject{}, ErrNotFound
		}
		return FileObject{}, apperr.Store("files.get", err)
	}
	return f, nil
}

// ListByOwner lists an owner's files newest-first.
func (r *PGRepo) ListByOwner(ctx context.Context, ownerID string) ([]FileObject, error) {
	const query = `
SELECT owner_id, id, file_name, content_type, size_bytes, storage_key, created_at
FROM files
WHERE owner_id = $1
ORDER BY created_at DESC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, apperr.Store("files.list", err)
	}
	defer rows.Close()

	out := []FileObject{}
	for rows.Next() {
		var f FileObject
		if err := rows.Scan(
			&f.OwnerID,
			&f.ID,
			&f.FileName,
			&f.ContentType,
			&f.SizeBytes,
			&f.StorageKey,
			&f.CreatedAt,
		); err != nil {
			return nil, apperr.Store("files.list", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store("files.list", err)
	}
	return out, nil
}

// Delete removes a record by composite key.
func (r *PGRepo) Delete(ctx context.Context, ownerID, fileID string) error {
	const query = `DELETE FROM files WHERE owner_id = $1 AND id = $2`
	_, err := r.DB.ExecContext(ctx, query, ownerID, fileID)
	return apperr.Store("files.delete", err)
}

var _ Repo = (*PGRepo)(nil)
