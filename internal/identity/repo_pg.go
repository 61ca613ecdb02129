package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"filevault/internal/shared/apperr"
)

const pgUniqueViolation = "23505"

const identityColumns = "id, email, name, password_hash, avatar_key, created_at, updated_at"

type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) Create(ctx context.Context, id Identity) error {
	const query = `
INSERT INTO identities (id, email, name, password_hash, avatar_key, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if id.CreatedAt.IsZero() {
		id.CreatedAt = time.Now().UTC()
	}
	if id.UpdatedAt.IsZero() {
		id.UpdatedAt = id.CreatedAt
	}
	_, err := r.DB.ExecContext(ctx, query,
		id.ID,
		NormalizeEmail(id.Email),
		nullableString(id.Name),
		nullableString(id.PasswordHash),
		nullableString(id.AvatarKey),
		id.CreatedAt,
		id.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrEmailTaken
		}
		return apperr.Store("identity.create", err)
	}
	return nil
}

func (r *PGRepo) GetByID(ctx context.Context, ownerID string) (Identity, error) {
	query := `
SELECT ` + identityColumns + `
FROM identities
WHERE id = $1
LIMIT 1`
	return r.getOne(ctx, "identity.get", query, ownerID)
}

func (r *PGRepo) GetByEmail(ctx context.Context, email string) (Identity, error) {
	query := `
SELECT ` + identityColumns + `
FROM identities
WHERE lower(email) = $1
LIMIT 1`
	return r.getOne(ctx, "identity.get_by_email", query, NormalizeEmail(email))
}

// Update builds the SET list from the closed Update field set only.
func (r *PGRepo) Update(ctx context.Context, ownerID string, u Update) (Identity, error) {
	if err := u.Validate(); err != nil {
		return Identity{}, err
	}
	u = u.normalized()

	var sets []string
	var args []any
	if u.Name != nil {
		args = append(args, *u.Name)
		sets = append(sets, fmt.Sprintf("name = $%d", len(args)))
	}
	if u.AvatarKey != nil {
		args = append(args, nullableString(*u.AvatarKey))
		sets = append(sets, fmt.Sprintf("avatar_key = $%d", len(args)))
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, ownerID)

	query := fmt.Sprintf(`
UPDATE identities
SET %s
WHERE id = $%d
RETURNING %s`, strings.Join(sets, ", "), len(args), identityColumns)
	return r.getOne(ctx, "identity.update", query, args...)
}

func (r *PGRepo) getOne(ctx context.Context, op, query string, args ...any) (Identity, error) {
	var id Identity
	var name sql.NullString
	var passwordHash sql.NullString
	var avatarKey sql.NullString
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(
		&id.ID,
		&id.Email,
		&name,
		&passwordHash,
		&avatarKey,
		&id.CreatedAt,
		&id.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, apperr.Store(op, err)
	}
	id.Name = name.String
	id.PasswordHash = passwordHash.String
	id.AvatarKey = avatarKey.String
	return id, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

var _ Repo = (*PGRepo)(nil)
