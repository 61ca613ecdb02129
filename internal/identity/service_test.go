package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filevault/internal/shared/apperr"
	"filevault/internal/shared/auth"
)

type stubSigner struct{}

func (stubSigner) SignCredential(p auth.Principal) (string, error) {
	return "token-for-" + p.OwnerID, nil
}

func newTestService() *Service {
	svc := NewService(NewMemoryRepo(), stubSigner{})
	n := 0
	svc.newID = func() string {
		n++
		return "user-" + string(rune('0'+n))
	}
	return svc
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	created, err := svc.Register(ctx, RegisterInput{Name: "Ann", Email: "Ann@X.io", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", created.ID)
	assert.Equal(t, "ann@x.io", created.Email)
	assert.NotEqual(t, "pw", created.PasswordHash)

	token, id, err := svc.Login(ctx, "ann@x.io", "pw")
	require.NoError(t, err)
	assert.Equal(t, "token-for-user-1", token)
	assert.Equal(t, "Ann", id.Name)
}

func TestRegisterRejectsMissingFields(t *testing.T) {
	svc := newTestService()
	_, err := svc.Register(context.Background(), RegisterInput{Email: "a@x.io", Password: "pw"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "All fields are required", apperr.Message(err))
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	_, err := svc.Register(ctx, RegisterInput{Name: "Ann", Email: "ann@x.io", Password: "pw"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{Name: "Ann 2", Email: "ANN@x.io", Password: "pw2"})
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestLoginRejectsUnknownAndWrongPassword(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	_, err := svc.Register(ctx, RegisterInput{Name: "Ann", Email: "ann@x.io", Password: "pw"})
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "nobody@x.io", "pw")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, _, err = svc.Login(ctx, "ann@x.io", "nope")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "Invalid credentials", apperr.Message(err))
}

func TestUpdateName(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	created, err := svc.Register(ctx, RegisterInput{Name: "Ann", Email: "ann@x.io", Password: "pw"})
	require.NoError(t, err)

	updated, err := svc.UpdateName(ctx, created.ID, "  Ann B  ")
	require.NoError(t, err)
	assert.Equal(t, "Ann B", updated.Name)

	_, err = svc.UpdateName(ctx, created.ID, "   ")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.UpdateName(ctx, "missing", "X")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSignInExternalCreatesOnce(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	tok1, first, err := svc.SignInExternal(ctx, "g@x.io", "G")
	require.NoError(t, err)
	tok2, second, err := svc.SignInExternal(ctx, "G@x.io", "G")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, tok1, tok2)
	assert.Empty(t, first.PasswordHash)

	_, _, err = svc.Login(ctx, "g@x.io", "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestMemoryRepoAvatarKeyUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	require.NoError(t, repo.Create(ctx, Identity{ID: "u1", Email: "a@x.io"}))

	got, err := repo.Update(ctx, "u1", SetAvatarKey("avatars/u1-1.png"))
	require.NoError(t, err)
	assert.Equal(t, "avatars/u1-1.png", got.AvatarKey)

	_, err = repo.Update(ctx, "u1", SetAvatarKey("../x"))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = repo.Update(ctx, "u1", Update{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
