package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"filevault/internal/shared/apperr"
	"filevault/internal/shared/auth"
	"filevault/internal/shared/telemetry"
	"filevault/internal/shared/util"
)

var errInvalidLogin = apperr.Validation("Invalid credentials")

// CredentialSigner issues access credentials.
type CredentialSigner interface {
	SignCredential(p auth.Principal) (string, error)
}

type Service struct {
	Repo   Repo
	Signer CredentialSigner
	newID  func() string
	now    func() time.Time
}

func NewService(repo Repo, signer CredentialSigner) *Service {
	return &Service{
		Repo:   repo,
		Signer: signer,
		newID:  func() string { return uuid.NewString() },
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// newIdentity stamps a fresh identity so callers can return exactly what
// was written instead of reading it back.
func (s *Service) newIdentity(email, name, hash string) Identity {
	now := s.now()
	return Identity{
		ID:           s.newID(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// RegisterInput carries the fields required to create an identity.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Register creates an identity with a freshly assigned owner id.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Identity, error) {
	if s == nil || s.Repo == nil {
		return Identity{}, errors.New("identity service not configured")
	}
	name := strings.TrimSpace(in.Name)
	email := NormalizeEmail(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return Identity{}, apperr.Validation("All fields are required")
	}
	if !strings.Contains(email, "@") {
		return Identity{}, apperr.Validation("Invalid email")
	}
	if len(name) > maxNameLen {
		return Identity{}, apperr.Validation("Name is too long")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return Identity{}, apperr.Validation("Invalid password")
	}
	id := s.newIdentity(email, name, hash)
	if err := s.Repo.Create(ctx, id); err != nil {
		return Identity{}, err
	}
	telemetry.Info("identity.registered", map[string]any{"user_id": id.ID})
	return id, nil
}

// Login verifies the password and issues a credential. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (string, Identity, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return "", Identity{}, errInvalidLogin
	}
	id, err := s.Repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			telemetry.Info("identity.login_failed", map[string]any{"email_fp": util.Fingerprint(email), "reason": "unknown_email"})
			return "", Identity{}, errInvalidLogin
		}
		return "", Identity{}, err
	}
	if !auth.VerifyPassword(id.PasswordHash, password) {
		telemetry.Info("identity.login_failed", map[string]any{"email_fp": util.Fingerprint(email), "reason": "password_mismatch"})
		return "", Identity{}, errInvalidLogin
	}
	token, err := s.issue(id)
	if err != nil {
		return "", Identity{}, err
	}
	return token, id, nil
}

// SignInExternal finds or creates the identity for an externally verified
// email and issues a credential for it.
func (s *Service) SignInExternal(ctx context.Context, email, name string) (string, Identity, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", Identity{}, apperr.Validation("Email is required")
	}
	id, err := s.Repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		id = s.newIdentity(email, strings.TrimSpace(name), "")
		if err = s.Repo.Create(ctx, id); errors.Is(err, ErrEmailTaken) {
			id, err = s.Repo.GetByEmail(ctx, email)
		}
	}
	if err != nil {
		return "", Identity{}, err
	}
	token, err := s.issue(id)
	if err != nil {
		return "", Identity{}, err
	}
	return token, id, nil
}

// Profile returns the identity for ownerID.
func (s *Service) Profile(ctx context.Context, ownerID string) (Identity, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Identity{}, apperr.ErrUnauthorized
	}
	return s.Repo.GetByID(ctx, ownerID)
}

// UpdateName changes the display name and returns the updated identity.
func (s *Service) UpdateName(ctx context.Context, ownerID, name string) (Identity, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Identity{}, apperr.ErrUnauthorized
	}
	return s.Repo.Update(ctx, ownerID, SetName(name))
}

func (s *Service) issue(id Identity) (string, error) {
	if s.Signer == nil {
		return "", errors.New("credential signer not configured")
	}
	return s.Signer.SignCredential(auth.Principal{OwnerID: id.ID, Email: id.Email, Name: id.Name})
}
