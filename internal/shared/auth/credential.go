package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"filevault/internal/shared/apperr"
)

var (
	ErrMissingCredential = fmt.Errorf("%w: missing credential", apperr.ErrUnauthorized)
	ErrInvalidCredential = fmt.Errorf("%w: invalid credential", apperr.ErrUnauthorized)
	errMissingSecret     = errors.New("credential secret not configured")
)

// Claims is the credential payload. Older credentials carry the owner id under
// "id"; current ones use "userId". SignCredential writes both.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId,omitempty"`
	ID     string `json:"id,omitempty"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Principal is the canonical identity every downstream component consumes.
type Principal struct {
	OwnerID string
	Email   string
	Name    string
}

// Signer issues credentials for a principal.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner builds a Signer. An empty secret is rejected.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errMissingSecret
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// SignCredential signs an HS256 credential for p.
func (s *Signer) SignCredential(p Principal) (string, error) {
	if strings.TrimSpace(p.OwnerID) == "" {
		return "", errors.New("owner id is required")
	}
	now := s.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		UserID: p.OwnerID,
		ID:     p.OwnerID,
		Email:  p.Email,
		Name:   p.Name,
	})
	return token.SignedString(s.secret)
}

// Resolver verifies credentials and produces a Principal.
type Resolver struct {
	secret []byte
	now    func() time.Time
}

// NewResolver builds a Resolver for the given HMAC secret.
func NewResolver(secret string) (*Resolver, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errMissingSecret
	}
	return &Resolver{secret: []byte(secret), now: time.Now}, nil
}

// Resolve verifies token and collapses the legacy and current owner id claims.
func (r *Resolver) Resolve(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrMissingCredential
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil || !parsed.Valid {
		return Principal{}, ErrInvalidCredential
	}

	normalizeClaims(claims)
	if claims.UserID == "" {
		return Principal{}, ErrInvalidCredential
	}
	return Principal{
		OwnerID: claims.UserID,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}

// normalizeClaims prefers userId, falls back to id, and sets both.
func normalizeClaims(c *Claims) {
	owner := strings.TrimSpace(c.UserID)
	if owner == "" {
		owner = strings.TrimSpace(c.ID)
	}
	c.UserID = owner
	c.ID = owner
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingCredential
	}
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrInvalidCredential
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrMissingCredential
	}
	return token, nil
}
