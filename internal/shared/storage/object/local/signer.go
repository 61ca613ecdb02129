package local

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"filevault/internal/shared/storage/object"
)

const blobRoutePrefix = "/blobs/"

var (
	ErrNoSecretKey      = errors.New("blob url secret not configured")
	ErrMissingSignature = errors.New("missing signature")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrExpired          = errors.New("url expired")
)

// Signer issues and validates HMAC capability URLs for local blobs.
type Signer struct {
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewSigner builds a Signer producing URLs under baseURL.
func NewSigner(baseURL, secret string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrNoSecretKey
	}
	return &Signer{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		now:     time.Now,
	}, nil
}

// WithClock replaces the signer's time source.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Issue returns {base}/blobs/{key}?expires=..&signature=.. valid for ttl.
func (s *Signer) Issue(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := object.ValidateKey(key); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}
	expiresAt := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expiresAt, 10))
	q.Set("signature", s.sign(key, expiresAt))
	return s.baseURL + blobRoutePrefix + escapeKey(key) + "?" + q.Encode(), nil
}

// Verify checks the signature and expiry presented for key.
func (s *Signer) Verify(key, expires, signature string) error {
	if signature == "" || expires == "" {
		return ErrMissingSignature
	}
	expiresAt, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(signature), []byte(s.sign(key, expiresAt))) {
		return ErrInvalidSignature
	}
	if s.now().Unix() > expiresAt {
		return ErrExpired
	}
	return nil
}

// sign computes HMAC-SHA256 over METHOD|KEY|EXPIRES.
func (s *Signer) sign(key string, expiresAt int64) string {
	h := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(h, "GET|%s|%d", key, expiresAt)
	return hex.EncodeToString(h.Sum(nil))
}

func escapeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

var _ object.URLIssuer = (*Signer)(nil)
