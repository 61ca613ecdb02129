package avatars

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"filevault/internal/identity"
	"filevault/internal/queue"
	"filevault/internal/shared/apperr"
	"filevault/internal/shared/metrics"
	"filevault/internal/shared/storage/object"
	"filevault/internal/shared/telemetry"
)

// MaxSize is the largest accepted avatar image.
const MaxSize = 5 << 20

var (
	ErrNotImage = apperr.Validation("Only image files are allowed for avatars")
	ErrTooLarge = apperr.Validation("Avatar exceeds 5MB limit")
)

// Service replaces and resolves profile avatars.
type Service struct {
	Users identity.Repo
	Blobs object.BlobStore
	URLs  object.URLIssuer
	// Cleanup receives predecessor blobs that could not be deleted inline.
	// Nil disables the fallback.
	Cleanup queue.Client
	now     func() time.Time
}

// NewService constructs a Service. cleanup may be nil.
func NewService(users identity.Repo, blobs object.BlobStore, urls object.URLIssuer, cleanup queue.Client) *Service {
	return &Service{
		Users:   users,
		Blobs:   blobs,
		URLs:    urls,
		Cleanup: cleanup,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// UploadInput describes an incoming avatar image.
type UploadInput struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
	RequestID   string
}

// Result is the updated identity and a long-lived display URL for its avatar.
type Result struct {
	Identity identity.Identity
	URL      string
}

// Update stores a new avatar, points the identity at it and then tries to
// remove the previous one. Cleanup failures never fail the update.
func (s *Service) Update(ctx context.Context, ownerID string, in UploadInput) (Result, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Result{}, apperr.ErrUnauthorized
	}
	if in.Body == nil {
		return Result{}, apperr.Validation("No file uploaded")
	}
	contentType := strings.ToLower(strings.TrimSpace(in.ContentType))
	if !strings.HasPrefix(contentType, "image/") {
		return Result{}, ErrNotImage
	}
	if in.Size > MaxSize {
		return Result{}, ErrTooLarge
	}

	current, err := s.Users.GetByID(ctx, ownerID)
	if err != nil {
		return Result{}, err
	}

	key := object.AvatarKey(ownerID, s.now(), in.FileName)
	if _, err := s.Blobs.Put(ctx, key, contentType, &capReader{r: in.Body, remaining: MaxSize}); err != nil {
		if errors.Is(err, ErrTooLarge) {
			return Result{}, ErrTooLarge
		}
		metrics.IncStoreErrors()
		return Result{}, apperr.Store("blob.put", err)
	}

	updated, err := s.Users.Update(ctx, ownerID, identity.SetAvatarKey(key))
	if err != nil {
		metrics.IncStoreErrors()
		telemetry.Error("avatar.orphaned_blob", map[string]any{
			"user_id":     ownerID,
			"storage_key": key,
			"error":       err.Error(),
		})
		return Result{}, err
	}
	metrics.IncAvatarUpdates()

	if previous := current.AvatarKey; previous != "" && previous != key {
		s.removePrevious(ctx, ownerID, previous, in.RequestID)
	}

	url, err := s.URLs.Issue(ctx, key, object.LongTTL)
	if err != nil {
		metrics.IncStoreErrors()
		return Result{}, apperr.Store("url.issue", err)
	}
	telemetry.Info("avatar.updated", map[string]any{"user_id": ownerID, "storage_key": key})
	return Result{Identity: updated, URL: url}, nil
}

func (s *Service) removePrevious(ctx context.Context, ownerID, key, requestID string) {
	err := s.Blobs.Delete(ctx, key)
	if err == nil {
		return
	}
	metrics.IncAvatarCleanupFailures()
	fields := map[string]any{
		"user_id":     ownerID,
		"storage_key": key,
		"error":       err.Error(),
	}
	if s.Cleanup == nil {
		telemetry.Warn("avatar.cleanup_failed", fields)
		return
	}
	msg := queue.NewBlobDelete(key, "avatar.replaced", requestID, s.now())
	if qerr := s.Cleanup.Send(ctx, msg); qerr != nil {
		fields["queue_error"] = qerr.Error()
		telemetry.Error("avatar.cleanup_enqueue_failed", fields)
		return
	}
	telemetry.Warn("avatar.cleanup_deferred", fields)
}

// AvatarURL returns a long-lived display URL for the identity's avatar, or
// an empty string when it has none.
func (s *Service) AvatarURL(ctx context.Context, id identity.Identity) (string, error) {
	if id.AvatarKey == "" {
		return "", nil
	}
	url, err := s.URLs.Issue(ctx, id.AvatarKey, object.LongTTL)
	if err != nil {
		return "", apperr.Store("url.issue", err)
	}
	return url, nil
}

// capReader fails with ErrTooLarge once more than remaining bytes are read.
type capReader struct {
	r         io.Reader
	remaining int64
}

func (c *capReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

var _ identity.AvatarURLResolver = (*Service)(nil)
