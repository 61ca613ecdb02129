package files

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"filevault/internal/shared/apperr"
	"filevault/internal/shared/metrics"
	"filevault/internal/shared/storage/object"
	"filevault/internal/shared/telemetry"
	"filevault/internal/shared/util"
)

const defaultContentType = "application/octet-stream"

// Service orchestrates the metadata repo and the blob store. Writes are two
// independent steps, blob first in both directions. A failed metadata put
// after an upload leaves an orphan blob; a failed metadata delete after the
// blob is gone leaves a record whose download URL will 404. Neither is
// rolled back.
type Service struct {
	Repo  Repo
	Blobs object.BlobStore
	URLs  object.URLIssuer
	now   func() time.Time
	newID func() string
}

// NewService constructs a Service.
func NewService(repo Repo, blobs object.BlobStore, urls object.URLIssuer) *Service {
	return &Service{
		Repo:  repo,
		Blobs: blobs,
		URLs:  urls,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// UploadInput describes an incoming file.
type UploadInput struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

// Download is a time-limited link to a file's bytes plus its display metadata.
type Download struct {
	URL  string
	File FileObject
}

// Upload stores the blob and then records its metadata.
func (s *Service) Upload(ctx context.Context, ownerID string, in UploadInput) (FileObject, error) {
	if strings.TrimSpace(ownerID) == "" {
		return FileObject{}, apperr.ErrUnauthorized
	}
	if in.Body == nil {
		return FileObject{}, apperr.Validation("No file uploaded")
	}
	name, err := util.SanitizeFileName(in.FileName)
	if err != nil {
		return FileObject{}, apperr.Validation("Invalid file name")
	}
	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" {
		contentType = defaultContentType
	}

	start := time.Now()
	f := FileObject{
		ID:          s.newID(),
		OwnerID:     ownerID,
		FileName:    name,
		ContentType: contentType,
	}
	f.StorageKey = object.FileKey(f.OwnerID, f.ID)

	size, err := s.Blobs.Put(ctx, f.StorageKey, contentType, in.Body)
	if err != nil {
		metrics.IncStoreErrors()
		return FileObject{}, apperr.Store("blob.put", err)
	}
	f.SizeBytes = size
	f.CreatedAt = s.now()

	if err := s.Repo.Put(ctx, f); err != nil {
		metrics.IncStoreErrors()
		metrics.IncUploadOrphans()
		telemetry.Error("upload.orphaned_blob", map[string]any{
			"user_id":     ownerID,
			"file_id":     f.ID,
			"storage_key": f.StorageKey,
			"error":       err.Error(),
		})
		return FileObject{}, apperr.Store("files.put", err)
	}

	metrics.IncUploads()
	metrics.ObserveUploadDurationMs(metrics.SinceMillis(start))
	telemetry.Info("upload.complete", map[string]any{
		"user_id":    ownerID,
		"file_id":    f.ID,
		"size_bytes": f.SizeBytes,
	})
	return f, nil
}

// List returns the owner's files, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]FileObject, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, apperr.ErrUnauthorized
	}
	items, err := s.Repo.ListByOwner(ctx, ownerID)
	if err != nil {
		countStoreError(err)
		return nil, err
	}
	return items, nil
}

// Get returns a short-lived download link for one of the owner's files.
func (s *Service) Get(ctx context.Context, ownerID, fileID string) (Download, error) {
	f, err := s.lookup(ctx, ownerID, fileID)
	if err != nil {
		return Download{}, err
	}
	url, err := s.URLs.Issue(ctx, f.StorageKey, object.ShortTTL)
	if err != nil {
		metrics.IncStoreErrors()
		return Download{}, apperr.Store("url.issue", err)
	}
	return Download{URL: url, File: f}, nil
}

// Delete removes the blob and then the metadata record. If the blob delete
// fails the record is kept so the caller can retry.
func (s *Service) Delete(ctx context.Context, ownerID, fileID string) error {
	f, err := s.lookup(ctx, ownerID, fileID)
	if err != nil {
		return err
	}
	if err := s.Blobs.Delete(ctx, f.StorageKey); err != nil {
		metrics.IncStoreErrors()
		return apperr.Store("blob.delete", err)
	}
	if err := s.Repo.Delete(ctx, ownerID, fileID); err != nil {
		countStoreError(err)
		return err
	}
	metrics.IncDeletes()
	telemetry.Info("delete.complete", map[string]any{"user_id": ownerID, "file_id": fileID})
	return nil
}

func (s *Service) lookup(ctx context.Context, ownerID, fileID string) (FileObject, error) {
	if strings.TrimSpace(ownerID) == "" {
		return FileObject{}, apperr.ErrUnauthorized
	}
	if strings.TrimSpace(fileID) == "" {
		return FileObject{}, ErrNotFound
	}
	f, err := s.Repo.Get(ctx, ownerID, fileID)
	if err != nil {
		countStoreError(err)
		return FileObject{}, err
	}
	// Every backend keys on (owner, id); a mismatch here is a repo bug.
	if f.OwnerID != ownerID {
		telemetry.Error("files.owner_mismatch", map[string]any{
			"user_id":        ownerID,
			"file_id":        fileID,
			"record_user_id": f.OwnerID,
		})
		return FileObject{}, apperr.ErrForbidden
	}
	return f, nil
}

func countStoreError(err error) {
	if errors.Is(err, apperr.ErrStore) {
		metrics.IncStoreErrors()
	}
}
