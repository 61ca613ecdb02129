// Package reconcile removes blobs that no metadata record or identity
// references. Such blobs are left behind by failed two-step writes and by
// avatar cleanups that never completed.
package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"filevault/internal/files"
	"filevault/internal/identity"
	"filevault/internal/shared/apperr"
	"filevault/internal/shared/metrics"
	"filevault/internal/shared/storage/object"
	"filevault/internal/shared/telemetry"
)

// DefaultGrace keeps blobs younger than this out of a sweep so an upload
// whose metadata write is still in flight is never removed.
const DefaultGrace = 24 * time.Hour

// Blobs lists and removes stored blobs.
type Blobs interface {
	List(ctx context.Context, prefix string) ([]object.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// FileLookup finds file metadata by composite key.
type FileLookup interface {
	Get(ctx context.Context, ownerID, fileID string) (files.FileObject, error)
}

// IdentityLookup finds identities by owner id.
type IdentityLookup interface {
	GetByID(ctx context.Context, ownerID string) (identity.Identity, error)
}

// Options controls a sweep.
type Options struct {
	Grace  time.Duration
	DryRun bool
}

// Report summarizes a sweep.
type Report struct {
	Scanned int      `json:"scanned"`
	Skipped int      `json:"skipped"`
	Orphans []string `json:"orphans"`
	Deleted int      `json:"deleted"`
	Errors  int      `json:"errors"`
}

type Sweeper struct {
	Blobs Blobs
	Files FileLookup
	Users IdentityLookup
	now   func() time.Time
}

func NewSweeper(blobs Blobs, files FileLookup, users IdentityLookup) *Sweeper {
	return &Sweeper{Blobs: blobs, Files: files, Users: users, now: time.Now}
}

// Run lists every managed prefix and deletes unreferenced blobs older than
// the grace period. A blob whose reference cannot be checked is kept.
func (s *Sweeper) Run(ctx context.Context, opts Options) (Report, error) {
	if opts.Grace < 0 {
		opts.Grace = 0
	}
	cutoff := s.now().Add(-opts.Grace)
	report := Report{Orphans: []string{}}

	for _, prefix := range []string{object.UploadsPrefix, object.AvatarsPrefix} {
		infos, err := s.Blobs.List(ctx, prefix)
		if err != nil {
			return report, apperr.Store("blob.list", err)
		}
		for _, info := range infos {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Scanned++
			if info.LastModified.After(cutoff) {
				report.Skipped++
				continue
			}
			orphan, err := s.isOrphan(ctx, info.Key)
			if err != nil {
				report.Errors++
				telemetry.Warn("reconcile.lookup_failed", map[string]any{"storage_key": info.Key, "error": err.Error()})
				continue
			}
			if !orphan {
				continue
			}
			report.Orphans = append(report.Orphans, info.Key)
			if opts.DryRun {
				continue
			}
			if err := s.Blobs.Delete(ctx, info.Key); err != nil {
				report.Errors++
				telemetry.Error("reconcile.delete_failed", map[string]any{"storage_key": info.Key, "error": err.Error()})
				continue
			}
			report.Deleted++
		}
	}

	metrics.AddReconcileDeletedBlobs(report.Deleted)
	telemetry.Info("reconcile.complete", map[string]any{
		"scanned": report.Scanned,
		"skipped": report.Skipped,
		"orphans": len(report.Orphans),
		"deleted": report.Deleted,
		"errors":  report.Errors,
		"dry_run": opts.DryRun,
	})
	return report, nil
}

func (s *Sweeper) isOrphan(ctx context.Context, key string) (bool, error) {
	switch {
	case strings.HasPrefix(key, object.UploadsPrefix):
		ownerID, fileID, ok := object.ParseFileKey(key)
		if !ok {
			return false, errors.New("unrecognized upload key")
		}
		f, err := s.Files.Get(ctx, ownerID, fileID)
		if errors.Is(err, apperr.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return f.StorageKey != key, nil
	case strings.HasPrefix(key, object.AvatarsPrefix):
		ownerID, ok := avatarOwner(key)
		if !ok {
			return false, errors.New("unrecognized avatar key")
		}
		id, err := s.Users.GetByID(ctx, ownerID)
		if errors.Is(err, apperr.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return id.AvatarKey != key, nil
	}
	return false, errors.New("unmanaged key")
}

// avatarOwner extracts the owner from avatars/{owner}-{millis}{ext}. Owner
// ids contain dashes, so the split is on the last one.
func avatarOwner(key string) (string, bool) {
	name := strings.TrimPrefix(key, object.AvatarsPrefix)
	if strings.Contains(name, "/") {
		return "", false
	}
	i := strings.LastIndex(name, "-")
	if i <= 0 || i == len(name)-1 {
		return "", false
	}
	stamp := name[i+1:]
	if dot := strings.IndexByte(stamp, '.'); dot >= 0 {
		stamp = stamp[:dot]
	}
	if stamp == "" || strings.Trim(stamp, "0123456789") != "" {
		return "", false
	}
	return name[:i], true
}
