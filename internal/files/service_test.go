package files

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filevault/internal/shared/apperr"
	"filevault/internal/shared/storage/object"
	"filevault/internal/shared/storage/object/local"
)

type fixture struct {
	svc   *Service
	repo  *MemoryRepo
	store *local.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := local.New(t.TempDir())
	signer, err := local.NewSigner("http://vault.test", "secret")
	require.NoError(t, err)
	repo := NewMemoryRepo()
	return fixture{svc: NewService(repo, store, signer), repo: repo, store: store}
}

func upload(t *testing.T, svc *Service, owner, name, body string) FileObject {
	t.Helper()
	f, err := svc.Upload(context.Background(), owner, UploadInput{
		FileName:    name,
		ContentType: "text/plain",
		Body:        strings.NewReader(body),
	})
	require.NoError(t, err)
	return f
}

func TestUploadGetListDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	f := upload(t, fx.svc, "ann", "cv.pdf", "1234567890")
	assert.Equal(t, "ann", f.OwnerID)
	assert.Equal(t, int64(10), f.SizeBytes)
	assert.Equal(t, object.FileKey("ann", f.ID), f.StorageKey)

	items, err := fx.svc.List(ctx, "ann")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, f.ID, items[0].ID)

	dl, err := fx.svc.Get(ctx, "ann", f.ID)
	require.NoError(t, err)
	u, err := url.Parse(dl.URL)
	require.NoError(t, err)
	assert.Equal(t, "/blobs/"+f.StorageKey, u.Path)
	assert.Equal(t, "cv.pdf", dl.File.FileName)

	require.NoError(t, fx.svc.Delete(ctx, "ann", f.ID))
	_, err = fx.svc.Get(ctx, "ann", f.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	blobs, err := fx.store.List(ctx, object.UploadsPrefix)
	require.NoError(t, err)
	assert.Empty(t, blobs)
}

func TestOwnershipIsolation(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	f := upload(t, fx.svc, "ann", "a.txt", "secret")

	_, err := fx.svc.Get(ctx, "bob", f.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, fx.svc.Delete(ctx, "bob", f.ID), apperr.ErrNotFound)

	items, err := fx.svc.List(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = fx.svc.Get(ctx, "ann", f.ID)
	assert.NoError(t, err)
}

func TestSameDisplayNameGetsDistinctBlobs(t *testing.T) {
	fx := newFixture(t)
	a := upload(t, fx.svc, "ann", "same.txt", "one")
	b := upload(t, fx.svc, "bob", "same.txt", "two")
	c := upload(t, fx.svc, "ann", "same.txt", "three")

	keys := map[string]bool{a.StorageKey: true, b.StorageKey: true, c.StorageKey: true}
	assert.Len(t, keys, 3)
}

func TestConcurrentUploadsGetDistinctIDs(t *testing.T) {
	fx := newFixture(t)
	const n = 32

	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := fx.svc.Upload(context.Background(), "ann", UploadInput{
				FileName: fmt.Sprintf("f%d.txt", i),
				Body:     strings.NewReader("x"),
			})
			if err == nil {
				ids <- f.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, n)

	items, err := fx.svc.List(context.Background(), "ann")
	require.NoError(t, err)
	assert.Len(t, items, n)
}

func TestUploadValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Upload(ctx, "ann", UploadInput{FileName: "a.txt"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = fx.svc.Upload(ctx, "ann", UploadInput{FileName: "  ", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = fx.svc.Upload(ctx, "", UploadInput{FileName: "a.txt", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestUploadEmptyFileAndDefaultType(t *testing.T) {
	fx := newFixture(t)
	f, err := fx.svc.Upload(context.Background(), "ann", UploadInput{FileName: "empty", Body: strings.NewReader("")})
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.SizeBytes)
	assert.Equal(t, defaultContentType, f.ContentType)
}

type failingRepo struct {
	*MemoryRepo
	putErr error
	get    *FileObject
}

func (r failingRepo) Put(ctx context.Context, f FileObject) error {
	if r.putErr != nil {
		return r.putErr
	}
	return r.MemoryRepo.Put(ctx, f)
}

func (r failingRepo) Get(ctx context.Context, ownerID, fileID string) (FileObject, error) {
	if r.get != nil {
		return *r.get, nil
	}
	return r.MemoryRepo.Get(ctx, ownerID, fileID)
}

func TestUploadMetadataFailureLeavesOrphanBlob(t *testing.T) {
	ctx := context.Background()
	store := local.New(t.TempDir())
	signer, err := local.NewSigner("http://vault.test", "secret")
	require.NoError(t, err)
	repo := failingRepo{MemoryRepo: NewMemoryRepo(), putErr: apperr.Store("files.put", errors.New("throttled"))}
	svc := NewService(repo, store, signer)

	_, err = svc.Upload(ctx, "ann", UploadInput{FileName: "a.txt", Body: strings.NewReader("abc")})
	assert.ErrorIs(t, err, apperr.ErrStore)

	blobs, err := store.List(ctx, object.UploadsPrefix)
	require.NoError(t, err)
	assert.Len(t, blobs, 1, "blob is written before metadata and is not rolled back")

	items, err := svc.List(ctx, "ann")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestGetOwnerMismatchIsForbidden(t *testing.T) {
	fx := newFixture(t)
	leaked := FileObject{ID: "f1", OwnerID: "bob", StorageKey: object.FileKey("bob", "f1")}
	fx.svc.Repo = failingRepo{MemoryRepo: fx.repo, get: &leaked}

	_, err := fx.svc.Get(context.Background(), "ann", "f1")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

type flakyBlobs struct {
	object.BlobStore
	deleteErr error
}

func (b flakyBlobs) Delete(ctx context.Context, key string) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}
	return b.BlobStore.Delete(ctx, key)
}

func TestDeleteKeepsMetadataWhenBlobDeleteFails(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	f := upload(t, fx.svc, "ann", "a.txt", "abc")

	fx.svc.Blobs = flakyBlobs{BlobStore: fx.store, deleteErr: errors.New("503")}
	err := fx.svc.Delete(ctx, "ann", f.ID)
	assert.ErrorIs(t, err, apperr.ErrStore)

	_, err = fx.repo.Get(ctx, "ann", f.ID)
	assert.NoError(t, err, "metadata must survive a failed blob delete")
}

func TestListNewestFirst(t *testing.T) {
	fx := newFixture(t)
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	fx.svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	first := upload(t, fx.svc, "ann", "old.txt", "1")
	second := upload(t, fx.svc, "ann", "new.txt", "2")

	items, err := fx.svc.List(context.Background(), "ann")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ID)
	assert.Equal(t, first.ID, items[1].ID)
}

