package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filevault/internal/shared/storage/object"
)

const testBucket = "vault-test"

func newFakeS3(t *testing.T) *s3.Client {
	t.Helper()
	backend := s3mem.New()
	require.NoError(t, backend.CreateBucket(testBucket))
	srv := httptest.NewServer(gofakes3.New(backend).Server())
	t.Cleanup(srv.Close)

	return s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(srv.URL),
		UsePathStyle:               true,
		Credentials:                credentials.NewStaticCredentialsProvider("test", "test", ""),
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
}

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "uploads/u1/f1", want: "uploads/u1/f1"},
		{name: "simple prefix", prefix: "root", key: "uploads/u1/f1", want: "root/uploads/u1/f1"},
		{name: "prefix trailing slash", prefix: "root/", key: "uploads/u1/f1", want: "root/uploads/u1/f1"},
		{name: "prefix and key slashes", prefix: "/root/", key: "/uploads/u1/f1", want: "root/uploads/u1/f1"},
		{name: "nested prefix", prefix: "root/sub", key: "avatars/u1-1.png", want: "root/sub/avatars/u1-1.png"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

func TestStoreAgainstFakeS3(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3(t)
	opts := Options{Bucket: testBucket, Prefix: "env", DisableSSE: true}
	store, err := NewFromClient(client, opts)
	require.NoError(t, err)

	n, err := store.Put(ctx, "uploads/u1/f1", "text/plain", strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	_, err = store.Put(ctx, "avatars/u1-1.png", "image/png", io.MultiReader(strings.NewReader("png")))
	require.NoError(t, err)

	items, err := store.List(ctx, object.UploadsPrefix)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "uploads/u1/f1", items[0].Key)
	assert.Equal(t, int64(11), items[0].Size)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	issuer := NewIssuer(client, opts)
	raw, err := issuer.Issue(ctx, "uploads/u1/f1", object.ShortTTL)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/"+testBucket+"/env/uploads/u1/f1", u.Path)
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))

	resp, err := http.Get(raw)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello world", string(body))

	require.NoError(t, store.Delete(ctx, "uploads/u1/f1"))
	require.NoError(t, store.Delete(ctx, "uploads/u1/f1"))

	items, err = store.List(ctx, object.UploadsPrefix)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestIssuerLongTTL(t *testing.T) {
	client := newFakeS3(t)
	issuer := NewIssuer(client, Options{Bucket: testBucket})

	raw, err := issuer.Issue(context.Background(), "avatars/u1-1.png", object.LongTTL)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "604800", u.Query().Get("X-Amz-Expires"))

	_, err = issuer.Issue(context.Background(), "avatars/u1-1.png", -time.Second)
	assert.Error(t, err)
}

func TestNewFromClientRequiresBucket(t *testing.T) {
	_, err := NewFromClient(&s3.Client{}, Options{})
	assert.Error(t, err)
}
