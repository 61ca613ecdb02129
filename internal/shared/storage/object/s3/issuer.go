package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"filevault/internal/shared/storage/object"
)

// Issuer presigns GET URLs for blobs. Signing is local; no request is sent.
type Issuer struct {
	presign *s3.PresignClient
	bucket  string
	prefix  string
}

// NewIssuer builds an Issuer for the same bucket and prefix as the store.
func NewIssuer(client *s3.Client, opts Options) *Issuer {
	return &Issuer{
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
		prefix:  normalizePrefix(opts.Prefix),
	}
}

// Issue returns a SigV4 presigned GET URL valid for ttl.
func (i *Issuer) Issue(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := object.ValidateKey(key); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}
	req, err := i.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(i.bucket),
		Key:    aws.String(applyPrefix(i.prefix, key)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("s3 presign get object key=%s: %w", key, err)
	}
	return req.URL, nil
}

var _ object.URLIssuer = (*Issuer)(nil)
