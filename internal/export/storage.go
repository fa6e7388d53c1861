package export

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/epicweb-dev/epic-me-mcp/internal/util"
)

const presignExpiry = 15 * time.Minute

// S3Uploader stores finished exports in an S3-compatible bucket and hands
// back presigned download links.
type S3Uploader struct {
	client *minio.Client
	bucket string
}

func NewS3Uploader(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*S3Uploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &S3Uploader{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the export bucket if it does not exist yet.
func (u *S3Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", u.bucket, err)
	}
	return nil
}

// Upload writes the export under a random key and returns a presigned GET
// URL valid for fifteen minutes.
func (u *S3Uploader) Upload(ctx context.Context, filename string, data []byte, mimeType string) (string, error) {
	key := fmt.Sprintf("exports/%s/%s", util.NewID("exp"), filename)
	_, err := u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, key, presignExpiry, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return presigned.String(), nil
}
