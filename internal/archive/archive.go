package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/GoSim-25-26J-441/adsec-backend/config"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Client stores gzip-compressed uploads in an S3-compatible bucket
type Client struct {
	mc     *minio.Client
	bucket string
}

// New returns nil when no endpoint is configured
func New(cfg config.StorageConfig) (*Client, error) {
	if cfg.S3Endpoint == "" {
		return nil, nil
	}
	mc, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	return &Client{mc: mc, bucket: cfg.UploadsBucket}, nil
}

// EnsureBucket creates the uploads bucket when it is missing
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
	}
	return nil
}

// ObjectKey names the archived copy of one upload generation
func ObjectKey(assessmentID string, generation int64, at time.Time) string {
	return path.Join("assessments", assessmentID, fmt.Sprintf("%06d-%s.json.gz", generation, at.UTC().Format("20060102T150405Z")))
}

func (c *Client) Store(ctx context.Context, assessmentID string, generation int64, compressed []byte) (string, error) {
	key := ObjectKey(assessmentID, generation, time.Now())
	_, err := c.mc.PutObject(ctx, c.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), minio.PutObjectOptions{
		ContentType:     "application/json",
		ContentEncoding: "gzip",
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive upload: %w", err)
	}
	return key, nil
}
