package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lucaslui/hems/sensor-node/internal/config"
)

const parquetContentType = "application/vnd.apache.parquet"

// BucketStore writes archive parts into day partitions under a base
// prefix of one bucket.
type BucketStore struct {
	client *minio.Client
	bucket string
	base   string
}

func NewBucketStore(cfg *config.CollectorConfig) (*BucketStore, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client for %s: %w", cfg.S3Endpoint, err)
	}
	return &BucketStore{client: client, bucket: cfg.S3Bucket, base: cfg.S3BasePath}, nil
}

// Prepare creates the bucket on first use.
func (b *BucketStore) Prepare(ctx context.Context) error {
	ok, err := b.client.BucketExists(ctx, b.bucket)
	switch {
	case err != nil:
		return fmt.Errorf("check bucket %s: %w", b.bucket, err)
	case ok:
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", b.bucket, err)
	}
	return nil
}

// Put stores one parquet part in the partition of at and returns its key.
func (b *BucketStore) Put(ctx context.Context, at time.Time, file string, r io.Reader, size int64) (string, error) {
	key := PartitionKey(b.base, at, file)
	info, err := b.client.PutObject(ctx, b.bucket, key, r, size, minio.PutObjectOptions{ContentType: parquetContentType})
	if err != nil {
		return "", fmt.Errorf("put %s/%s: %w", b.bucket, key, err)
	}
	return info.Key, nil
}

// PartitionKey places file in the UTC day partition of at.
func PartitionKey(base string, at time.Time, file string) string {
	at = at.UTC()
	day := fmt.Sprintf("year=%04d/month=%02d/day=%02d", at.Year(), at.Month(), at.Day())
	return path.Join(base, day, file)
}
