package minio

import (
	"context"
	"net/url"
	"time"

	"cleanops/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("minio.client", fx.Provide(registerClient, NewStore))

// registerClient returns nil when no endpoint is configured so the photo
// store can fall back to database rows.
func registerClient(c *config.Config) *minio.Client {
	if c.Minio.Endpoint == "" {
		zap.L().Info("MinIO endpoint not configured, object storage disabled")
		return nil
	}

	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		zap.L().Fatal("failed to create MinIO client", zap.Error(err))
	}
	exists, errBucketExists := client.BucketExists(context.Background(), c.Minio.BucketName)
	if errBucketExists != nil {
		zap.L().Fatal("failed to check if bucket exists", zap.String("bucket", c.Minio.BucketName), zap.Error(errBucketExists))
	}
	zap.L().Info("MinIO client initialized", zap.String("endpoint", c.Minio.Endpoint), zap.Bool("bucketExists", exists))
	return client
}

// Store is the slice of object storage the photo flow needs.
type Store interface {
	CountObjects(ctx context.Context, prefix string) (int64, error)
	PresignedPutURL(ctx context.Context, objectName string, expiry time.Duration) (*url.URL, error)
}

type store struct {
	client *minio.Client
	bucket string
}

func NewStore(client *minio.Client, c *config.Config) Store {
	if client == nil {
		return nil
	}
	return &store{client: client, bucket: c.Minio.BucketName}
}

func (s *store) CountObjects(ctx context.Context, prefix string) (int64, error) {
	var n int64
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return 0, obj.Err
		}
		n++
	}
	return n, nil
}

func (s *store) PresignedPutURL(ctx context.Context, objectName string, expiry time.Duration) (*url.URL, error) {
	return s.client.PresignedPutObject(ctx, s.bucket, objectName, expiry)
}
