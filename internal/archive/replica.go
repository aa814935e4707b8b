package archive

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ReplicaConfig configures an S3-compatible replica.
type ReplicaConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// ObjectReplica uploads canonical files to an object store bucket.
type ObjectReplica struct {
	mc     *minio.Client
	bucket string
	prefix string
}

var _ Replica = (*ObjectReplica)(nil)

// NewObjectReplica creates the client and makes sure the bucket exists.
func NewObjectReplica(ctx context.Context, cfg ReplicaConfig) (*ObjectReplica, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("replica endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("replica access key and secret key are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "wallpapers"
	}
	r := &ObjectReplica{mc: mc, bucket: bucket, prefix: cfg.Prefix}
	if err := r.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ObjectReplica) ensureBucket(ctx context.Context) error {
	exists, err := r.mc.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := r.mc.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// Put uploads the file at path under prefix+objectKey.
func (r *ObjectReplica) Put(ctx context.Context, objectKey, path string) error {
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := r.prefix + objectKey
	if _, err := r.mc.FPutObject(ctx, r.bucket, key, path, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
