package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/formy-ai/formy/pkg/config"
	"github.com/formy-ai/formy/pkg/model"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// S3Store implements ObjectStore on any S3-compatible backend (MinIO, AWS S3).
type S3Store struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// NewS3Store creates the client and makes sure the bucket exists.
func NewS3Store(conf config.StorageConfig) (*S3Store, error) {
	client, err := minio.New(conf.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.S3AccessKey, conf.S3SecretKey, ""),
		Secure: conf.S3Secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create S3 client")
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, conf.S3Bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to check bucket %q", conf.S3Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, conf.S3Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrapf(err, "failed to create bucket %q", conf.S3Bucket)
		}
	}

	scheme := "http"
	if conf.S3Secure {
		scheme = "https"
	}
	baseURL := strings.TrimRight(conf.PublicBaseURL, "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, conf.S3Endpoint, conf.S3Bucket)
	}

	return &S3Store{client: client, bucket: conf.S3Bucket, baseURL: baseURL}, nil
}

func (s *S3Store) Save(ctx context.Context, category Category, name string, r io.Reader, size int64, contentType string) (*StoredObject, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".png"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := string(category) + "/" + model.NewFileID() + ext

	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to upload %s", key)
	}
	return &StoredObject{Key: key, URL: s.baseURL + "/" + key, Size: info.Size}, nil
}

func (s *S3Store) Load(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s", key)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", key)
	}
	return buf.Bytes(), nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

// Sweep removes objects past the retention window across both categories.
func (s *S3Store) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, prefix := range []string{string(CategoryUpload) + "/", string(CategoryResult) + "/"} {
		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				return removed, obj.Err
			}
			if obj.LastModified.Before(cutoff) {
				if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err == nil {
					removed++
				}
			}
		}
	}
	return removed, nil
}
