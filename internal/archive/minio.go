// Package archive stores exported minutes artifacts in S3-compatible
// object storage so adjourned meetings keep a durable copy of their
// record outside the database.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Service uploads and serves archived minutes exports.
type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Service{client: client, bucket: cfg.Bucket}, nil
}

// StoreExport uploads one exported artifact and returns its object key.
func (s *Service) StoreExport(ctx context.Context, meetingID, filename, contentType string, data []byte) (string, error) {
	key := objectKey(meetingID, filename, time.Now().UTC())
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	return key, nil
}

// PresignedURL returns a time-limited download link for an archived export.
func (s *Service) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign export url: %w", err)
	}
	return u.String(), nil
}

// ListExports returns the object keys archived for one meeting.
func (s *Service) ListExports(ctx context.Context, meetingID string) ([]string, error) {
	var keys []string
	prefix := "meetings/" + meetingID + "/"
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list exports: %w", object.Err)
		}
		keys = append(keys, object.Key)
	}
	return keys, nil
}

func objectKey(meetingID, filename string, at time.Time) string {
	return fmt.Sprintf("meetings/%s/%s-%s", meetingID, at.Format("20060102T150405Z"), filename)
}
