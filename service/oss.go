package service

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"StoryboardVideo-server/config"
)

// MinIOArchive stores exported videos in a bucket and hands out presigned URLs.
type MinIOArchive struct {
	Client *minio.Client
	Bucket string
	Expiry time.Duration
	Log    *logrus.Entry
}

// NewMinIOArchive returns nil when the archive is disabled.
func NewMinIOArchive(cfg *config.Config, log *logrus.Entry) (*MinIOArchive, error) {
	if !cfg.MinIO.Enabled {
		return nil, nil
	}
	client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
		Secure: cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	expiry := time.Duration(cfg.MinIO.ExpiryHours) * time.Hour
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	log.WithField("endpoint", cfg.MinIO.Endpoint).Info("MinIO archive enabled")
	return &MinIOArchive{Client: client, Bucket: cfg.MinIO.Bucket, Expiry: expiry, Log: log}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (a *MinIOArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.Client.BucketExists(ctx, a.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.Client.MakeBucket(ctx, a.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	a.Log.WithField("bucket", a.Bucket).Info("bucket created")
	return nil
}

func (a *MinIOArchive) Archive(ctx context.Context, key string, data []byte) (string, error) {
	if err := a.EnsureBucket(ctx); err != nil {
		return "", err
	}
	_, err := a.Client.PutObject(ctx, a.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentTypeFor(key),
	})
	if err != nil {
		return "", fmt.Errorf("upload to MinIO: %w", err)
	}

	reqParams := make(url.Values)
	reqParams.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(key)))
	presigned, err := a.Client.PresignedGetObject(ctx, a.Bucket, key, a.Expiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("presign URL: %w", err)
	}
	a.Log.WithFields(logrus.Fields{"key": key, "bytes": len(data)}).Info("export archived")
	return presigned.String(), nil
}

func contentTypeFor(name string) string {
	switch filepath.Ext(name) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".mp4":
		return "video/mp4"
	}
	return "application/octet-stream"
}
