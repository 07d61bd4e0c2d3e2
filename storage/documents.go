package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const maxDocumentBytes int64 = 10 * 1024 * 1024

// DocumentStorage archives raw ingested documents in MinIO/S3 so the
// original upload can be re-examined or re-ingested later. The database
// chunks are the source of truth for retrieval; this archive is auxiliary.
type DocumentStorage struct {
	client *minio.Client
	bucket string
}

// NewDocumentStorageFromEnv initialises DocumentStorage using MINIO_*
// environment variables. Returns (nil, nil) when MinIO is not configured:
// the archive is optional and ingestion proceeds without it.
func NewDocumentStorageFromEnv() (*DocumentStorage, error) {
	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	bucket := strings.TrimSpace(os.Getenv("MINIO_BUCKET"))
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, nil
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("MINIO_USE_SSL")), "true")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &DocumentStorage{client: client, bucket: bucket}, nil
}

// Save stores the raw document beneath documents/<personaID>/ and returns the
// object key. The key is persisted on the document record.
func (s *DocumentStorage) Save(ctx context.Context, personaID uint64, filename string, data []byte) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("document storage not configured")
	}
	if len(data) == 0 {
		return "", errors.New("document payload is empty")
	}
	if int64(len(data)) > maxDocumentBytes {
		return "", fmt.Errorf("document size exceeds %d bytes", maxDocumentBytes)
	}

	contentType := http.DetectContentType(data)
	objectName := path.Join(
		"documents",
		fmt.Sprintf("%d", personaID),
		fmt.Sprintf("%s%s", uuid.NewString(), documentExtension(filename)),
	)

	uploadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(uploadCtx, s.bucket, objectName, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("archive document: %w", err)
	}
	return objectName, nil
}

// Remove deletes an archived document by its object key.
func (s *DocumentStorage) Remove(ctx context.Context, objectName string) error {
	if s == nil || s.client == nil {
		return nil
	}
	trimmed := strings.TrimSpace(objectName)
	if trimmed == "" {
		return nil
	}

	removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.client.RemoveObject(removeCtx, s.bucket, trimmed, minio.RemoveObjectOptions{})
}

// PresignedURL returns a temporary download URL for an archived document.
func (s *DocumentStorage) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("document storage not configured")
	}
	trimmed := strings.TrimSpace(objectName)
	if trimmed == "" {
		return "", nil
	}
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	presignCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url, err := s.client.PresignedGetObject(presignCtx, s.bucket, trimmed, expiry, nil)
	if err != nil {
		return "", err
	}
	return url.String(), nil
}

func documentExtension(filename string) string {
	ext := strings.ToLower(strings.TrimSpace(path.Ext(filename)))
	switch ext {
	case ".md", ".markdown", ".txt", ".json", ".csv", ".html":
		return ext
	default:
		return ".txt"
	}
}
