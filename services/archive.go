package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"railway-accident-analytics/config"
)

// ArchivedDataset records where an uploaded CSV was stored.
type ArchivedDataset struct {
	Key      string `json:"key"`
	Bucket   string `json:"bucket"`
	Size     int64  `json:"size"`
	Checksum string `json:"sha256"`
}

// ArchiveService keeps raw uploaded datasets in object storage. A disabled
// service accepts every call and stores nothing.
type ArchiveService struct {
	client *minio.Client
	bucket string
	now    func() time.Time
	log    logrus.FieldLogger
}

func NewArchiveService(ctx context.Context, cfg config.ArchiveConfig, logger logrus.FieldLogger) (*ArchiveService, error) {
	s := &ArchiveService{bucket: cfg.Bucket, now: time.Now, log: logger}
	if !cfg.Enabled {
		return s, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		logger.WithField("bucket", cfg.Bucket).Info("archive bucket created")
	}
	s.client = client
	return s, nil
}

func (s *ArchiveService) Enabled() bool {
	return s != nil && s.client != nil
}

// ObjectKey builds datasets/<yyyy/mm/dd>/<uuid>.csv for the given time.
func ObjectKey(at time.Time, id uuid.UUID) string {
	return fmt.Sprintf("datasets/%s/%s.csv", at.UTC().Format("2006/01/02"), id)
}

// Store uploads r. It returns nil, nil when archiving is disabled.
func (s *ArchiveService) Store(ctx context.Context, r io.Reader, size int64, filename string) (*ArchivedDataset, error) {
	if !s.Enabled() {
		return nil, nil
	}
	key := ObjectKey(s.now(), uuid.New())
	hasher := sha256.New()
	info, err := s.client.PutObject(ctx, s.bucket, key, io.TeeReader(r, hasher), size, minio.PutObjectOptions{
		ContentType:  "text/csv",
		UserMetadata: map[string]string{"original-name": filename},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive dataset: %w", err)
	}
	s.log.WithFields(logrus.Fields{"key": key, "bytes": info.Size}).Info("dataset archived")
	return &ArchivedDataset{
		Key:      key,
		Bucket:   s.bucket,
		Size:     info.Size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}
