package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Fullstackdeveloper4545/aws/config"
	"github.com/Fullstackdeveloper4545/aws/model"
)

// ArchiveService mirrors raw waybill payloads into object storage, one
// JSON object per record. The relational store stays authoritative;
// archive failures are reported to the caller but never fail an item.
type ArchiveService struct {
	client *minio.Client
	bucket string
	config *config.ArchiveConfig
}

func NewArchiveService(cfg *config.ArchiveConfig) (*ArchiveService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &ArchiveService{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *ArchiveService) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// ArchiveWaybill stores the raw payload for a record under
// waybills/<INIT>/<NUMBER>/<recordID>.json.
func (s *ArchiveService) ArchiveWaybill(ctx context.Context, recordID string, pair model.EquipmentPair, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for archive: %w", err)
	}

	objectName := fmt.Sprintf("waybills/%s/%s/%s.json", pair.Initial, pair.Number, recordID)
	_, err = s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to archive waybill: %w", err)
	}

	return nil
}
