package storage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yourorg/portfolio-cms/internal/config"
	"github.com/yourorg/portfolio-cms/internal/model"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// S3Uploader transfers uploads to an S3 bucket
type S3Uploader struct {
	bucket   string
	baseURL  string
	uploader *s3manager.Uploader
	logger   *zap.Logger
}

// NewS3Uploader creates a new S3Uploader, creating the bucket when missing
func NewS3Uploader(cfg *config.S3StorageConfig, logger *zap.Logger) (*S3Uploader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	awsCfg := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	s3Client := s3.New(sess)

	_, err = s3Client.HeadBucket(&s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		logger.Info("Bucket not found, creating it", zap.String("bucket", cfg.Bucket))
		_, err = s3Client.CreateBucket(&s3.CreateBucketInput{
			Bucket: aws.String(cfg.Bucket),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 bucket: %w", err)
		}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}

	return &S3Uploader{
		bucket:   cfg.Bucket,
		baseURL:  baseURL,
		uploader: s3manager.NewUploader(sess),
		logger:   logger,
	}, nil
}

// Transfer uploads the file under <project>/<id><ext>
func (s *S3Uploader) Transfer(ctx context.Context, file model.File, projectID string, onProgress ProgressFunc) (*RemoteAsset, error) {
	dir, err := projectDir(projectID)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()

	ext := filepath.Ext(file.Name)
	if ext == "" {
		ext = ".bin"
	}
	key := fmt.Sprintf("%s/%s%s", dir, id, ext)

	total := int64(len(file.Data))
	emit(onProgress, 0, total)

	// The wrapper hides io.Seeker so s3manager reads sequentially and progress is monotonic
	body := newProgressReader(bytes.NewReader(file.Data), total, onProgress)

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(file.ContentType),
		ACL:         aws.String("public-read"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file to S3: %w", err)
	}

	s.logger.Debug("Uploaded to S3", zap.String("key", key), zap.Int64("size", total))

	return &RemoteAsset{
		ID:  id,
		URL: fmt.Sprintf("%s/%s", s.baseURL, key),
	}, nil
}
