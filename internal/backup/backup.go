// Package backup copies the committed database to S3-compatible object
// storage. It runs as an after-commit hook, so a failed upload is reported
// but never undoes a commit.
package backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/erpdb/internal/commit"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// Uploader is the part of the S3 client a backup needs.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Backup uploads database snapshots under a key prefix.
type Backup struct {
	client Uploader
	bucket string
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewClient builds an S3 client from cfg using the default credential chain.
// A custom endpoint switches to path-style addressing for MinIO and similar
// servers.
func NewClient(ctx context.Context, cfg types.BackupConfig) (*s3.Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("backup bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// New returns a backup writing to cfg.Bucket.
func New(client Uploader, cfg types.BackupConfig, logger *zap.Logger) *Backup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backup{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
		now:    time.Now,
	}
}

// Key returns the object key for a snapshot of file taken at t.
func (b *Backup) Key(file string, t time.Time) string {
	base := filepath.Base(file)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	name := fmt.Sprintf("%s/%s%s", stem, t.UTC().Format("20060102T150405Z"), ext)
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

// Upload copies file to the bucket and returns the object key.
func (b *Backup) Upload(ctx context.Context, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()
	key := b.Key(file, b.now())
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", &types.ProviderError{Provider: "backup", Item: key, Err: err}
	}
	b.logger.Info("database backed up", zap.String("bucket", b.bucket), zap.String("key", key))
	return key, nil
}

// Hook uploads the committed file after every successful commit.
func (b *Backup) Hook() commit.Hook {
	return func(ctx context.Context, res commit.Result) error {
		_, err := b.Upload(ctx, res.Path)
		return err
	}
}
