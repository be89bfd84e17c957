// Package archive implements coordinator.Archiver over S3, following a common aws_s3
// connection pattern, using the multipart upload manager for the larger archive bodies a busy
// tx-data table's garbage collection can produce.
package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config names the bucket and endpoint an archiver writes to, mirroring aws_s3.Config.
type Config struct {
	Bucket          string
	Region          string
	HostEndpointURL string
	AccessKeyID     string
	SecretAccessKey string
	KeyPrefix       string
}

// Connect builds an s3.Client the way an aws_s3.Connect helper would.
func Connect(cfg Config) *s3.Client {
	return s3.NewFromConfig(aws.Config{Region: cfg.Region}, func(o *s3.Options) {
		if cfg.HostEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.HostEndpointURL)
		}
		if cfg.AccessKeyID != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		}
	})
}

// S3Archiver implements coordinator.Archiver by uploading each archived transaction's JSON
// body as one object, keyed by KeyPrefix plus the object key CollectGarbage supplies.
type S3Archiver struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Archiver wraps client in a multipart upload manager targeting bucket.
func NewS3Archiver(client *s3.Client, bucket, keyPrefix string) *S3Archiver {
	return &S3Archiver{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   keyPrefix,
	}
}

// Archive uploads body under prefix+key, satisfying coordinator.Archiver.
func (a *S3Archiver) Archive(ctx context.Context, key string, body []byte) error {
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.prefix + key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("archive: upload %s: %w", key, err)
	}
	return nil
}
