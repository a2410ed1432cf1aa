// Package cloud uploads report artifacts to S3.
package cloud

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// putObjectAPI is the subset of the S3 client used here.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Client wraps S3 operations for report upload.
type S3Client struct {
	client putObjectAPI
	bucket string
}

// NewS3Client creates an S3 client for the given bucket.
func NewS3Client(ctx context.Context, bucket, region string) (*S3Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &S3Client{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

// Bucket returns the target bucket name.
func (c *S3Client) Bucket() string { return c.bucket }

// ReportKey returns the object key for a local artifact under prefix.
func ReportKey(prefix, localPath string) string {
	return path.Join(strings.Trim(prefix, "/"), filepath.Base(localPath))
}

// UploadReports uploads each file in paths under prefix and returns the
// object keys in the same order. It stops at the first failure.
func (c *S3Client) UploadReports(ctx context.Context, prefix string, paths []string) ([]string, error) {
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		key := ReportKey(prefix, p)
		if err := c.putFile(ctx, key, p); err != nil {
			return keys, fmt.Errorf("uploading %s to s3://%s/%s: %w", p, c.bucket, key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (c *S3Client) putFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(localPath)),
	})
	return err
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".json":
		return "application/json"
	case ".parquet":
		return "application/vnd.apache.parquet"
	}
	return "application/octet-stream"
}
