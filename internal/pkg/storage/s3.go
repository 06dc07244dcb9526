package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Generated objects are written once under a job-scoped key and never change.
const immutableCacheControl = "public, max-age=31536000, immutable"

// bucket holds the object operations shared by every S3-compatible backend.
type bucket struct {
	client *s3.Client
	name   string
	vendor string
}

func newS3Client(region, endpoint, accessKey, secretKey string) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Put buffers the body so the request always carries a content length.
func (b *bucket) Put(ctx context.Context, key string, reader io.Reader, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.name),
		Key:           aws.String(objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(immutableCacheControl),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to %s: %w", b.vendor, err)
	}
	return nil
}

func (b *bucket) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete from %s: %w", b.vendor, err)
	}
	return nil
}

func (b *bucket) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s object: %w", b.vendor, err)
	}
	return true, nil
}

// S3Storage stores objects in AWS S3 or an S3-compatible server such as MinIO.
type S3Storage struct {
	*bucket
	endpoint string
}

func NewS3Storage(cfg Config) (*S3Storage, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is not configured")
	}

	endpoint := strings.TrimRight(cfg.S3Endpoint, "/")
	client, err := newS3Client(cfg.S3Region, endpoint, cfg.S3AccessKey, cfg.S3SecretKey)
	if err != nil {
		return nil, err
	}

	return &S3Storage{
		bucket:   &bucket{client: client, name: cfg.S3Bucket, vendor: "S3"},
		endpoint: endpoint,
	}, nil
}

func (s *S3Storage) GetURL(key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.name, objectKey(key))
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.name, objectKey(key))
}
