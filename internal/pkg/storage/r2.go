package storage

import (
	"fmt"
	"strings"
)

// R2Storage stores objects in Cloudflare R2 and serves them from a public CDN host.
type R2Storage struct {
	*bucket
	publicURL string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	BucketName      string
	PublicURL       string // e.g. https://cdn.adgen.app
}

func NewR2Storage(cfg R2Config) (*R2Storage, error) {
	if cfg.AccountID == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("r2 account id and bucket are required")
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	client, err := newS3Client("auto", endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	return &R2Storage{
		bucket:    &bucket{client: client, name: cfg.BucketName, vendor: "R2"},
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

func (s *R2Storage) GetURL(key string) string {
	if s.publicURL != "" {
		return fmt.Sprintf("%s/%s", s.publicURL, objectKey(key))
	}
	return fmt.Sprintf("https://%s.r2.dev/%s", s.name, objectKey(key))
}
