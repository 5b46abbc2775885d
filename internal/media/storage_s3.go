/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Config configures the S3-compatible object store.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string // default bucket for import prefixes without one
	Endpoint        string // custom endpoint for MinIO and friends
	UsePathStyle    bool
	CacheDir        string // local copies handed to decoders
}

// S3Storage resolves s3://bucket/key locators by downloading the object into
// a local cache.
type S3Storage struct {
	client   *s3.Client
	bucket   string
	cacheDir string
	logger   zerolog.Logger
}

// NewS3Storage creates an S3-based storage backend.
func NewS3Storage(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Storage, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "fadeplay-s3")
	}

	return &S3Storage{
		client:   client,
		bucket:   cfg.Bucket,
		cacheDir: cacheDir,
		logger:   logger.With().Str("component", "s3_storage").Logger(),
	}, nil
}

// ParseS3Locator splits s3://bucket/key. A locator without a bucket uses
// defaultBucket.
func ParseS3Locator(locator, defaultBucket string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(locator, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedLocator, locator)
	}

	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" {
		if defaultBucket == "" {
			return "", "", fmt.Errorf("%w: missing bucket in %s", ErrUnsupportedLocator, locator)
		}
		bucket, key = defaultBucket, strings.TrimPrefix(rest, "/")
	}

	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", "", fmt.Errorf("%w: path traversal in %s", ErrUnsupportedLocator, locator)
		}
	}
	return bucket, key, nil
}

// Resolve downloads the object once and returns the cached local path.
func (s *S3Storage) Resolve(ctx context.Context, locator string) (string, error) {
	bucket, key, err := ParseS3Locator(locator, s.bucket)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", fmt.Errorf("%w: empty key in %s", ErrUnsupportedLocator, locator)
	}

	local := filepath.Join(s.cacheDir, bucket, filepath.FromSlash(key))
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		return local, nil
	}

	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(local), ".download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("move download into cache: %w", err)
	}

	s.logger.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Str("path", local).
		Msg("s3 object cached")

	return local, nil
}

// List returns s3:// locators for audio objects under the prefix locator.
func (s *S3Storage) List(ctx context.Context, prefix string) ([]string, error) {
	bucket, key, err := ParseS3Locator(prefix, s.bucket)
	if err != nil {
		return nil, err
	}

	var out []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(key),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, key, err)
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			if IsAudioFile(k) {
				out = append(out, "s3://"+bucket+"/"+k)
			}
		}
	}
	return out, nil
}

// CheckAccess verifies the default bucket is reachable.
func (s *S3Storage) CheckAccess(ctx context.Context) error {
	if s.bucket == "" {
		return nil
	}
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}
	return nil
}
