/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/fadeplay/internal/config"
)

// ErrUnsupportedLocator is returned for locator schemes no backend handles.
var ErrUnsupportedLocator = errors.New("unsupported source locator")

// Storage resolves locators into local paths a decoder can open.
type Storage interface {
	Resolve(ctx context.Context, locator string) (string, error)
	List(ctx context.Context, dir string) ([]string, error)
	CheckAccess(ctx context.Context) error
}

// Service routes locators to the filesystem or S3 backend.
type Service struct {
	fs     Storage
	s3     Storage
	logger zerolog.Logger
}

// NewService creates a media service. The S3 backend is only configured when
// a bucket or endpoint is set.
func NewService(cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	logger = logger.With().Str("component", "media").Logger()
	svc := &Service{
		fs:     NewFilesystemStorage(cfg.MediaRoot, logger),
		logger: logger,
	}

	if cfg.S3Bucket != "" || cfg.S3Endpoint != "" {
		s3cfg := S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			UsePathStyle:    cfg.S3UsePathStyle,
			CacheDir:        cfg.MediaCacheDir,
		}

		if s3cfg.AccessKeyID == "" || s3cfg.SecretAccessKey == "" {
			logger.Warn().Msg("S3 credentials not configured, falling back to the default credential chain")
		}

		s3Storage, err := NewS3Storage(context.Background(), s3cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		svc.s3 = s3Storage
	}

	return svc, nil
}

// NewServiceWithStorage wires explicit backends. s3 may be nil.
func NewServiceWithStorage(fs, s3 Storage, logger zerolog.Logger) *Service {
	return &Service{fs: fs, s3: s3, logger: logger}
}

func (s *Service) backend(locator string) (Storage, error) {
	switch {
	case strings.HasPrefix(locator, "s3://"):
		if s.s3 == nil {
			return nil, fmt.Errorf("%w: s3 storage not configured", ErrUnsupportedLocator)
		}
		return s.s3, nil
	case strings.HasPrefix(locator, "file://"), !strings.Contains(locator, "://"):
		return s.fs, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocator, locator)
	}
}

// Resolve returns a local path for the locator.
func (s *Service) Resolve(ctx context.Context, locator string) (string, error) {
	b, err := s.backend(locator)
	if err != nil {
		return "", err
	}
	path, err := b.Resolve(ctx, locator)
	if err != nil {
		s.logger.Warn().Err(err).Str("locator", locator).Msg("resolve failed")
		return "", fmt.Errorf("resolve %s: %w", locator, err)
	}
	return path, nil
}

// List returns locators of audio files under dir.
func (s *Service) List(ctx context.Context, dir string) ([]string, error) {
	b, err := s.backend(dir)
	if err != nil {
		return nil, err
	}
	return b.List(ctx, dir)
}

// CheckStorageAccess verifies that the configured backends are accessible.
func (s *Service) CheckStorageAccess() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.fs.CheckAccess(ctx); err != nil {
		return err
	}
	if s.s3 != nil {
		return s.s3.CheckAccess(ctx)
	}
	return nil
}
