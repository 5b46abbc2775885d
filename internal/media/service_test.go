/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/fadeplay/internal/config"
)

func TestNewService(t *testing.T) {
	logger := zerolog.Nop()

	tests := []struct {
		name   string
		bucket string
		wantS3 bool
	}{
		{name: "filesystem only when no bucket", bucket: "", wantS3: false},
		{name: "s3 backend when bucket configured", bucket: "music", wantS3: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				MediaRoot: t.TempDir(),
				S3Bucket:  tt.bucket,
				S3Region:  "us-east-1",
			}

			svc, err := NewService(cfg, logger)
			if err != nil {
				t.Fatalf("NewService() error = %v", err)
			}
			if _, ok := svc.fs.(*FilesystemStorage); !ok {
				t.Errorf("fs backend type = %T, want *FilesystemStorage", svc.fs)
			}
			if got := svc.s3 != nil; got != tt.wantS3 {
				t.Errorf("s3 configured = %v, want %v", got, tt.wantS3)
			}
		})
	}
}

func TestServiceResolveLocal(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.mp3"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	svc := NewServiceWithStorage(NewFilesystemStorage(root, zerolog.Nop()), nil, zerolog.Nop())

	for _, loc := range []string{"a.mp3", "file://" + filepath.Join(root, "a.mp3"), filepath.Join(root, "a.mp3")} {
		got, err := svc.Resolve(context.Background(), loc)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", loc, err)
		}
		if got != filepath.Join(root, "a.mp3") {
			t.Errorf("Resolve(%q) = %q", loc, got)
		}
	}

	if _, err := svc.Resolve(context.Background(), "missing.mp3"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestServiceResolveUnsupported(t *testing.T) {
	svc := NewServiceWithStorage(NewFilesystemStorage(t.TempDir(), zerolog.Nop()), nil, zerolog.Nop())

	for _, loc := range []string{"http://example.com/a.mp3", "s3://bucket/a.mp3"} {
		if _, err := svc.Resolve(context.Background(), loc); !errors.Is(err, ErrUnsupportedLocator) {
			t.Errorf("Resolve(%q) error = %v, want ErrUnsupportedLocator", loc, err)
		}
	}
}

func TestFilesystemList(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b.flac", "a.mp3", "cover.jpg", "sub/c.ogg"} {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := NewFilesystemStorage(root, zerolog.Nop()).List(context.Background(), root)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{
		filepath.Join(root, "a.mp3"),
		filepath.Join(root, "b.flac"),
		filepath.Join(root, "sub", "c.ogg"),
	}
	if len(files) != len(want) {
		t.Fatalf("List() = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestParseS3Locator(t *testing.T) {
	tests := []struct {
		name       string
		locator    string
		def        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{name: "bucket and key", locator: "s3://music/rock/a.mp3", wantBucket: "music", wantKey: "rock/a.mp3"},
		{name: "default bucket", locator: "s3:///a.mp3", def: "music", wantBucket: "music", wantKey: "a.mp3"},
		{name: "no bucket no default", locator: "s3:///a.mp3", wantErr: true},
		{name: "traversal", locator: "s3://music/../etc/passwd", wantErr: true},
		{name: "wrong scheme", locator: "gs://music/a.mp3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := ParseS3Locator(tt.locator, tt.def)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if bucket != tt.wantBucket || key != tt.wantKey {
				t.Errorf("got (%q, %q), want (%q, %q)", bucket, key, tt.wantBucket, tt.wantKey)
			}
		})
	}
}
