/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noEnvFile(t *testing.T) {
	t.Helper()
	t.Setenv("FADEPLAY_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoadDefaults(t *testing.T) {
	noEnvFile(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite || cfg.DBDSN != "fadeplay.db" {
		t.Fatalf("unexpected database defaults: %s %q", cfg.DBBackend, cfg.DBDSN)
	}
	if cfg.OutputBackend != OutputBeep {
		t.Fatalf("unexpected output backend: %s", cfg.OutputBackend)
	}
	if cfg.FadeStep != 50*time.Millisecond {
		t.Fatalf("unexpected fade step: %s", cfg.FadeStep)
	}
	if cfg.HTTPAddr() != "127.0.0.1:8080" {
		t.Fatalf("unexpected http addr: %s", cfg.HTTPAddr())
	}
}

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	noEnvFile(t)
	t.Setenv("FADEPLAY_DB_BACKEND", "postgres")
	t.Setenv("FADEPLAY_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("FADEPLAY_OUTPUT", "gstreamer")
	t.Setenv("FADEPLAY_SAMPLE_RATE", "48000")
	t.Setenv("FADEPLAY_S3_USE_PATH_STYLE", "yes")
	t.Setenv("FADEPLAY_TRACING_SAMPLE_RATE", "0.25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabasePostgres {
		t.Fatalf("unexpected backend: %s", cfg.DBBackend)
	}
	if cfg.OutputBackend != OutputGStreamer || cfg.SampleRate != 48000 {
		t.Fatalf("unexpected output config: %s %d", cfg.OutputBackend, cfg.SampleRate)
	}
	if !cfg.S3UsePathStyle {
		t.Fatal("expected path style s3")
	}
	if cfg.TracingSampleRate != 0.25 {
		t.Fatalf("unexpected sample rate: %v", cfg.TracingSampleRate)
	}
}

func TestLoadFallsBackToAWSKeys(t *testing.T) {
	noEnvFile(t)
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.S3AccessKeyID != "AKIA" || cfg.S3Region != "eu-west-1" {
		t.Fatalf("unexpected s3 credentials: %q %q", cfg.S3AccessKeyID, cfg.S3Region)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"database backend", "FADEPLAY_DB_BACKEND", "oracle"},
		{"output backend", "FADEPLAY_OUTPUT", "alsa"},
		{"fade step", "FADEPLAY_FADE_STEP_MS", "0"},
		{"watchdog", "FADEPLAY_WATCHDOG_INTERVAL_MS", "-5"},
		{"channels", "FADEPLAY_CHANNELS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			noEnvFile(t)
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", tt.key, tt.val)
			}
		})
	}
}

func TestLoadReadsEnvFileWithoutOverriding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("FADEPLAY_HTTP_PORT=9191\nFADEPLAY_MEDIA_ROOT=/from/file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FADEPLAY_ENV_FILE", path)
	t.Setenv("FADEPLAY_MEDIA_ROOT", "/from/env")
	t.Setenv("FADEPLAY_HTTP_PORT", "")
	// godotenv only fills unset keys; clear the port so the file applies.
	os.Unsetenv("FADEPLAY_HTTP_PORT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 9191 {
		t.Fatalf("port from env file = %d, want 9191", cfg.HTTPPort)
	}
	if cfg.MediaRoot != "/from/env" {
		t.Fatalf("media root = %q, env should win", cfg.MediaRoot)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	noEnvFile(t)
	t.Setenv("FADEPLAY_SHUFFLE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) != 1 {
		t.Fatalf("expected one legacy env warning, got %v", cfg.LegacyEnvWarnings)
	}
}
