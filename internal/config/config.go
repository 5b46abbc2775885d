/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// OutputBackend selects how decoded audio reaches the device.
type OutputBackend string

const (
	OutputBeep      OutputBackend = "beep"
	OutputGStreamer OutputBackend = "gstreamer"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string
	DBBackend   DatabaseBackend
	DBDSN       string

	// Media sources
	MediaRoot     string
	MediaCacheDir string // local copies of s3:// objects

	// Audio output
	OutputBackend    OutputBackend
	GStreamerBin     string
	DiscovererBin    string
	SampleRate       int
	Channels         int
	FadeStep         time.Duration
	WatchdogInterval time.Duration

	// Playback settings file, re-read per command when it changes
	SettingsFile string

	// Logging
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Event relays; empty address disables the relay
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	NATSURL           string
	NATSSubjectPrefix string
	InstanceID        string

	LegacyEnvWarnings []string
}

// Load reads an optional .env file and environment variables, applies
// defaults, and validates the result. Variables already set in the
// environment win over the .env file.
func Load() (*Config, error) {
	envFile := getEnvAny([]string{"FADEPLAY_ENV_FILE"}, ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{
		Environment: getEnvAny([]string{"FADEPLAY_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"FADEPLAY_HTTP_BIND"}, "127.0.0.1"),
		HTTPPort:    getEnvIntAny([]string{"FADEPLAY_HTTP_PORT"}, 8080),
		MetricsBind: getEnvAny([]string{"FADEPLAY_METRICS_BIND"}, "127.0.0.1:9000"),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"FADEPLAY_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:       getEnvAny([]string{"FADEPLAY_DB_DSN"}, "fadeplay.db"),

		MediaRoot:     getEnvAny([]string{"FADEPLAY_MEDIA_ROOT"}, "./media"),
		MediaCacheDir: getEnvAny([]string{"FADEPLAY_MEDIA_CACHE_DIR"}, ""),

		OutputBackend:    OutputBackend(getEnvAny([]string{"FADEPLAY_OUTPUT"}, string(OutputBeep))),
		GStreamerBin:     getEnvAny([]string{"FADEPLAY_GSTREAMER_BIN"}, "gst-launch-1.0"),
		DiscovererBin:    getEnvAny([]string{"FADEPLAY_DISCOVERER_BIN"}, "gst-discoverer-1.0"),
		SampleRate:       getEnvIntAny([]string{"FADEPLAY_SAMPLE_RATE"}, 44100),
		Channels:         getEnvIntAny([]string{"FADEPLAY_CHANNELS"}, 2),
		FadeStep:         time.Duration(getEnvIntAny([]string{"FADEPLAY_FADE_STEP_MS"}, 50)) * time.Millisecond,
		WatchdogInterval: time.Duration(getEnvIntAny([]string{"FADEPLAY_WATCHDOG_INTERVAL_MS"}, 500)) * time.Millisecond,

		SettingsFile: getEnvAny([]string{"FADEPLAY_SETTINGS_FILE"}, ""),

		LogFile:       getEnvAny([]string{"FADEPLAY_LOG_FILE"}, ""),
		LogMaxSizeMB:  getEnvIntAny([]string{"FADEPLAY_LOG_MAX_SIZE_MB"}, 50),
		LogMaxBackups: getEnvIntAny([]string{"FADEPLAY_LOG_MAX_BACKUPS"}, 5),
		LogMaxAgeDays: getEnvIntAny([]string{"FADEPLAY_LOG_MAX_AGE_DAYS"}, 28),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"FADEPLAY_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"FADEPLAY_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"FADEPLAY_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"FADEPLAY_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"FADEPLAY_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"FADEPLAY_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"FADEPLAY_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"FADEPLAY_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"FADEPLAY_TRACING_SAMPLE_RATE"}, 1.0),

		RedisAddr:         getEnvAny([]string{"FADEPLAY_REDIS_ADDR"}, ""),
		RedisPassword:     getEnvAny([]string{"FADEPLAY_REDIS_PASSWORD"}, ""),
		RedisDB:           getEnvIntAny([]string{"FADEPLAY_REDIS_DB"}, 0),
		NATSURL:           getEnvAny([]string{"FADEPLAY_NATS_URL"}, ""),
		NATSSubjectPrefix: getEnvAny([]string{"FADEPLAY_NATS_SUBJECT_PREFIX"}, "fadeplay"),
		InstanceID:        getEnvAny([]string{"FADEPLAY_INSTANCE_ID"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("FADEPLAY_DB_DSN must be provided")
	}

	if cfg.OutputBackend != OutputBeep && cfg.OutputBackend != OutputGStreamer {
		return nil, fmt.Errorf("unsupported output backend %q", cfg.OutputBackend)
	}

	if cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("sample rate and channels must be positive")
	}

	if cfg.FadeStep <= 0 {
		return nil, fmt.Errorf("FADEPLAY_FADE_STEP_MS must be positive")
	}

	if cfg.WatchdogInterval <= 0 {
		return nil, fmt.Errorf("FADEPLAY_WATCHDOG_INTERVAL_MS must be positive")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.S3Endpoint != "" && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("FADEPLAY_S3_BUCKET is required when FADEPLAY_S3_ENDPOINT is set in production")
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// detectLegacyEnvWarnings flags playback settings set through the
// environment; they only take effect from the settings file.
func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"FADEPLAY_FADE_DURATION_MS": "set fadeDurationMs in the settings file",
		"FADEPLAY_FADE_ON_STOP":     "set fadeOnStop in the settings file",
		"FADEPLAY_SHUFFLE":          "set shuffleEnabled in the settings file",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("env key %s is ignored; %s", key, recommendation))
		}
	}
	return warnings
}

// HTTPAddr returns the API listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
