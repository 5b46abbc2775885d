/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultFadeDurationMs is used when no setting is present.
const DefaultFadeDurationMs = 4000

// PlaybackSettings are read at the start of every transport command.
type PlaybackSettings struct {
	FadeDurationMs int  `yaml:"fadeDurationMs" json:"fade_duration_ms"`
	FadeOnStop     bool `yaml:"fadeOnStop" json:"fade_on_stop"`
	ShuffleEnabled bool `yaml:"shuffleEnabled" json:"shuffle_enabled"`
}

// DefaultPlaybackSettings returns the engine defaults.
func DefaultPlaybackSettings() PlaybackSettings {
	return PlaybackSettings{
		FadeDurationMs: DefaultFadeDurationMs,
		FadeOnStop:     true,
	}
}

// FadeDuration returns the fade duration as a time.Duration.
func (s PlaybackSettings) FadeDuration() time.Duration {
	return time.Duration(s.FadeDurationMs) * time.Millisecond
}

// PlaybackSource supplies the current playback settings.
type PlaybackSource interface {
	Playback() PlaybackSettings
}

// ShuffleWriter is implemented by sources that can persist shuffle mode.
type ShuffleWriter interface {
	SetShuffle(enabled bool) error
}

// StaticSettings is an in-memory PlaybackSource.
type StaticSettings struct {
	mu       sync.RWMutex
	settings PlaybackSettings
}

// NewStaticSettings returns a source holding s.
func NewStaticSettings(s PlaybackSettings) *StaticSettings {
	return &StaticSettings{settings: s}
}

// Playback implements PlaybackSource.
func (s *StaticSettings) Playback() PlaybackSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Set replaces all settings.
func (s *StaticSettings) Set(ps PlaybackSettings) {
	s.mu.Lock()
	s.settings = ps
	s.mu.Unlock()
}

// SetShuffle implements ShuffleWriter.
func (s *StaticSettings) SetShuffle(enabled bool) error {
	s.mu.Lock()
	s.settings.ShuffleEnabled = enabled
	s.mu.Unlock()
	return nil
}

// SettingsFile reads playback settings from a YAML file. The file is parsed
// lazily: Watch marks it dirty on change and the next Playback call reloads.
type SettingsFile struct {
	path   string
	logger zerolog.Logger

	mu       sync.Mutex
	settings PlaybackSettings
	dirty    bool
}

// NewSettingsFile loads path. A missing file yields the defaults and is
// created on the first write.
func NewSettingsFile(path string, logger zerolog.Logger) (*SettingsFile, error) {
	f := &SettingsFile{
		path:     path,
		logger:   logger.With().Str("component", "settings").Logger(),
		settings: DefaultPlaybackSettings(),
	}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the settings file location.
func (f *SettingsFile) Path() string { return f.path }

// Playback implements PlaybackSource. A file that fails to parse keeps the
// last good settings.
func (f *SettingsFile) Playback() PlaybackSettings {
	f.mu.Lock()
	dirty := f.dirty
	f.mu.Unlock()

	if dirty {
		if err := f.reload(); err != nil {
			f.logger.Warn().Err(err).Str("path", f.path).Msg("settings reload failed, keeping previous values")
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

// SetShuffle rewrites the file with the new shuffle mode.
func (f *SettingsFile) SetShuffle(enabled bool) error {
	f.mu.Lock()
	next := f.settings
	next.ShuffleEnabled = enabled
	f.mu.Unlock()

	if err := f.write(next); err != nil {
		return err
	}

	f.mu.Lock()
	f.settings = next
	f.dirty = false
	f.mu.Unlock()
	return nil
}

func (f *SettingsFile) reload() error {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		f.mu.Lock()
		f.settings = DefaultPlaybackSettings()
		f.dirty = false
		f.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	parsed, err := ParsePlaybackSettings(data)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.settings = parsed
	f.dirty = false
	f.mu.Unlock()
	return nil
}

func (f *SettingsFile) write(s PlaybackSettings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

func (f *SettingsFile) markDirty() {
	f.mu.Lock()
	f.dirty = true
	f.mu.Unlock()
}

// Watch marks the file dirty whenever it changes until ctx is done. The
// parent directory is watched so editors that replace the file are seen.
func (f *SettingsFile) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			f.logger.Debug().Str("op", ev.Op.String()).Msg("settings file changed")
			f.markDirty()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn().Err(err).Msg("settings watcher error")
		}
	}
}

// ParsePlaybackSettings decodes YAML, filling unset fields with defaults. A
// negative fade duration is treated as zero (immediate).
func ParsePlaybackSettings(data []byte) (PlaybackSettings, error) {
	s := DefaultPlaybackSettings()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return PlaybackSettings{}, fmt.Errorf("parse settings: %w", err)
	}
	if s.FadeDurationMs < 0 {
		s.FadeDurationMs = 0
	}
	return s, nil
}
