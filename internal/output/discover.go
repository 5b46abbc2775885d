/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Probe is the subset of gst-discoverer output the engine uses.
type Probe struct {
	Duration   time.Duration
	SampleRate int
	Channels   int
	Title      string
	Artist     string
}

// Discover runs gst-discoverer-1.0 (or bin) against path.
func Discover(ctx context.Context, bin, path string) (Probe, error) {
	if bin == "" {
		bin = "gst-discoverer-1.0"
	}
	cmd := exec.CommandContext(ctx, bin, "-v", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Probe{}, fmt.Errorf("gst-discoverer failed: %w", err)
	}
	return ParseDiscovererOutput(string(out)), nil
}

var (
	// Fractional seconds have variable precision, usually nanoseconds:
	// "Duration: 0:58:12.345000000" is 345ms.
	durationRegex   = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)(?:\.(\d+))?`)
	samplerateRegex = regexp.MustCompile(`(?i)sample rate:\s*(\d+)`)
	channelsRegex   = regexp.MustCompile(`(?i)channels:\s*(\d+)`)
	titleRegex      = regexp.MustCompile(`(?i)^\s*title:\s*(.+)$`)
	artistRegex     = regexp.MustCompile(`(?i)^\s*artist:\s*(.+)$`)
)

// ParseDiscovererOutput extracts duration, format and tags.
func ParseDiscovererOutput(output string) Probe {
	var p Probe
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		if m := durationRegex.FindStringSubmatch(line); m != nil {
			hours, _ := strconv.Atoi(m[1])
			minutes, _ := strconv.Atoi(m[2])
			seconds, _ := strconv.Atoi(m[3])
			ms := int64(hours)*3600000 + int64(minutes)*60000 + int64(seconds)*1000 + fracToMilliseconds(m[4])
			p.Duration = time.Duration(ms) * time.Millisecond
		}
		if m := samplerateRegex.FindStringSubmatch(line); m != nil && p.SampleRate == 0 {
			p.SampleRate, _ = strconv.Atoi(m[1])
		}
		if m := channelsRegex.FindStringSubmatch(line); m != nil && p.Channels == 0 {
			p.Channels, _ = strconv.Atoi(m[1])
		}
		if m := titleRegex.FindStringSubmatch(line); m != nil && p.Title == "" {
			p.Title = strings.TrimSpace(m[1])
		}
		if m := artistRegex.FindStringSubmatch(line); m != nil && p.Artist == "" {
			p.Artist = strings.TrimSpace(m[1])
		}
	}
	return p
}

func fracToMilliseconds(frac string) int64 {
	// floor(frac * 1000 / 10^len(frac))
	if frac == "" {
		return 0
	}
	fracInt, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || fracInt < 0 {
		return 0
	}
	denom := int64(1)
	for i := 0; i < len(frac); i++ {
		denom *= 10
		if denom <= 0 {
			return 0
		}
	}
	return (fracInt * 1000) / denom
}
