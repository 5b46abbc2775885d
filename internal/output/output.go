/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package output abstracts the decoder and audio device behind the engine.
package output

import (
	"context"
	"errors"
	"time"

	"github.com/friendsincode/fadeplay/internal/dsp"
	"github.com/friendsincode/fadeplay/internal/telemetry"
)

// ErrUnplayable wraps every prepare failure: missing source, corrupt file,
// decoder crash.
var ErrUnplayable = errors.New("track unplayable")

// Source identifies what a stream should play.
type Source struct {
	TrackID string
	Locator string
	StartAt time.Duration // resume offset
}

// Stream is one decoded track routed to the audio device. Every stream owns
// a dsp.Processor that scales its samples.
type Stream interface {
	// Prepare resolves and opens the source. Errors wrap ErrUnplayable.
	Prepare(ctx context.Context) error
	// Start begins feeding audio to the device.
	Start() error
	// Position is the playback position including the start offset.
	Position() time.Duration
	// Duration returns false while the total length is not yet known.
	Duration() (time.Duration, bool)
	// Processor is the volume stage for this stream.
	Processor() *dsp.Processor
	// Alive reports whether the stream is still producing audio.
	Alive() bool
	// Release stops playback and frees decoder resources. Idempotent.
	Release() error
}

// Sink opens streams on one output backend.
type Sink interface {
	Open(src Source) (Stream, error)
	Close() error
}

// Resolver maps a locator to a local path a decoder can open.
type Resolver interface {
	Resolve(ctx context.Context, locator string) (string, error)
}

// configureProcessor applies the decoded format and counts degraded streams.
func configureProcessor(p *dsp.Processor, f dsp.Format) {
	if out := p.Configure(f); out.PassThrough {
		telemetry.DSPDegradedStreams.WithLabelValues(string(f.Encoding)).Inc()
	}
}
