/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog"

	"github.com/friendsincode/fadeplay/internal/dsp"
)

// BeepSink decodes files in-process and mixes every open stream into the
// system speaker.
type BeepSink struct {
	resolver Resolver
	rate     beep.SampleRate
	logger   zerolog.Logger

	initOnce sync.Once
	initErr  error
	mixer    *beep.Mixer
}

// NewBeepSink creates a beep-backed sink. The speaker is initialized on the
// first Start.
func NewBeepSink(resolver Resolver, sampleRate int, logger zerolog.Logger) *BeepSink {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	return &BeepSink{
		resolver: resolver,
		rate:     beep.SampleRate(sampleRate),
		logger:   logger.With().Str("component", "beep_sink").Logger(),
	}
}

func (s *BeepSink) init() error {
	s.initOnce.Do(func() {
		if err := speaker.Init(s.rate, s.rate.N(100*time.Millisecond)); err != nil {
			s.initErr = fmt.Errorf("init speaker: %w", err)
			return
		}
		s.mixer = &beep.Mixer{}
		speaker.Play(s.mixer)
		s.logger.Info().Int("sample_rate", int(s.rate)).Msg("speaker initialized")
	})
	return s.initErr
}

// Open creates an unprepared stream.
func (s *BeepSink) Open(src Source) (Stream, error) {
	return &beepStream{
		sink:   s,
		src:    src,
		proc:   dsp.NewProcessor(s.logger),
		logger: s.logger.With().Str("track_id", src.TrackID).Logger(),
	}, nil
}

// Close drops every stream from the mixer and closes the speaker.
func (s *BeepSink) Close() error {
	if s.mixer == nil {
		return nil
	}
	speaker.Lock()
	s.mixer.Clear()
	speaker.Unlock()
	speaker.Close()
	return nil
}

// decodeFile picks a decoder by extension.
func decodeFile(path string) (beep.StreamSeekCloser, beep.Format, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, nil, err
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".flac":
		streamer, format, err = flac.Decode(f)
	case ".ogg", ".oga":
		streamer, format, err = vorbis.Decode(f)
	default:
		err = fmt.Errorf("no decoder for %s", filepath.Ext(path))
	}
	if err != nil {
		f.Close()
		return nil, beep.Format{}, nil, err
	}
	return streamer, format, f, nil
}

// encodingFor maps decoder precision to the processor's encoding.
func encodingFor(precision int) dsp.Encoding {
	switch precision {
	case 2:
		return dsp.EncodingPCM16LE
	case 3:
		return dsp.EncodingPCM24LE
	case 4:
		return dsp.EncodingPCMFloat
	default:
		return dsp.EncodingUnknown
	}
}

var _ beep.Streamer = (*beepStream)(nil)

type beepStream struct {
	sink   *BeepSink
	src    Source
	proc   *dsp.Processor
	logger zerolog.Logger

	mu       sync.Mutex
	file     *os.File
	decoded  beep.StreamSeekCloser
	format   beep.Format
	streamer beep.Streamer
	startAt  time.Duration
	started  bool

	alive    atomic.Bool
	released atomic.Bool
	played   atomic.Int64 // samples delivered at the sink rate
}

func (b *beepStream) Prepare(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released.Load() {
		return fmt.Errorf("%w: stream released", ErrUnplayable)
	}

	path, err := b.sink.resolver.Resolve(ctx, b.src.Locator)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnplayable, err)
	}

	decoded, format, f, err := decodeFile(path)
	if err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnplayable, path, err)
	}

	startAt := b.src.StartAt
	if startAt > 0 {
		pos := format.SampleRate.N(startAt)
		if n := decoded.Len(); n > 0 && pos >= n {
			// Saved offset lies past the end, play from the top.
			pos, startAt = 0, 0
		}
		if err := decoded.Seek(pos); err != nil {
			b.logger.Warn().Err(err).Dur("start_at", startAt).Msg("seek failed, playing from start")
			startAt = 0
		}
	}

	var streamer beep.Streamer = decoded
	if format.SampleRate != b.sink.rate {
		streamer = beep.Resample(4, format.SampleRate, b.sink.rate, decoded)
	}

	configureProcessor(b.proc, dsp.Format{
		Encoding:   encodingFor(format.Precision),
		SampleRate: int(format.SampleRate),
		Channels:   format.NumChannels,
	})

	b.file = f
	b.decoded = decoded
	b.format = format
	b.streamer = streamer
	b.startAt = startAt
	b.alive.Store(true)

	b.logger.Debug().
		Str("path", path).
		Int("sample_rate", int(format.SampleRate)).
		Int("precision", format.Precision).
		Dur("start_at", startAt).
		Msg("stream prepared")
	return nil
}

func (b *beepStream) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.streamer == nil || b.released.Load() {
		return fmt.Errorf("start unprepared stream")
	}
	if b.started {
		return nil
	}
	if err := b.sink.init(); err != nil {
		return err
	}

	speaker.Lock()
	b.sink.mixer.Add(b)
	speaker.Unlock()
	b.started = true
	return nil
}

// Stream runs on the speaker goroutine with the speaker lock held.
func (b *beepStream) Stream(samples [][2]float64) (int, bool) {
	if b.released.Load() {
		return 0, false
	}
	n, ok := b.streamer.Stream(samples)
	b.proc.ProcessFrames(samples[:n])
	b.played.Add(int64(n))
	if !ok {
		b.alive.Store(false)
	}
	return n, ok
}

func (b *beepStream) Err() error {
	if b.streamer == nil {
		return nil
	}
	return b.streamer.Err()
}

func (b *beepStream) Position() time.Duration {
	b.mu.Lock()
	startAt := b.startAt
	b.mu.Unlock()
	return startAt + b.sink.rate.D(int(b.played.Load()))
}

func (b *beepStream) Duration() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.decoded == nil {
		return 0, false
	}
	n := b.decoded.Len()
	if n <= 0 {
		return 0, false
	}
	return b.format.SampleRate.D(n), true
}

func (b *beepStream) Processor() *dsp.Processor { return b.proc }

func (b *beepStream) Alive() bool {
	return b.alive.Load() && !b.released.Load()
}

func (b *beepStream) Release() error {
	if b.released.Swap(true) {
		return nil
	}
	b.alive.Store(false)

	b.mu.Lock()
	decoded, file := b.decoded, b.file
	b.decoded, b.file = nil, nil
	b.mu.Unlock()

	// The mixer drops released streams on its next pass; closing under the
	// speaker lock keeps the decoder out of a concurrent Stream call.
	speaker.Lock()
	var err error
	if decoded != nil {
		err = decoded.Close()
	}
	speaker.Unlock()

	if file != nil {
		_ = file.Close()
	}
	b.logger.Debug().Msg("stream released")
	return err
}
