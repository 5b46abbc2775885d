/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package dsp implements the per-stream volume stage applied to decoded PCM.
package dsp

import (
	"math"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Encoding identifies the sample layout of a decoded stream.
type Encoding string

const (
	EncodingPCM16LE  Encoding = "pcm_s16le"
	EncodingPCM24LE  Encoding = "pcm_s24le"
	EncodingPCMFloat Encoding = "pcm_f32le"
	EncodingUnknown  Encoding = ""
)

const (
	maxSample16 = 32767
	minSample16 = -32768
)

// Format describes the input handed to a Processor.
type Format struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// OutputFormat is the format a Processor produces after Configure.
type OutputFormat struct {
	Format
	PassThrough bool
}

// Processor scales 16-bit PCM samples by a volume factor.
//
// SetVolume and Reset may be called from any goroutine while Process runs on
// the audio rendering goroutine.
type Processor struct {
	volume      atomic.Uint64 // math.Float64bits of the factor
	passThrough atomic.Bool
	format      atomic.Pointer[Format]
	logger      zerolog.Logger
}

// NewProcessor returns a processor at full volume expecting S16LE input.
func NewProcessor(logger zerolog.Logger) *Processor {
	p := &Processor{logger: logger.With().Str("component", "dsp").Logger()}
	p.volume.Store(math.Float64bits(1.0))
	return p
}

// Configure validates the input format. Anything that is not 16-bit linear
// PCM switches the processor into pass-through mode instead of failing.
func (p *Processor) Configure(in Format) OutputFormat {
	f := in
	p.format.Store(&f)

	if in.Encoding != EncodingPCM16LE {
		p.passThrough.Store(true)
		p.logger.Warn().
			Str("encoding", string(in.Encoding)).
			Int("sample_rate", in.SampleRate).
			Int("channels", in.Channels).
			Msg("unsupported encoding, volume control disabled for stream")
		return OutputFormat{Format: in, PassThrough: true}
	}

	p.passThrough.Store(false)
	return OutputFormat{Format: in}
}

// SetVolume sets the gain factor, clamped to [0.0, 1.0]. NaN is treated as silence.
func (p *Processor) SetVolume(factor float64) {
	p.volume.Store(math.Float64bits(clampVolume(factor)))
}

// Volume returns the current gain factor.
func (p *Processor) Volume() float64 {
	return math.Float64frombits(p.volume.Load())
}

// PassThrough reports whether samples are copied unmodified.
func (p *Processor) PassThrough() bool {
	return p.passThrough.Load()
}

// Format returns the last configured input format, if any.
func (p *Processor) Format() (Format, bool) {
	f := p.format.Load()
	if f == nil {
		return Format{}, false
	}
	return *f, true
}

// Reset restores full volume and clears pass-through and format state.
func (p *Processor) Reset() {
	p.volume.Store(math.Float64bits(1.0))
	p.passThrough.Store(false)
	p.format.Store(nil)
}

// Process scales S16LE samples and returns a new buffer of the same length.
// A trailing odd byte is copied unchanged.
func (p *Processor) Process(in []byte) []byte {
	out := make([]byte, len(in))
	p.ProcessInto(out, in)
	return out
}

// ProcessInto writes scaled samples from src into dst and returns the number
// of bytes written. dst and src may be the same slice.
func (p *Processor) ProcessInto(dst, src []byte) int {
	n := copy(dst, src)
	if p.passThrough.Load() {
		return n
	}

	vol := p.Volume()
	if vol == 1.0 {
		return n
	}

	for i := 0; i+1 < n; i += 2 {
		s := int16(uint16(dst[i]) | uint16(dst[i+1])<<8)
		u := uint16(ScaleSample(s, vol))
		dst[i] = byte(u)
		dst[i+1] = byte(u >> 8)
	}
	return n
}

// ProcessFrames applies the volume to stereo float frames in place. Each value
// is quantized to 16 bits first so both output paths share one rounding rule.
func (p *Processor) ProcessFrames(frames [][2]float64) {
	if p.passThrough.Load() {
		return
	}

	vol := p.Volume()
	for i := range frames {
		for c := 0; c < 2; c++ {
			s := quantize(frames[i][c])
			frames[i][c] = float64(ScaleSample(s, vol)) / 32768
		}
	}
}

// ScaleSample multiplies a sample by factor, rounds half to even and clamps
// to the signed 16-bit range.
func ScaleSample(sample int16, factor float64) int16 {
	v := math.RoundToEven(float64(sample) * factor)
	if v > maxSample16 {
		return maxSample16
	}
	if v < minSample16 {
		return minSample16
	}
	return int16(v)
}

func quantize(v float64) int16 {
	s := math.RoundToEven(v * 32768)
	if s > maxSample16 {
		return maxSample16
	}
	if s < minSample16 {
		return minSample16
	}
	return int16(s)
}

func clampVolume(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
