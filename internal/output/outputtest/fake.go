/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package outputtest provides a scriptable in-memory output sink.
package outputtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/fadeplay/internal/dsp"
	"github.com/friendsincode/fadeplay/internal/output"
)

// Sink records every opened stream. Locators registered with Fail refuse
// to prepare; durations default to unknown.
type Sink struct {
	mu        sync.Mutex
	failing   map[string]error
	durations map[string]time.Duration
	streams   []*Stream
	closed    bool
}

// NewSink creates an empty fake sink.
func NewSink() *Sink {
	return &Sink{
		failing:   make(map[string]error),
		durations: make(map[string]time.Duration),
	}
}

// Fail makes every future Prepare of locator fail.
func (s *Sink) Fail(locator string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[locator] = fmt.Errorf("%w: scripted failure for %s", output.ErrUnplayable, locator)
}

// SetDuration sets the duration reported by future streams of locator.
func (s *Sink) SetDuration(locator string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations[locator] = d
}

// Open implements output.Sink.
func (s *Sink) Open(src output.Source) (output.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &Stream{
		src:      src,
		proc:     dsp.NewProcessor(zerolog.Nop()),
		failWith: s.failing[src.Locator],
		duration: s.durations[src.Locator],
	}
	st.position.Store(int64(src.StartAt))
	s.streams = append(s.streams, st)
	return st, nil
}

// Close implements output.Sink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Streams returns every stream opened so far, oldest first.
func (s *Sink) Streams() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Stream, len(s.streams))
	copy(out, s.streams)
	return out
}

// Last returns the most recent stream opened for locator, or nil.
func (s *Sink) Last(locator string) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.streams) - 1; i >= 0; i-- {
		if s.streams[i].src.Locator == locator {
			return s.streams[i]
		}
	}
	return nil
}

// Live returns the prepared, unreleased streams.
func (s *Sink) Live() []*Stream {
	var out []*Stream
	for _, st := range s.Streams() {
		if st.Alive() {
			out = append(out, st)
		}
	}
	return out
}

// Stream is a fake output stream whose position is driven by the test.
type Stream struct {
	src      output.Source
	proc     *dsp.Processor
	failWith error
	duration time.Duration

	mu       sync.Mutex
	prepared bool
	started  bool
	released int

	alive    atomic.Bool
	position atomic.Int64
}

// Source returns what the stream was opened with.
func (st *Stream) Source() output.Source { return st.src }

// Prepare implements output.Stream.
func (st *Stream) Prepare(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", output.ErrUnplayable, err)
	}
	if st.failWith != nil {
		return st.failWith
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.released > 0 {
		return fmt.Errorf("%w: released", output.ErrUnplayable)
	}
	st.prepared = true
	st.proc.Configure(dsp.Format{Encoding: dsp.EncodingPCM16LE, SampleRate: 44100, Channels: 2})
	st.alive.Store(true)
	return nil
}

// Start implements output.Stream.
func (st *Stream) Start() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.prepared || st.released > 0 {
		return fmt.Errorf("start unprepared stream")
	}
	st.started = true
	return nil
}

// Position implements output.Stream.
func (st *Stream) Position() time.Duration { return time.Duration(st.position.Load()) }

// Duration implements output.Stream.
func (st *Stream) Duration() (time.Duration, bool) {
	if st.duration <= 0 {
		return 0, false
	}
	return st.duration, true
}

// Processor implements output.Stream.
func (st *Stream) Processor() *dsp.Processor { return st.proc }

// Alive implements output.Stream.
func (st *Stream) Alive() bool { return st.alive.Load() }

// Release implements output.Stream.
func (st *Stream) Release() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.released++
	st.alive.Store(false)
	return nil
}

// SetPosition moves the playback position.
func (st *Stream) SetPosition(d time.Duration) { st.position.Store(int64(d)) }

// End simulates the decoder reaching end of data.
func (st *Stream) End() { st.alive.Store(false) }

// Started reports whether Start was called.
func (st *Stream) Started() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.started
}

// Released reports whether Release was called at least once.
func (st *Stream) Released() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.released > 0
}
