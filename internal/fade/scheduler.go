/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package fade

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/fadeplay/internal/dsp"
	"github.com/friendsincode/fadeplay/internal/telemetry"
)

var (
	// ErrInvalidInput is reported when a crossfade is requested with missing
	// or identical processors.
	ErrInvalidInput = errors.New("invalid crossfade input")

	// ErrStreamLost is reported when a stream stops being alive mid-transition.
	ErrStreamLost = errors.New("stream lost during transition")
)

// Outcome is the terminal state of a scheduled transition.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeCancelled Outcome = "cancelled"
)

// Result is delivered exactly once per Handle.
type Result struct {
	Outcome Outcome
	Err     error
}

// Stream is the liveness view of an output stream the scheduler needs.
type Stream interface {
	Alive() bool
}

// ReleasableStream is a stream the scheduler releases after a fade-out.
type ReleasableStream interface {
	Stream
	Release() error
}

// Callbacks receive the terminal notification of a crossfade. Cancellation
// invokes neither.
type Callbacks struct {
	OnComplete func()
	OnAborted  func(error)
}

// Handle tracks one scheduled transition.
type Handle struct {
	id   uint64
	kind string
	stop chan struct{}
	done chan Result
	once sync.Once
}

// ID returns the scheduler-unique handle id.
func (h *Handle) ID() uint64 { return h.id }

// Kind returns "crossfade", "fade_in" or "fade_out".
func (h *Handle) Kind() string { return h.kind }

// Done yields the single terminal result of the transition.
func (h *Handle) Done() <-chan Result { return h.done }

func (h *Handle) finish(r Result) bool {
	finished := false
	h.once.Do(func() {
		h.done <- r
		close(h.done)
		finished = true
	})
	return finished
}

// Scheduler ticks envelopes into processors. At most one transition is in
// flight per scheduler.
type Scheduler struct {
	step     time.Duration
	curve    Curve
	dispatch func(func())
	logger   zerolog.Logger

	mu      sync.Mutex
	current *Handle
	nextID  uint64
}

// NewScheduler creates a scheduler. dispatch marshals terminal callbacks onto
// the caller's owner goroutine; nil runs them on the scheduler goroutine.
func NewScheduler(step time.Duration, dispatch func(func()), logger zerolog.Logger) *Scheduler {
	if step <= 0 {
		step = DefaultStep
	}
	return &Scheduler{
		step:     step,
		curve:    CurveLinear,
		dispatch: dispatch,
		logger:   logger.With().Str("component", "fade_scheduler").Logger(),
	}
}

// SetCurve changes the curve used by subsequent transitions.
func (s *Scheduler) SetCurve(c Curve) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == "" {
		c = CurveLinear
	}
	s.curve = c
}

// Active reports whether a transition is in flight.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Cancel silently stops the in-flight transition, if any.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	h := s.current
	s.current = nil
	if h != nil {
		close(h.stop)
	}
	s.mu.Unlock()

	if h != nil && h.finish(Result{Outcome: OutcomeCancelled}) {
		telemetry.TransitionsTotal.WithLabelValues(h.kind, string(OutcomeCancelled)).Inc()
		s.logger.Debug().Uint64("handle", h.id).Str("kind", h.kind).Msg("transition cancelled")
	}
}

// StartCrossfade drives outgoing 1→0 and incoming 0→1 on shared step indices.
// Invalid input calls OnAborted synchronously and leaves any in-flight
// transition untouched.
func (s *Scheduler) StartCrossfade(duration time.Duration, outgoing, incoming *dsp.Processor, outStream, inStream Stream, cb Callbacks) *Handle {
	if outgoing == nil || incoming == nil || outgoing == incoming {
		err := fmt.Errorf("%w: outgoing=%p incoming=%p", ErrInvalidInput, outgoing, incoming)
		s.logger.Error().Err(err).Msg("refusing crossfade")
		telemetry.CrossfadeAbortsTotal.WithLabelValues("invalid_input").Inc()
		telemetry.TransitionsTotal.WithLabelValues("crossfade", string(OutcomeAborted)).Inc()

		h := s.newHandle("crossfade")
		h.finish(Result{Outcome: OutcomeAborted, Err: err})
		if cb.OnAborted != nil {
			cb.OnAborted(err)
		}
		return h
	}

	h, env := s.begin("crossfade", duration, DirectionCross)
	incoming.SetVolume(0)

	tick := func(st Step) (bool, error) {
		if outStream != nil && !outStream.Alive() {
			return false, fmt.Errorf("%w: outgoing", ErrStreamLost)
		}
		if inStream != nil && !inStream.Alive() {
			return false, fmt.Errorf("%w: incoming", ErrStreamLost)
		}
		outgoing.SetVolume(st.Outgoing)
		incoming.SetVolume(st.Incoming)
		return false, nil
	}
	finalize := func() {
		outgoing.SetVolume(0)
		incoming.SetVolume(1)
	}

	go s.run(h, env, tick, finalize, cb)
	return h
}

// StartFadeOut drives the processor 1→0, releases the stream and calls
// onComplete. A stream that stops producing audio early completes the fade
// immediately.
func (s *Scheduler) StartFadeOut(duration time.Duration, p *dsp.Processor, stream ReleasableStream, onComplete func()) *Handle {
	h, env := s.begin("fade_out", duration, DirectionOut)

	release := func() {
		if stream == nil {
			return
		}
		if err := stream.Release(); err != nil {
			s.logger.Warn().Err(err).Uint64("handle", h.id).Msg("release after fade-out failed")
		}
	}

	tick := func(st Step) (bool, error) {
		if stream != nil && !stream.Alive() {
			return true, nil
		}
		if p != nil {
			p.SetVolume(st.Outgoing)
		}
		return false, nil
	}
	finalize := func() {
		if p != nil {
			p.SetVolume(0)
		}
		release()
	}

	go s.run(h, env, tick, finalize, Callbacks{OnComplete: onComplete, OnAborted: func(error) {
		// Fade-outs never abort: losing the stream completes them.
		release()
		if onComplete != nil {
			onComplete()
		}
	}})
	return h
}

// StartFadeIn forces the processor to silence, then drives it 0→1. The final
// tick always lands on exactly 1.0.
func (s *Scheduler) StartFadeIn(duration time.Duration, p *dsp.Processor, onComplete func()) *Handle {
	if p != nil {
		p.SetVolume(0)
	}
	h, env := s.begin("fade_in", duration, DirectionIn)

	tick := func(st Step) (bool, error) {
		if p != nil {
			p.SetVolume(st.Incoming)
		}
		return false, nil
	}
	finalize := func() {
		if p != nil {
			p.SetVolume(1.0)
		}
	}

	go s.run(h, env, tick, finalize, Callbacks{OnComplete: onComplete})
	return h
}

func (s *Scheduler) newHandle(kind string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return &Handle{
		id:   s.nextID,
		kind: kind,
		stop: make(chan struct{}),
		done: make(chan Result, 1),
	}
}

// begin cancels the in-flight transition and installs a new one.
func (s *Scheduler) begin(kind string, duration time.Duration, dir Direction) (*Handle, *Envelope) {
	s.Cancel()

	h := s.newHandle(kind)

	s.mu.Lock()
	s.current = h
	env := NewEnvelope(duration, s.step, dir, s.curve)
	s.mu.Unlock()

	s.logger.Debug().
		Uint64("handle", h.id).
		Str("kind", kind).
		Dur("duration", duration).
		Int("steps", env.Steps()).
		Msg("transition started")

	return h, env
}

func (s *Scheduler) run(h *Handle, env *Envelope, tick func(Step) (bool, error), finalize func(), cb Callbacks) {
	start := time.Now()

	var ticker *time.Ticker
	if env.Duration() > 0 {
		ticker = time.NewTicker(s.step)
		defer ticker.Stop()
	}

	for {
		if ticker != nil {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
			}
		}

		st, ok := env.Next()
		if !ok {
			s.complete(h, finalize, cb, start)
			return
		}

		doneEarly, err := s.applyStep(h, st, tick)
		if errors.Is(err, errNotCurrent) {
			return
		}
		if err != nil {
			s.abort(h, err, cb)
			return
		}
		if doneEarly || env.Remaining() == 0 {
			s.complete(h, finalize, cb, start)
			return
		}
	}
}

var errNotCurrent = errors.New("transition superseded")

// applyStep runs one tick under the scheduler lock so a concurrent Cancel
// never observes a volume write after it returns. Panics become aborts.
func (s *Scheduler) applyStep(h *Handle, st Step, tick func(Step) (bool, error)) (done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != h {
		return false, errNotCurrent
	}

	defer func() {
		if r := recover(); r != nil {
			done = false
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()

	return tick(st)
}

func (s *Scheduler) detach(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != h {
		return false
	}
	s.current = nil
	return true
}

func (s *Scheduler) complete(h *Handle, finalize func(), cb Callbacks, start time.Time) {
	s.mu.Lock()
	if s.current != h {
		s.mu.Unlock()
		return
	}
	s.current = nil
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Uint64("handle", h.id).Msg("finalize panicked")
			}
		}()
		finalize()
	}()
	s.mu.Unlock()

	telemetry.TransitionDuration.WithLabelValues(h.kind).Observe(time.Since(start).Seconds())
	telemetry.TransitionsTotal.WithLabelValues(h.kind, string(OutcomeCompleted)).Inc()
	h.finish(Result{Outcome: OutcomeCompleted})

	s.logger.Debug().Uint64("handle", h.id).Str("kind", h.kind).Msg("transition completed")
	s.deliver(func() {
		if cb.OnComplete != nil {
			cb.OnComplete()
		}
	})
}

func (s *Scheduler) abort(h *Handle, err error, cb Callbacks) {
	if !s.detach(h) {
		return
	}

	reason := "stream_lost"
	if !errors.Is(err, ErrStreamLost) {
		reason = "panic"
	}
	telemetry.CrossfadeAbortsTotal.WithLabelValues(reason).Inc()
	telemetry.TransitionsTotal.WithLabelValues(h.kind, string(OutcomeAborted)).Inc()
	h.finish(Result{Outcome: OutcomeAborted, Err: err})

	s.logger.Warn().Err(err).Uint64("handle", h.id).Str("kind", h.kind).Msg("transition aborted")
	s.deliver(func() {
		if cb.OnAborted != nil {
			cb.OnAborted(err)
		}
	})
}

func (s *Scheduler) deliver(fn func()) {
	safe := func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Msg("transition callback panicked")
			}
		}()
		fn()
	}
	if s.dispatch != nil {
		s.dispatch(safe)
		return
	}
	safe()
}
