/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package fade

import (
	"math"
	"time"
)

// DefaultStep is the engine-wide envelope resolution.
const DefaultStep = 50 * time.Millisecond

// Direction selects which streams an envelope drives.
type Direction string

const (
	DirectionIn    Direction = "in"
	DirectionOut   Direction = "out"
	DirectionCross Direction = "cross"
)

// Curve shapes the incoming volume over normalized progress.
type Curve string

const (
	CurveLinear      Curve = "linear"
	CurveLogarithmic Curve = "logarithmic"
	CurveExponential Curve = "exponential"
	CurveSCurve      Curve = "scurve"
)

// Step is one sampled point of an envelope.
//
// For DirectionIn only Incoming is meaningful, for DirectionOut only Outgoing.
type Step struct {
	Index    int
	Outgoing float64
	Incoming float64
}

// Envelope is a finite, single-use sequence of volume steps.
type Envelope struct {
	duration  time.Duration
	direction Direction
	curve     Curve
	steps     int
	next      int
}

// NewEnvelope computes steps = max(1, duration/step). A duration <= 0 yields
// a single step that lands on the terminal volume.
func NewEnvelope(duration, step time.Duration, dir Direction, curve Curve) *Envelope {
	if step <= 0 {
		step = DefaultStep
	}
	if curve == "" {
		curve = CurveLinear
	}

	steps := 1
	if duration > 0 {
		steps = int(duration / step)
		if steps < 1 {
			steps = 1
		}
	}

	return &Envelope{
		duration:  duration,
		direction: dir,
		curve:     curve,
		steps:     steps,
		next:      1,
	}
}

// Steps returns the total number of steps the envelope emits.
func (e *Envelope) Steps() int {
	return e.steps
}

// Direction returns the envelope direction.
func (e *Envelope) Direction() Direction {
	return e.direction
}

// Duration returns the requested duration.
func (e *Envelope) Duration() time.Duration {
	return e.duration
}

// Remaining returns the number of steps not yet emitted.
func (e *Envelope) Remaining() int {
	if e.next > e.steps {
		return 0
	}
	return e.steps - e.next + 1
}

// Next returns the following step. Once exhausted it keeps returning false.
func (e *Envelope) Next() (Step, bool) {
	if e.next > e.steps {
		return Step{}, false
	}

	i := e.next
	e.next++

	in := e.incoming(i)
	return Step{
		Index:    i,
		Incoming: in,
		Outgoing: 1.0 - in,
	}, true
}

func (e *Envelope) incoming(i int) float64 {
	if i >= e.steps {
		return 1.0
	}
	return CurveVolume(float64(i)/float64(e.steps), e.curve)
}

// CurveVolume maps progress in [0,1] to a fade-in volume in [0,1].
func CurveVolume(progress float64, curve Curve) float64 {
	if progress <= 0 || math.IsNaN(progress) {
		return 0
	}
	if progress >= 1 {
		return 1
	}

	var v float64
	switch curve {
	case CurveLogarithmic:
		// Rises quickly, then flattens.
		v = math.Log10(progress*9 + 1)
	case CurveExponential:
		v = progress * progress
	case CurveSCurve:
		if progress < 0.5 {
			v = 4 * progress * progress * progress
		} else {
			p := 2*progress - 2
			v = 1 + p*p*p/2
		}
	default:
		v = progress
	}

	return math.Min(1.0, math.Max(0.0, v))
}
