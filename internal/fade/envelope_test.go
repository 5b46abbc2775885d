/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package fade

import (
	"testing"
	"time"
)

func TestNewEnvelope_StepCount(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		step     time.Duration
		want     int
	}{
		{"exact multiple", 4 * time.Second, 50 * time.Millisecond, 80},
		{"truncates remainder", 120 * time.Millisecond, 50 * time.Millisecond, 2},
		{"shorter than one step", 10 * time.Millisecond, 50 * time.Millisecond, 1},
		{"zero is immediate", 0, 50 * time.Millisecond, 1},
		{"negative is immediate", -time.Second, 50 * time.Millisecond, 1},
		{"zero step uses default", time.Second, 0, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := NewEnvelope(tt.duration, tt.step, DirectionIn, CurveLinear)
			if got := env.Steps(); got != tt.want {
				t.Errorf("Steps() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEnvelope_FadeInMonotonicEndsAtOne(t *testing.T) {
	for _, d := range []time.Duration{50 * time.Millisecond, 333 * time.Millisecond, 4 * time.Second, 7919 * time.Millisecond} {
		steps := drain(NewEnvelope(d, DefaultStep, DirectionIn, CurveLinear))
		if len(steps) == 0 {
			t.Fatalf("duration %s: no steps", d)
		}

		prev := 0.0
		for _, st := range steps {
			if st.Incoming < prev {
				t.Fatalf("duration %s: step %d decreased %v -> %v", d, st.Index, prev, st.Incoming)
			}
			if st.Incoming < 0 || st.Incoming > 1 {
				t.Fatalf("duration %s: step %d out of range: %v", d, st.Index, st.Incoming)
			}
			prev = st.Incoming
		}
		if last := steps[len(steps)-1].Incoming; last != 1.0 {
			t.Errorf("duration %s: final fade-in volume = %v, want exactly 1.0", d, last)
		}
	}
}

func TestEnvelope_FadeOutMonotonicEndsAtZero(t *testing.T) {
	for _, d := range []time.Duration{50 * time.Millisecond, 333 * time.Millisecond, 4 * time.Second} {
		steps := drain(NewEnvelope(d, DefaultStep, DirectionOut, CurveLinear))

		prev := 1.0
		for _, st := range steps {
			if st.Outgoing > prev {
				t.Fatalf("duration %s: step %d increased %v -> %v", d, st.Index, prev, st.Outgoing)
			}
			prev = st.Outgoing
		}
		if last := steps[len(steps)-1].Outgoing; last != 0.0 {
			t.Errorf("duration %s: final fade-out volume = %v, want exactly 0.0", d, last)
		}
	}
}

func TestEnvelope_ImmediateSingleStep(t *testing.T) {
	for _, d := range []time.Duration{0, -5 * time.Millisecond} {
		steps := drain(NewEnvelope(d, DefaultStep, DirectionCross, CurveLinear))
		if len(steps) != 1 {
			t.Fatalf("duration %s: got %d steps, want 1", d, len(steps))
		}
		if steps[0].Incoming != 1.0 || steps[0].Outgoing != 0.0 {
			t.Errorf("duration %s: step = %+v, want incoming 1.0 outgoing 0.0", d, steps[0])
		}
	}
}

func TestEnvelope_CrossfadeSumsToOne(t *testing.T) {
	curves := []Curve{CurveLinear, CurveLogarithmic, CurveExponential, CurveSCurve}
	for _, c := range curves {
		t.Run(string(c), func(t *testing.T) {
			for _, st := range drain(NewEnvelope(3*time.Second+17*time.Millisecond, DefaultStep, DirectionCross, c)) {
				if sum := st.Outgoing + st.Incoming; sum != 1.0 {
					t.Fatalf("step %d: outgoing %v + incoming %v = %v, want 1.0", st.Index, st.Outgoing, st.Incoming, sum)
				}
			}
		})
	}
}

func TestEnvelope_LinearValues(t *testing.T) {
	steps := drain(NewEnvelope(200*time.Millisecond, DefaultStep, DirectionCross, CurveLinear))
	want := []float64{0.25, 0.5, 0.75, 1.0}

	if len(steps) != len(want) {
		t.Fatalf("got %d steps, want %d", len(steps), len(want))
	}
	for i, st := range steps {
		if st.Index != i+1 {
			t.Errorf("step %d index = %d", i, st.Index)
		}
		if st.Incoming != want[i] {
			t.Errorf("step %d incoming = %v, want %v", i, st.Incoming, want[i])
		}
	}
}

func TestEnvelope_NotRestartable(t *testing.T) {
	env := NewEnvelope(100*time.Millisecond, DefaultStep, DirectionIn, CurveLinear)
	_ = drain(env)

	if _, ok := env.Next(); ok {
		t.Fatal("exhausted envelope produced another step")
	}
	if env.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", env.Remaining())
	}
}

func TestCurveVolume_Bounds(t *testing.T) {
	for _, c := range []Curve{CurveLinear, CurveLogarithmic, CurveExponential, CurveSCurve, "unknown"} {
		if v := CurveVolume(0, c); v != 0 {
			t.Errorf("%s: CurveVolume(0) = %v, want 0", c, v)
		}
		if v := CurveVolume(1, c); v != 1 {
			t.Errorf("%s: CurveVolume(1) = %v, want 1", c, v)
		}
		prev := 0.0
		for i := 1; i < 100; i++ {
			v := CurveVolume(float64(i)/100, c)
			if v < prev {
				t.Fatalf("%s: not monotonic at %d", c, i)
			}
			prev = v
		}
	}
}

// drain consumes e and returns every remaining step.
func drain(e *Envelope) []Step {
	out := make([]Step, 0, e.Remaining())
	for {
		s, ok := e.Next()
		if !ok {
			return out
		}
		out = append(out, s)
	}
}
