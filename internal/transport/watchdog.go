/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transport

import (
	"time"

	"github.com/friendsincode/fadeplay/internal/telemetry"
)

func (c *Controller) startWatchdog() {
	if c.watchdog != nil || c.state != StatePlaying {
		return
	}
	c.watchdog = time.NewTicker(c.watchdogInterval)
}

func (c *Controller) stopWatchdog() {
	if c.watchdog == nil {
		return
	}
	c.watchdog.Stop()
	c.watchdog = nil
}

func (c *Controller) watchdogC() <-chan time.Time {
	if c.watchdog == nil {
		return nil
	}
	return c.watchdog.C
}

// watchdogTick advances once the active stream is within one fade of its
// end, or has already run out of data. An unknown duration keeps polling.
func (c *Controller) watchdogTick() {
	if c.state != StatePlaying {
		c.stopWatchdog()
		return
	}
	active := c.slots.Active()
	if active == nil {
		return
	}

	settings := c.settings.Playback()
	stream := active.Stream()

	if stream.Alive() {
		total, known := stream.Duration()
		if !known {
			return
		}
		remaining := total - stream.Position()
		if remaining > settings.FadeDuration() {
			return
		}
		// The crossfade must finish before the outgoing stream runs dry.
		settings.FadeDurationMs = int(max(remaining, 0).Milliseconds())
		c.logger.Debug().
			Str("track_id", active.Track().ID).
			Dur("remaining", remaining).
			Msg("track ending, advancing")
	} else {
		c.logger.Debug().Str("track_id", active.Track().ID).Msg("stream ended, advancing")
	}

	telemetry.WatchdogTriggersTotal.Inc()
	ctx, span := telemetry.StartSpan(c.ctx, tracerName, "transport.watchdog")
	defer span.End()
	c.skip(ctx, settings, true)
}
