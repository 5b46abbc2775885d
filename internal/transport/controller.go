/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package transport drives playback: it owns the transport state machine,
// picks tracks through the sequencer, prepares streams in the slots and
// runs fades through the scheduler.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/fadeplay/internal/config"
	"github.com/friendsincode/fadeplay/internal/events"
	"github.com/friendsincode/fadeplay/internal/fade"
	"github.com/friendsincode/fadeplay/internal/models"
	"github.com/friendsincode/fadeplay/internal/output"
	"github.com/friendsincode/fadeplay/internal/sequencer"
	"github.com/friendsincode/fadeplay/internal/slots"
	"github.com/friendsincode/fadeplay/internal/telemetry"
)

const tracerName = "fadeplay/transport"

// Store is the persistence the controller needs. Writes are fire-and-forget:
// failures are logged and never change transport state.
type Store interface {
	FindActivePlaylist(ctx context.Context) (*models.Playlist, error)
	LoadPlaylist(ctx context.Context, id string) (*models.Playlist, error)
	PersistOffset(ctx context.Context, trackID string, offset time.Duration) error
	PersistCurrentTrack(ctx context.Context, playlistID, trackID string) error
	PersistPlaylistActive(ctx context.Context, playlistID string, active bool) error
	RemoveTrack(ctx context.Context, trackID string) error
}

// Deps wires the controller to its collaborators.
type Deps struct {
	Store     Store
	Sink      output.Sink
	Sequencer *sequencer.Sequencer
	Settings  config.PlaybackSource
	Events    events.Publisher

	FadeStep         time.Duration
	Curve            fade.Curve
	WatchdogInterval time.Duration
	PrepareTimeout   time.Duration
	StoreTimeout     time.Duration
}

// Controller is the transport state machine. Every state change happens on
// the goroutine running Run; public methods only enqueue work.
type Controller struct {
	store     Store
	slots     *slots.Slots
	scheduler *fade.Scheduler
	seq       *sequencer.Sequencer
	settings  config.PlaybackSource
	events    events.Publisher
	logger    zerolog.Logger

	watchdogInterval time.Duration
	prepareTimeout   time.Duration
	storeTimeout     time.Duration

	queue   *queue
	closed  atomic.Bool
	started atomic.Bool

	// Owned by the loop goroutine.
	ctx         context.Context
	state       State
	playlist    *models.Playlist
	order       *sequencer.PlayOrder
	current     *models.Track
	token       uint64 // identifies the in-flight transition
	pendingPlay bool
	watchdog    *time.Ticker

	statusMu sync.RWMutex
	status   Status
}

// New creates a controller in the Idle state. Call Run to start it.
func New(deps Deps, logger zerolog.Logger) *Controller {
	if deps.WatchdogInterval <= 0 {
		deps.WatchdogInterval = 500 * time.Millisecond
	}
	if deps.PrepareTimeout <= 0 {
		deps.PrepareTimeout = 30 * time.Second
	}
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = 5 * time.Second
	}
	if deps.Settings == nil {
		deps.Settings = config.NewStaticSettings(config.DefaultPlaybackSettings())
	}
	if deps.Sequencer == nil {
		deps.Sequencer = sequencer.New(nil)
	}

	c := &Controller{
		store:            deps.Store,
		seq:              deps.Sequencer,
		settings:         deps.Settings,
		events:           deps.Events,
		logger:           logger.With().Str("component", "transport").Logger(),
		watchdogInterval: deps.WatchdogInterval,
		prepareTimeout:   deps.PrepareTimeout,
		storeTimeout:     deps.StoreTimeout,
		queue:            newQueue(),
		ctx:              context.Background(),
		state:            StateIdle,
	}
	c.slots = slots.New(deps.Sink, logger)
	c.scheduler = fade.NewScheduler(deps.FadeStep, c.queue.push, logger)
	c.scheduler.SetCurve(deps.Curve)
	c.status = Status{State: StateIdle}
	telemetry.SetTransportState(string(StateIdle), stateNames())
	return c
}

// Run drives the owner loop until ctx is done. Streams are released on exit.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("transport controller already running")
	}
	c.ctx = ctx
	c.logger.Info().Msg("transport started")

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()

		case <-c.queue.signal:
			for _, fn := range c.queue.drain() {
				c.safeRun(fn)
			}

		case <-c.watchdogC():
			c.safeRun(c.watchdogTick)
		}
	}
}

func (c *Controller) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("state", string(c.state)).Msg("transport task panicked")
		}
	}()
	fn()
}

func (c *Controller) shutdown() {
	c.closed.Store(true)
	c.scheduler.Cancel()
	c.stopWatchdog()
	c.saveOffset()
	c.slots.ReleaseAll()
	c.logger.Info().Msg("transport stopped")
}

// Dispatch validates cmd and enqueues it. It never blocks on playback.
func (c *Controller) Dispatch(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		telemetry.CommandsTotal.WithLabelValues(string(cmd.Kind), "rejected").Inc()
		return err
	}
	if c.closed.Load() {
		return ErrClosed
	}

	c.queue.push(func() { c.handle(cmd) })
	return nil
}

// Play resumes or starts playback.
func (c *Controller) Play() error { return c.Dispatch(Command{Kind: CommandPlay}) }

// Pause fades out and remembers the position.
func (c *Controller) Pause() error { return c.Dispatch(Command{Kind: CommandPause}) }

// Next crossfades to the following track.
func (c *Controller) Next() error { return c.Dispatch(Command{Kind: CommandNext}) }

// Previous crossfades to the preceding track.
func (c *Controller) Previous() error { return c.Dispatch(Command{Kind: CommandPrevious}) }

// Stop fades out (when configured) and releases every stream.
func (c *Controller) Stop() error { return c.Dispatch(Command{Kind: CommandStop}) }

// ActivatePlaylist switches the active playlist.
func (c *Controller) ActivatePlaylist(id string) error {
	return c.Dispatch(Command{Kind: CommandActivatePlaylist, PlaylistID: id})
}

// PlaylistDeleted tells the controller a playlist no longer exists.
func (c *Controller) PlaylistDeleted(id string) error {
	return c.Dispatch(Command{Kind: CommandPlaylistDeleted, PlaylistID: id})
}

// ShuffleModeChanged toggles shuffle and rebuilds the play order.
func (c *Controller) ShuffleModeChanged(enabled bool) error {
	return c.Dispatch(Command{Kind: CommandShuffleModeChanged, Enabled: enabled})
}

// Status returns a snapshot of the transport.
func (c *Controller) Status() Status {
	c.statusMu.RLock()
	st := c.status
	if st.Track != nil {
		t := *st.Track
		st.Track = &t
	}
	c.statusMu.RUnlock()

	if active := c.slots.Active(); active != nil && active.Stream().Alive() {
		st.Position = active.Stream().Position()
		st.Duration, st.DurationKnown = active.Stream().Duration()
	} else if st.Track != nil {
		st.Position = time.Duration(st.Track.OffsetMs) * time.Millisecond
	}
	return st
}

func (c *Controller) handle(cmd Command) {
	ctx, span := telemetry.StartSpan(c.ctx, tracerName, "transport."+string(cmd.Kind))
	defer span.End()

	settings := c.settings.Playback()
	from := c.state

	var res result
	switch cmd.Kind {
	case CommandPlay:
		res = c.play(ctx, settings)
	case CommandPause:
		res = c.pause(ctx, settings)
	case CommandNext:
		res = c.skip(ctx, settings, true)
	case CommandPrevious:
		res = c.skip(ctx, settings, false)
	case CommandStop:
		res = c.stop(ctx, settings)
	case CommandActivatePlaylist:
		res = c.activatePlaylist(ctx, settings, cmd.PlaylistID)
	case CommandPlaylistDeleted:
		res = c.playlistDeleted(cmd.PlaylistID)
	case CommandShuffleModeChanged:
		res = c.shuffleModeChanged(ctx, settings, cmd.Enabled)
	}

	telemetry.AddSpanAttributes(span, map[string]any{
		"transport.from":   string(from),
		"transport.to":     string(c.state),
		"transport.result": string(res),
	})
	telemetry.CommandsTotal.WithLabelValues(string(cmd.Kind), string(res)).Inc()

	c.logger.Debug().
		Str("command", string(cmd.Kind)).
		Str("result", string(res)).
		Str("from", string(from)).
		Str("to", string(c.state)).
		Msg("command handled")
}

// play starts or resumes audio. Already playing or a play in flight is a
// no-op; a play during a fade-out is applied once the fade-out settles.
func (c *Controller) play(ctx context.Context, settings config.PlaybackSettings) result {
	switch c.state {
	case StatePlaying, StateFadingIn, StateCrossfading, StatePreparing:
		return resultIgnored
	case StateFadingOut:
		c.pendingPlay = true
		return resultAccepted
	}
	c.pendingPlay = false

	if c.playlist == nil {
		c.transitionTo(StatePreparing)
		pl, err := c.loadActivePlaylist(ctx)
		if err != nil {
			c.logger.Info().Err(err).Msg("no active playlist")
			c.transitionTo(StateIdle)
			c.publish(events.EventPlaylistEmpty, events.Payload{"reason": "no_active_playlist"})
			return resultIgnored
		}
		c.adopt(pl, settings)
	}
	c.syncOrder(settings)

	if c.order.Len() == 0 {
		c.emptyPlaylist("no_tracks")
		return resultIgnored
	}

	target := c.current
	offset := time.Duration(0)
	if target == nil {
		target, c.order = c.seq.Advance(c.order, nil)
	} else {
		offset = time.Duration(target.OffsetMs) * time.Millisecond
	}

	slot, err := c.prepareWithRecovery(ctx, target, offset, true)
	if err != nil {
		return resultFailed
	}

	if err := c.slots.Promote(); err != nil {
		c.logger.Error().Err(err).Msg("promote prepared slot")
		c.slots.ReleaseAll()
		c.forceIdle()
		return resultFailed
	}
	changed := c.setCurrent(ctx, slot.Track())

	c.transitionTo(StateFadingIn)
	token := c.nextToken()
	c.scheduler.StartFadeIn(settings.FadeDuration(), slot.Processor(), func() {
		if token != c.token {
			return
		}
		c.transitionTo(StatePlaying)
		c.startWatchdog()
	})

	if changed {
		c.publish(events.EventTrackChanged, c.trackPayload(slot.Track()))
	}
	c.publish(events.EventPlaybackStarted, c.trackPayload(slot.Track()))
	return resultAccepted
}

// pause only acts on a settled Playing state. Mid-transition requests are
// dropped.
func (c *Controller) pause(ctx context.Context, settings config.PlaybackSettings) result {
	if c.state != StatePlaying {
		return resultIgnored
	}

	active := c.slots.Active()
	if active == nil {
		c.transitionTo(StateStopped)
		return resultIgnored
	}

	c.saveOffset()
	c.stopWatchdog()
	c.transitionTo(StateFadingOut)

	token := c.nextToken()
	track := active.Track()
	c.scheduler.StartFadeOut(settings.FadeDuration(), active.Processor(), active.Stream(), func() {
		if token != c.token {
			return
		}
		c.slots.ReleaseActive()
		c.transitionTo(StatePaused)

		payload := c.trackPayload(track)
		if c.current != nil {
			payload["offset_ms"] = c.current.OffsetMs
		}
		c.publish(events.EventPlaybackPaused, payload)

		if c.pendingPlay {
			c.pendingPlay = false
			c.play(ctx, c.settings.Playback())
		}
	})
	return resultAccepted
}

// stop fades out a settled Playing state when fadeOnStop is set. Any
// transition in flight is cancelled and both slots released at once.
func (c *Controller) stop(ctx context.Context, settings config.PlaybackSettings) result {
	c.pendingPlay = false

	switch c.state {
	case StateIdle, StateStopped:
		return resultIgnored

	case StatePlaying:
		active := c.slots.Active()
		if active == nil {
			c.finishStop(nil)
			return resultAccepted
		}
		c.saveOffset()
		c.stopWatchdog()
		c.slots.ReleaseStandby()
		c.transitionTo(StateFadingOut)

		duration := time.Duration(0)
		if settings.FadeOnStop {
			duration = settings.FadeDuration()
		}
		token := c.nextToken()
		track := active.Track()
		c.scheduler.StartFadeOut(duration, active.Processor(), active.Stream(), func() {
			if token != c.token {
				return
			}
			c.finishStop(&track)

			if c.pendingPlay {
				c.pendingPlay = false
				c.play(ctx, c.settings.Playback())
			}
		})
		return resultAccepted

	default:
		var track *models.Track
		if c.current != nil {
			t := *c.current
			track = &t
		}
		c.nextToken()
		c.scheduler.Cancel()
		c.stopWatchdog()
		c.saveOffset()
		c.finishStop(track)
		return resultAccepted
	}
}

func (c *Controller) finishStop(track *models.Track) {
	c.slots.ReleaseAll()
	c.transitionTo(StateStopped)

	payload := events.Payload{}
	if track != nil {
		payload = c.trackPayload(*track)
	}
	c.publish(events.EventPlaybackStopped, payload)
}

// skip moves to the next or previous track. While Playing it crossfades;
// while stopped or paused it only moves the current pointer. A skip during
// any transition is a duplicate and is ignored.
func (c *Controller) skip(ctx context.Context, settings config.PlaybackSettings, forward bool) result {
	switch c.state {
	case StatePreparing, StateFadingIn, StateCrossfading, StateFadingOut:
		return resultIgnored
	}

	if c.playlist == nil {
		pl, err := c.loadActivePlaylist(ctx)
		if err != nil {
			c.publish(events.EventPlaylistEmpty, events.Payload{"reason": "no_active_playlist"})
			return resultIgnored
		}
		c.adopt(pl, settings)
	}
	c.syncOrder(settings)

	if c.order.Len() == 0 {
		c.emptyPlaylist("no_tracks")
		return resultIgnored
	}

	target := c.pick(c.current, forward)

	if c.state != StatePlaying {
		c.resetOffset(c.current)
		if c.setCurrent(ctx, *target) {
			c.publish(events.EventTrackChanged, c.trackPayload(*target))
		}
		c.resetOffset(c.current)
		return resultAccepted
	}

	active := c.slots.Active()
	if active == nil || !active.Stream().Alive() {
		return c.hardStart(ctx, settings, target, forward)
	}

	slot, err := c.prepareWithRecovery(ctx, target, 0, forward)
	if err != nil {
		return resultFailed
	}

	c.stopWatchdog()
	c.transitionTo(StateCrossfading)

	outgoing := active.Track()
	c.resetOffset(&outgoing)
	c.setCurrent(ctx, slot.Track())

	token := c.nextToken()
	c.scheduler.StartCrossfade(settings.FadeDuration(),
		active.Processor(), slot.Processor(),
		active.Stream(), slot.Stream(),
		fade.Callbacks{
			OnComplete: func() {
				if token != c.token {
					return
				}
				c.completeCrossfade()
			},
			OnAborted: func(err error) {
				if token != c.token {
					return
				}
				c.hardSwitch(ctx, err)
			},
		})

	c.publish(events.EventTrackChanged, c.trackPayload(slot.Track()))
	return resultAccepted
}

// hardStart replaces a finished active stream without crossfading.
func (c *Controller) hardStart(ctx context.Context, settings config.PlaybackSettings, target *models.Track, forward bool) result {
	c.stopWatchdog()
	slot, err := c.prepareWithRecovery(ctx, target, 0, forward)
	if err != nil {
		return resultFailed
	}
	if err := c.slots.Promote(); err != nil {
		c.logger.Error().Err(err).Msg("promote prepared slot")
		return resultFailed
	}
	c.setCurrent(ctx, slot.Track())
	slot.Processor().SetVolume(1)
	c.nextToken()
	c.startWatchdog()
	c.publish(events.EventTrackChanged, c.trackPayload(slot.Track()))
	return resultAccepted
}

func (c *Controller) completeCrossfade() {
	if err := c.slots.Promote(); err != nil {
		c.logger.Error().Err(err).Msg("promote after crossfade")
	}
	c.transitionTo(StatePlaying)
	c.startWatchdog()
}

// hardSwitch recovers from an aborted crossfade by cutting straight to the
// incoming stream. A lost incoming stream counts as unplayable and the
// controller falls back to whatever is still audible.
func (c *Controller) hardSwitch(ctx context.Context, cause error) {
	c.logger.Warn().Err(cause).Msg("crossfade aborted, switching hard")

	standby := c.slots.Standby()
	if standby != nil && standby.Stream().Alive() {
		standby.Processor().SetVolume(1)
		if err := c.slots.Promote(); err != nil {
			c.logger.Error().Err(err).Msg("promote after abort")
		}
		c.transitionTo(StatePlaying)
		c.startWatchdog()
		return
	}

	if standby != nil {
		c.slots.ReleaseStandby()
		c.markUnplayable(ctx, standby.Track(), cause)
	}

	active := c.slots.Active()
	if active != nil && active.Stream().Alive() {
		active.Processor().SetVolume(1)
		if c.setCurrent(ctx, active.Track()) {
			c.publish(events.EventTrackChanged, c.trackPayload(active.Track()))
		}
		c.transitionTo(StatePlaying)
		c.startWatchdog()
		return
	}

	if c.order.Len() == 0 {
		c.emptyPlaylist("all_tracks_unplayable")
		return
	}
	c.transitionTo(StatePlaying)
	c.skip(ctx, c.settings.Playback(), true)
}

func (c *Controller) activatePlaylist(ctx context.Context, settings config.PlaybackSettings, id string) result {
	sctx, cancel := c.storeCtx(ctx)
	pl, err := c.store.LoadPlaylist(sctx, id)
	cancel()
	if err != nil {
		c.logger.Warn().Err(err).Str("playlist_id", id).Msg("activate playlist failed")
		return resultFailed
	}

	wasAudible := c.state == StatePlaying || c.state == StateFadingIn || c.state == StateCrossfading

	// The offset belongs to the old playlist; save it before adopting.
	c.saveOffset()
	c.nextToken()
	c.scheduler.Cancel()
	c.stopWatchdog()
	c.slots.ReleaseAll()
	c.pendingPlay = false

	c.persistPlaylistActive(ctx, pl.ID)
	pl.Active = true
	c.adopt(pl, settings)
	c.forceIdle()

	if wasAudible {
		c.play(ctx, settings)
	}
	return resultAccepted
}

func (c *Controller) playlistDeleted(id string) result {
	if c.playlist == nil || c.playlist.ID != id {
		return resultIgnored
	}

	wasAudible := c.slots.Active() != nil
	c.nextToken()
	c.scheduler.Cancel()
	c.stopWatchdog()
	c.slots.ReleaseAll()
	c.pendingPlay = false

	c.playlist = nil
	c.order = nil
	c.current = nil
	c.forceIdle()

	if wasAudible {
		c.publish(events.EventPlaybackStopped, events.Payload{"playlist_id": id, "reason": "playlist_deleted"})
	}
	return resultAccepted
}

func (c *Controller) shuffleModeChanged(ctx context.Context, settings config.PlaybackSettings, enabled bool) result {
	if w, ok := c.settings.(config.ShuffleWriter); ok && settings.ShuffleEnabled != enabled {
		if err := w.SetShuffle(enabled); err != nil {
			c.logger.Warn().Err(err).Msg("persist shuffle mode failed")
		}
	}
	settings.ShuffleEnabled = enabled

	if c.playlist != nil {
		c.order = c.seq.Regenerate(c.playlist, enabled)
	}
	c.updateStatus(func(s *Status) { s.Shuffle = enabled })
	return resultAccepted
}

// prepareWithRecovery prepares target in the standby slot. An unplayable
// track is removed from the playlist and the next candidate in the same
// direction is tried until one plays or the order is empty.
func (c *Controller) prepareWithRecovery(ctx context.Context, target *models.Track, offset time.Duration, forward bool) (*slots.Slot, error) {
	skipped := 0
	for target != nil {
		pctx, cancel := context.WithTimeout(ctx, c.prepareTimeout)
		slot, err := c.slots.PrepareStandby(pctx, *target, offset)
		cancel()

		if err == nil {
			slot.Processor().SetVolume(0)
			if err = slot.Stream().Start(); err == nil {
				return slot, nil
			}
			c.slots.ReleaseStandby()
			err = fmt.Errorf("%w: start: %v", output.ErrUnplayable, err)
		}

		failed := *target
		next := c.pick(&failed, forward)
		c.markUnplayable(ctx, failed, err)
		skipped++
		offset = 0

		if c.order.Len() == 0 || next == nil || next.ID == failed.ID {
			c.emptyPlaylist("all_tracks_unplayable")
			return nil, fmt.Errorf("playlist empty after %d unplayable tracks", skipped)
		}
		target = next
	}
	return nil, errors.New("no track to prepare")
}

// pick returns the neighbour of from in the current order, regenerating
// the order when advancing past its end.
func (c *Controller) pick(from *models.Track, forward bool) *models.Track {
	if forward {
		var t *models.Track
		t, c.order = c.seq.Advance(c.order, from)
		return t
	}
	return c.seq.Retreat(c.order, from)
}

func (c *Controller) markUnplayable(ctx context.Context, track models.Track, cause error) {
	telemetry.UnplayableTracksTotal.Inc()
	c.logger.Warn().
		Err(cause).
		Str("track_id", track.ID).
		Str("playlist_id", c.playlistID()).
		Msg("track unplayable, removing")

	c.seq.RemoveTrack(c.order, &track)
	if c.playlist != nil {
		c.playlist.RemoveTrack(track.ID)
	}
	if c.current != nil && c.current.ID == track.ID {
		c.current = nil
	}
	c.removeTrack(ctx, track.ID)

	payload := c.trackPayload(track)
	if cause != nil {
		payload["error"] = cause.Error()
	}
	c.publish(events.EventTrackUnplayable, payload)
	c.updateStatus(func(s *Status) { s.QueueLength = c.order.Len() })
}

func (c *Controller) emptyPlaylist(reason string) {
	c.logger.Warn().Str("playlist_id", c.playlistID()).Str("reason", reason).Msg("playlist empty")
	c.nextToken()
	c.scheduler.Cancel()
	c.stopWatchdog()
	c.slots.ReleaseAll()
	c.current = nil
	c.pendingPlay = false
	c.forceIdle()
	c.publish(events.EventPlaylistEmpty, events.Payload{"playlist_id": c.playlistID(), "reason": reason})
}

// adopt makes pl the loaded playlist and builds its order.
func (c *Controller) adopt(pl *models.Playlist, settings config.PlaybackSettings) {
	c.playlist = pl
	c.order = c.seq.Regenerate(pl, settings.ShuffleEnabled)
	c.current = nil
	if t := pl.CurrentTrack(); t != nil {
		cp := *t
		c.current = &cp
	}

	c.updateStatus(func(s *Status) {
		s.PlaylistID = pl.ID
		s.PlaylistName = pl.Name
		s.Track = c.current
		s.Shuffle = settings.ShuffleEnabled
		s.QueueLength = c.order.Len()
	})
	c.logger.Info().
		Str("playlist_id", pl.ID).
		Int("tracks", len(pl.Tracks)).
		Bool("shuffle", settings.ShuffleEnabled).
		Msg("playlist loaded")
}

// syncOrder regenerates the order when the track set or shuffle mode no
// longer matches it.
func (c *Controller) syncOrder(settings config.PlaybackSettings) {
	if c.playlist == nil {
		return
	}
	if !sequencer.Matches(c.order, c.playlist, settings.ShuffleEnabled) {
		c.order = c.seq.Regenerate(c.playlist, settings.ShuffleEnabled)
	}
	c.updateStatus(func(s *Status) {
		s.Shuffle = settings.ShuffleEnabled
		s.FadeDurationMs = settings.FadeDurationMs
		s.QueueLength = c.order.Len()
	})
}

// setCurrent moves the current pointer and persists it. Returns whether
// the track changed; callers publish the event.
func (c *Controller) setCurrent(ctx context.Context, t models.Track) bool {
	changed := c.current == nil || c.current.ID != t.ID
	c.current = &t
	if c.playlist != nil {
		c.playlist.SetCurrent(&t)
		if changed {
			c.persistCurrentTrack(ctx, c.playlist.ID, t.ID)
		}
	}
	c.updateStatus(func(s *Status) {
		cp := t
		s.Track = &cp
	})
	return changed
}

// saveOffset persists the active stream position against the current track.
func (c *Controller) saveOffset() {
	active := c.slots.Active()
	if active == nil || c.current == nil || active.Track().ID != c.current.ID {
		return
	}
	pos := active.Stream().Position()
	c.current.OffsetMs = pos.Milliseconds()
	if c.playlist != nil {
		if t := c.playlist.TrackByID(c.current.ID); t != nil {
			t.OffsetMs = c.current.OffsetMs
		}
	}
	c.persistOffset(c.ctx, c.current.ID, pos)
	c.updateStatus(func(s *Status) {
		cp := *c.current
		s.Track = &cp
	})
}

func (c *Controller) resetOffset(t *models.Track) {
	if t == nil || t.OffsetMs == 0 {
		return
	}
	t.OffsetMs = 0
	if c.playlist != nil {
		if pt := c.playlist.TrackByID(t.ID); pt != nil {
			pt.OffsetMs = 0
		}
	}
	c.persistOffset(c.ctx, t.ID, 0)
}

func (c *Controller) transitionTo(to State) {
	from := c.state
	if from == to {
		return
	}
	if err := checkTransition(from, to); err != nil {
		c.logger.Error().Err(err).Msg("refusing state change")
		return
	}
	c.setState(to)
}

// forceIdle resets to Idle from any state.
func (c *Controller) forceIdle() {
	if c.state != StateIdle {
		c.setState(StateIdle)
	}
}

func (c *Controller) setState(to State) {
	from := c.state
	c.state = to
	if to != StatePlaying {
		c.stopWatchdog()
	}

	telemetry.SetTransportState(string(to), stateNames())
	c.updateStatus(func(s *Status) { s.State = to })
	c.publish(events.EventStateChanged, events.Payload{"from": string(from), "to": string(to)})

	c.logger.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("state transition")
}

func (c *Controller) nextToken() uint64 {
	c.token++
	return c.token
}

func (c *Controller) updateStatus(fn func(*Status)) {
	c.statusMu.Lock()
	fn(&c.status)
	c.statusMu.Unlock()
}

func (c *Controller) publish(et events.EventType, payload events.Payload) {
	if c.events == nil {
		return
	}
	c.events.Publish(et, payload)
}

func (c *Controller) trackPayload(t models.Track) events.Payload {
	return events.Payload{
		"playlist_id": c.playlistID(),
		"track_id":    t.ID,
		"title":       t.DisplayTitle(),
		"artist":      t.DisplayArtist(),
	}
}

func (c *Controller) playlistID() string {
	if c.playlist == nil {
		return ""
	}
	return c.playlist.ID
}
