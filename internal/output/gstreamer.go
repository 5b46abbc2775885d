/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hajimehoshi/oto/v2"
	"github.com/rs/zerolog"

	"github.com/friendsincode/fadeplay/internal/dsp"
)

// GStreamerConfig configures the external decoder backend.
type GStreamerConfig struct {
	LaunchBin     string // gst-launch-1.0
	DiscovererBin string // gst-discoverer-1.0
	SampleRate    int
	Channels      int
}

// GStreamerSink decodes each track to S16LE with a gst-launch process and
// plays the PCM through one oto player per stream.
type GStreamerSink struct {
	resolver Resolver
	cfg      GStreamerConfig
	logger   zerolog.Logger

	ctxOnce sync.Once
	ctxErr  error
	otoCtx  *oto.Context
}

// NewGStreamerSink creates a gstreamer-backed sink.
func NewGStreamerSink(resolver Resolver, cfg GStreamerConfig, logger zerolog.Logger) *GStreamerSink {
	if cfg.LaunchBin == "" {
		cfg.LaunchBin = "gst-launch-1.0"
	}
	if cfg.DiscovererBin == "" {
		cfg.DiscovererBin = "gst-discoverer-1.0"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	return &GStreamerSink{
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.With().Str("component", "gstreamer_sink").Logger(),
	}
}

func (s *GStreamerSink) audioContext() (*oto.Context, error) {
	s.ctxOnce.Do(func() {
		ctx, ready, err := oto.NewContext(s.cfg.SampleRate, s.cfg.Channels, 2)
		if err != nil {
			s.ctxErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-ready
		s.otoCtx = ctx
	})
	return s.otoCtx, s.ctxErr
}

// Open creates an unprepared stream.
func (s *GStreamerSink) Open(src Source) (Stream, error) {
	return &gstStream{
		sink:   s,
		src:    src,
		proc:   dsp.NewProcessor(s.logger),
		logger: s.logger.With().Str("track_id", src.TrackID).Logger(),
	}, nil
}

// Close suspends the audio device.
func (s *GStreamerSink) Close() error {
	if s.otoCtx == nil {
		return nil
	}
	return s.otoCtx.Suspend()
}

func (s *GStreamerSink) bytesPerSecond() int64 {
	return int64(s.cfg.SampleRate * s.cfg.Channels * 2)
}

type decoderProc struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	cancel context.CancelFunc
}

func (d *decoderProc) stop() {
	if d == nil {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}
	if d.stdout != nil {
		_ = d.stdout.Close()
	}
	if d.cmd != nil && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
		_ = d.cmd.Wait()
	}
}

// decoderArgs builds the gst-launch argv for path. Each element is passed
// to the process as-is, so path is never seen by a shell.
func (s *GStreamerSink) decoderArgs(path string) []string {
	caps := fmt.Sprintf("audio/x-raw,format=S16LE,layout=interleaved,rate=%d,channels=%d", s.cfg.SampleRate, s.cfg.Channels)
	return []string{
		"-q",
		"filesrc", "location=" + path, "!",
		"decodebin", "!",
		"audioconvert", "!",
		"audioresample", "!",
		caps, "!",
		"fdsink", "fd=1",
	}
}

func (s *GStreamerSink) startDecoder(path string) (*decoderProc, error) {
	args := s.decoderArgs(path)

	// The decoder outlives Prepare's context; Release cancels it.
	cmdCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(cmdCtx, s.cfg.LaunchBin, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("decoder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start decoder: %w", err)
	}

	s.logger.Debug().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("decoder started")
	return &decoderProc{cmd: cmd, stdout: stdout, cancel: cancel}, nil
}

type gstStream struct {
	sink   *GStreamerSink
	src    Source
	proc   *dsp.Processor
	logger zerolog.Logger

	mu       sync.Mutex
	dec      *decoderProc
	player   oto.Player
	prefetch []byte
	startAt  time.Duration
	cancel   context.CancelFunc // discoverer

	alive      atomic.Bool
	released   atomic.Bool
	played     atomic.Int64 // bytes handed to oto
	durationMs atomic.Int64 // 0 while unknown
}

func (g *gstStream) Prepare(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released.Load() {
		return fmt.Errorf("%w: stream released", ErrUnplayable)
	}

	path, err := g.sink.resolver.Resolve(ctx, g.src.Locator)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnplayable, err)
	}

	dec, startAt, first, err := g.openAt(ctx, path, g.src.StartAt)
	if err != nil {
		return err
	}

	otoCtx, err := g.sink.audioContext()
	if err != nil {
		dec.stop()
		return fmt.Errorf("%w: %v", ErrUnplayable, err)
	}

	configureProcessor(g.proc, dsp.Format{
		Encoding:   dsp.EncodingPCM16LE,
		SampleRate: g.sink.cfg.SampleRate,
		Channels:   g.sink.cfg.Channels,
	})

	g.dec = dec
	g.prefetch = first
	g.startAt = startAt
	g.player = otoCtx.NewPlayer(g)
	g.alive.Store(true)

	discoverCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	g.cancel = cancel
	go g.discover(discoverCtx, path)

	return nil
}

// openAt starts a decoder, skips to startAt and reads the first frame. A
// decoder that produces nothing is unplayable; an offset past the end
// restarts from the top.
func (g *gstStream) openAt(ctx context.Context, path string, startAt time.Duration) (*decoderProc, time.Duration, []byte, error) {
	dec, err := g.sink.startDecoder(path)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("%w: %v", ErrUnplayable, err)
	}

	stop := context.AfterFunc(ctx, dec.stop)
	defer stop()

	frame := g.frameBytes()
	if startAt > 0 {
		skip := int64(startAt.Seconds()*float64(g.sink.bytesPerSecond())) / int64(frame) * int64(frame)
		if _, err := io.CopyN(io.Discard, dec.stdout, skip); err != nil {
			dec.stop()
			if ctx.Err() != nil {
				return nil, 0, nil, fmt.Errorf("%w: %v", ErrUnplayable, ctx.Err())
			}
			g.logger.Warn().Dur("start_at", startAt).Msg("offset past end of track, playing from start")
			return g.openAt(ctx, path, 0)
		}
	}

	first := make([]byte, frame*256)
	n, err := io.ReadFull(dec.stdout, first)
	if n == 0 {
		dec.stop()
		if err == nil {
			err = io.EOF
		}
		return nil, 0, nil, fmt.Errorf("%w: decoder produced no audio: %v", ErrUnplayable, err)
	}
	return dec, startAt, first[:n-n%2], nil
}

func (g *gstStream) frameBytes() int {
	return g.sink.cfg.Channels * 2
}

func (g *gstStream) discover(ctx context.Context, path string) {
	probe, err := Discover(ctx, g.sink.cfg.DiscovererBin, path)
	if err != nil {
		g.logger.Debug().Err(err).Msg("duration probe failed, duration stays unknown")
		return
	}
	if probe.Duration > 0 {
		g.durationMs.Store(probe.Duration.Milliseconds())
	}
}

// Read feeds oto. Reads stay frame aligned so a sample never straddles two
// calls.
func (g *gstStream) Read(p []byte) (int, error) {
	if g.released.Load() {
		return 0, io.EOF
	}

	g.mu.Lock()
	dec := g.dec
	var n int
	if len(g.prefetch) > 0 {
		n = copy(p, g.prefetch)
		g.prefetch = g.prefetch[n:]
	}
	g.mu.Unlock()

	if n == 0 {
		if dec == nil {
			g.alive.Store(false)
			return 0, io.EOF
		}
		want := len(p) - len(p)%g.frameBytes()
		if want == 0 {
			want = len(p)
		}
		var err error
		n, err = io.ReadFull(dec.stdout, p[:want])
		if err != nil {
			n -= n % 2
			if n == 0 {
				g.alive.Store(false)
				if errors.Is(err, io.ErrUnexpectedEOF) {
					err = io.EOF
				}
				return 0, err
			}
		}
	}

	g.proc.ProcessInto(p[:n], p[:n])
	g.played.Add(int64(n))
	return n, nil
}

func (g *gstStream) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.player == nil || g.released.Load() {
		return fmt.Errorf("start unprepared stream")
	}
	if !g.player.IsPlaying() {
		g.player.Play()
	}
	return nil
}

func (g *gstStream) Position() time.Duration {
	g.mu.Lock()
	startAt := g.startAt
	g.mu.Unlock()
	secs := float64(g.played.Load()) / float64(g.sink.bytesPerSecond())
	return startAt + time.Duration(secs*float64(time.Second))
}

func (g *gstStream) Duration() (time.Duration, bool) {
	ms := g.durationMs.Load()
	if ms <= 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

func (g *gstStream) Processor() *dsp.Processor { return g.proc }

func (g *gstStream) Alive() bool {
	return g.alive.Load() && !g.released.Load()
}

func (g *gstStream) Release() error {
	if g.released.Swap(true) {
		return nil
	}
	g.alive.Store(false)

	g.mu.Lock()
	player, dec, cancel := g.player, g.dec, g.cancel
	g.player, g.dec = nil, nil
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if player != nil {
		err = player.Close()
	}
	dec.stop()
	g.logger.Debug().Msg("stream released")
	return err
}
