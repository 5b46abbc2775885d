/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/fadeplay/internal/api"
	"github.com/friendsincode/fadeplay/internal/config"
	"github.com/friendsincode/fadeplay/internal/db"
	"github.com/friendsincode/fadeplay/internal/eventbus"
	"github.com/friendsincode/fadeplay/internal/events"
	"github.com/friendsincode/fadeplay/internal/logbuffer"
	"github.com/friendsincode/fadeplay/internal/media"
	"github.com/friendsincode/fadeplay/internal/output"
	"github.com/friendsincode/fadeplay/internal/sequencer"
	"github.com/friendsincode/fadeplay/internal/store"
	"github.com/friendsincode/fadeplay/internal/telemetry"
	"github.com/friendsincode/fadeplay/internal/transport"
	"github.com/friendsincode/fadeplay/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db         *gorm.DB
	logBuffer  *logbuffer.Buffer
	store      *store.Store
	media      *media.Service
	sink       output.Sink
	settings   config.PlaybackSource
	bus        *events.Bus
	redis      *eventbus.RedisBus
	nats       *eventbus.NATSBridge
	controller *transport.Controller
	api        *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server, wires dependencies and starts the transport.
// logBuf may be nil, which disables the log endpoint.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("fadeplay-api"))
	router.Use(telemetry.MetricsMiddleware)
	// The event stream is long-lived; everything else gets a deadline.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if cfg.MetricsBind != "" && cfg.MetricsBind != cfg.HTTPAddr() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 15 * time.Second,
		}
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 for the event stream; the middleware timeout
		// covers ordinary routes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.store = store.New(database, s.logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	activeID, err := s.store.EnforceSingleActive(ctx)
	if err != nil {
		return fmt.Errorf("enforce single active playlist: %w", err)
	}
	if activeID != "" {
		ev := s.logger.Info().Str("playlist_id", activeID)
		if track, err := s.store.FindActiveTrack(ctx); err == nil && track != nil {
			ev = ev.Str("track_id", track.ID).Int64("offset_ms", track.OffsetMs)
		}
		ev.Msg("active playlist restored")
	}

	if s.cfg.S3Bucket == "" {
		if err := os.MkdirAll(s.cfg.MediaRoot, 0o755); err != nil {
			return fmt.Errorf("failed to create media directory %s: %w", s.cfg.MediaRoot, err)
		}
	}
	mediaSvc, err := media.NewService(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("media service: %w", err)
	}
	if err := mediaSvc.CheckStorageAccess(); err != nil {
		s.logger.Warn().Err(err).Msg("media storage not reachable, tracks will be skipped until it is")
	}
	s.media = mediaSvc

	switch s.cfg.OutputBackend {
	case config.OutputGStreamer:
		s.sink = output.NewGStreamerSink(mediaSvc, output.GStreamerConfig{
			LaunchBin:     s.cfg.GStreamerBin,
			DiscovererBin: s.cfg.DiscovererBin,
			SampleRate:    s.cfg.SampleRate,
			Channels:      s.cfg.Channels,
		}, s.logger)
	default:
		s.sink = output.NewBeepSink(mediaSvc, s.cfg.SampleRate, s.logger)
	}
	s.DeferClose(s.sink.Close)

	if s.cfg.SettingsFile != "" {
		settings, err := config.NewSettingsFile(s.cfg.SettingsFile, s.logger)
		if err != nil {
			return fmt.Errorf("settings file: %w", err)
		}
		s.settings = settings
	} else {
		s.settings = config.NewStaticSettings(config.DefaultPlaybackSettings())
	}

	nodeID := eventbus.NodeID(s.cfg.InstanceID)
	publisher := eventbus.Fanout{s.bus}

	if s.cfg.RedisAddr != "" {
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		rb, err := eventbus.NewRedisBus(ctx, redisCfg, s.bus, nodeID, s.logger)
		if err != nil {
			return fmt.Errorf("redis event bus: %w", err)
		}
		s.redis = rb
		s.DeferClose(rb.Close)
		publisher[0] = rb
	}

	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsCfg.Prefix = s.cfg.NATSSubjectPrefix
		bridge, err := eventbus.NewNATSBridge(natsCfg, nodeID, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("nats unavailable, continuing without command bridge")
		} else {
			s.nats = bridge
			s.DeferClose(bridge.Close)
			publisher = append(publisher, bridge)
		}
	}

	s.controller = transport.New(transport.Deps{
		Store:            s.store,
		Sink:             s.sink,
		Sequencer:        sequencer.New(nil),
		Settings:         s.settings,
		Events:           publisher,
		FadeStep:         s.cfg.FadeStep,
		WatchdogInterval: s.cfg.WatchdogInterval,
	}, s.logger)

	if s.nats != nil {
		if err := s.nats.SubscribeCommands(s.controller); err != nil {
			return fmt.Errorf("nats command subscription: %w", err)
		}
	}

	s.api = api.New(s.controller, s.store, s.bus, s.logBuffer, s.logger)
	return nil
}

// HTTPServer returns the API server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer returns the dedicated metrics server, or nil when metrics
// are served from the API router.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Controller returns the transport controller.
func (s *Server) Controller() *transport.Controller {
	return s.controller
}

// Close stops background workers, then runs closers in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers fn to run on Close.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.goWorker("transport", func() error { return s.controller.Run(ctx) })

	if watcher, ok := s.settings.(*config.SettingsFile); ok {
		s.goWorker("settings watcher", func() error { return watcher.Watch(ctx) })
	}

	if s.redis != nil {
		s.goWorker("redis event bus", func() error { return s.redis.Run(ctx) })
	}

	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}
}

func (s *Server) goWorker(name string, run func() error) {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := run(); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Str("worker", name).Msg("background worker exited")
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","state":%q,"version":%q}`, s.controller.Status().State, version.Version)
	})

	if s.metricsServer == nil {
		s.router.Handle("/metrics", telemetry.Handler())
	}

	s.api.Routes(s.router)
}
