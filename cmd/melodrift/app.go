/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/friendsincode/melodrift/internal/config"
	"github.com/friendsincode/melodrift/internal/console"
	"github.com/friendsincode/melodrift/internal/events"
	"github.com/friendsincode/melodrift/internal/library"
	"github.com/friendsincode/melodrift/internal/listen"
	"github.com/friendsincode/melodrift/internal/notifications"
	"github.com/friendsincode/melodrift/internal/playback"
	"github.com/friendsincode/melodrift/internal/queue"
	"github.com/friendsincode/melodrift/internal/registry"
	"github.com/friendsincode/melodrift/internal/resolver"
	"github.com/friendsincode/melodrift/internal/store"
	"github.com/friendsincode/melodrift/internal/telemetry"
	"github.com/friendsincode/melodrift/internal/transport"
	"github.com/friendsincode/melodrift/internal/version"
)

// app is the wired player process.
type app struct {
	tracer  *telemetry.TracerProvider
	store   store.Store
	bus     *events.Bus
	notes   *notifications.Service
	queue   *queue.Manager
	library *library.Library
	engine  *playback.Engine
	session *listen.Session
	status  *http.Server
}

func newApp(ctx context.Context) (*app, error) {
	a := &app{bus: events.NewBus()}

	tracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "melodrift",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize tracer: %w", err)
	}
	a.tracer = tracer

	s, err := store.Open(ctx, cfg, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = s
	a.notes = notifications.NewService(a.bus, logger)

	a.queue = queue.NewManager(s, logger, queue.WithNotifier(a.notes))
	if err := a.queue.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("queue not restored")
	}
	a.library = library.New(s, cfg.RecentsLimit, logger)
	if err := a.library.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("library not restored")
	}

	player := playback.NewSimulatedPlayer(0)
	engine, err := playback.New(playback.Deps{
		Player:   player,
		Resolver: resolver.New(cfg.ResolverURL, cfg.ResolverTTL, logger),
		Queue:    a.queue,
		Library:  a.library,
		Store:    s,
		Notifier: a.notes,
		Bus:      a.bus,
	}, playback.Config{
		StartTimeout: cfg.StartTimeout,
		SkipDelay:    cfg.SkipDelay,
		StallTimeout: cfg.StallTimeout,
	}, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("initialize playback: %w", err)
	}
	a.engine = engine
	engine.Attach(player)
	if err := engine.LoadSettings(ctx); err != nil {
		logger.Warn().Err(err).Msg("player settings not restored")
	}

	dialer, err := newDialer(cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	session, err := listen.New(listen.Deps{
		Registry: registry.New(cfg.RegistryURL, cfg.CreateRoomTimeout, logger),
		Dialer:   dialer,
		Engine:   engine,
		Notifier: a.notes,
		Bus:      a.bus,
	}, listen.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectDelay:    cfg.ReconnectDelay,
		ReconnectAttempts: cfg.ReconnectAttempts,
		SyncGuardHold:     cfg.SyncGuardHold,
		DriftThreshold:    cfg.DriftThreshold,
		ServeSnapshots:    cfg.RelayKind != config.RelayWebSocket,
	}, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("initialize session: %w", err)
	}
	a.session = session

	if cfg.StatusBind != "" {
		a.status = &http.Server{
			Addr:              cfg.StatusBind,
			Handler:           telemetry.NewStatusRouter(a.statusView),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.StatusBind).Msg("status server listening")
			if err := a.status.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("status server error")
			}
		}()
	}
	return a, nil
}

// newDialer picks the room channel implementation.
func newDialer(cfg *config.Config) (transport.Dialer, error) {
	switch cfg.RelayKind {
	case config.RelayWebSocket:
		return transport.NewWebSocketDialer(cfg.RelayURL, logger), nil
	case config.RelayNATS:
		nc := transport.DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		nc.Prefix = cfg.NATSPrefix
		return transport.NewNATSDialer(nc, logger), nil
	case config.RelayRedis:
		rc := transport.DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		rc.Prefix = cfg.RedisPrefix
		return transport.NewRedisDialer(rc, logger), nil
	default:
		return nil, fmt.Errorf("unsupported relay %q", cfg.RelayKind)
	}
}

func (a *app) statusView() any {
	return map[string]any{
		"version":       version.Version,
		"room":          a.session.Status(),
		"playback":      a.engine.Snapshot(),
		"queue_length":  a.queue.Len(),
		"notifications": a.notes.Recent(),
	}
}

// interact runs the console until stdin closes or a signal arrives.
func (a *app) interact(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	go func() {
		select {
		case sig := <-quit:
			logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()

	go a.notes.Run(ctx, os.Stdout)

	con := console.New(a.engine, a.queue, a.library, a.session, os.Stdout, logger)
	fmt.Fprintln(os.Stdout, `type "help" for commands`)
	err := con.Run(ctx, os.Stdin)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) close() {
	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.session != nil {
		a.session.Close()
	}
	if a.engine != nil {
		a.engine.Close()
	}
	if a.status != nil {
		if err := a.status.Shutdown(timeoutCtx); err != nil {
			logger.Error().Err(err).Msg("status server shutdown failed")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Error().Err(err).Msg("store close failed")
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(timeoutCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}
}
