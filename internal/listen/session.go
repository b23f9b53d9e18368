/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package listen implements Listen Together rooms: a host broadcasts its
// transport changes and listeners mirror them.
package listen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/melodrift/internal/events"
	"github.com/friendsincode/melodrift/internal/models"
	"github.com/friendsincode/melodrift/internal/notifications"
	"github.com/friendsincode/melodrift/internal/playback"
	"github.com/friendsincode/melodrift/internal/protocol"
	"github.com/friendsincode/melodrift/internal/registry"
	"github.com/friendsincode/melodrift/internal/telemetry"
	"github.com/friendsincode/melodrift/internal/transport"
)

// MinRoomIDLength is the shortest room id JoinRoom accepts.
const MinRoomIDLength = 4

var (
	ErrInvalidRoomID = fmt.Errorf("%w: room id must be at least %d characters", models.ErrInvalidInput, MinRoomIDLength)
	ErrAlreadyInRoom = fmt.Errorf("%w: already in a room", models.ErrInvalidInput)
	ErrNotInRoom     = fmt.Errorf("%w: not in a room", models.ErrInvalidInput)
	ErrNotListener   = fmt.Errorf("%w: only listeners request a sync", models.ErrInvalidInput)
)

// Registry allocates and looks up rooms.
type Registry interface {
	CreateRoom(ctx context.Context) (registry.RoomInfo, error)
	GetRoom(ctx context.Context, roomID string) (registry.Room, error)
}

// Engine is the playback surface a session drives and observes.
type Engine interface {
	Subscribe(fn func(playback.StateChange)) (unsubscribe func())
	SetGuard(g playback.Guard)
	Snapshot() models.PlaybackState
	Position() float64
	CurrentTrackID() string
	ApplyRemoteTrack(ctx context.Context, track models.Track, position float64, playing bool) error
	ApplyRemotePlaying(ctx context.Context, playing bool) error
	ApplyRemoteSeek(seconds float64) error
}

// Config tunes the session.
type Config struct {
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	ReconnectAttempts int
	SyncGuardHold     time.Duration
	DriftThreshold    float64 // seconds

	// ServeSnapshots makes the host answer user_joined and sync_request with
	// a room_state. Broker relays need it; the relay server keeps its own state.
	ServeSnapshots bool
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		ReconnectDelay:    2 * time.Second,
		ReconnectAttempts: 3,
		SyncGuardHold:     100 * time.Millisecond,
		DriftThreshold:    2,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = def.ReconnectDelay
	}
	if c.ReconnectAttempts < 0 {
		c.ReconnectAttempts = def.ReconnectAttempts
	}
	if c.SyncGuardHold <= 0 {
		c.SyncGuardHold = def.SyncGuardHold
	}
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = def.DriftThreshold
	}
	return c
}

// Deps are the session's collaborators.
type Deps struct {
	Registry Registry
	Dialer   transport.Dialer
	Engine   Engine
	Notifier notifications.Notifier
	Bus      *events.Bus
}

// Session is this process's membership in at most one room. It owns the
// room connection exclusively.
type Session struct {
	cfg      Config
	registry Registry
	dialer   transport.Dialer
	engine   Engine
	notifier notifications.Notifier
	bus      *events.Bus
	logger   zerolog.Logger
	now      func() time.Time

	outbox      chan protocol.Message
	unsubscribe func()

	// opMu serializes create, join and leave.
	opMu sync.Mutex

	mu        sync.Mutex
	room      models.Room
	conn      transport.Conn
	epoch     uint64
	cancel    context.CancelFunc
	done      chan struct{}
	listeners int
	attempts  int
	lost      bool
	syncing   bool
	syncGen   uint64
}

// New creates a session outside any room, installs it as the engine's guard
// and subscribes to engine changes.
func New(deps Deps, cfg Config, logger zerolog.Logger) (*Session, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("listen: registry is required")
	case deps.Dialer == nil:
		return nil, errors.New("listen: dialer is required")
	case deps.Engine == nil:
		return nil, errors.New("listen: engine is required")
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.Discard{}
	}

	s := &Session{
		cfg:      cfg.withDefaults(),
		registry: deps.Registry,
		dialer:   deps.Dialer,
		engine:   deps.Engine,
		notifier: notifier,
		bus:      deps.Bus,
		logger:   logger.With().Str("component", "listen").Logger(),
		now:      time.Now,
		outbox:   make(chan protocol.Message, outboxSize),
		room:     models.Room{Role: models.RoleNone, Connection: models.ConnDisconnected},
	}
	s.engine.SetGuard(s)
	s.unsubscribe = s.engine.Subscribe(s.onChange)
	return s, nil
}

// Close leaves any room and detaches from the engine.
func (s *Session) Close() {
	_ = s.LeaveRoom(context.Background())
	s.unsubscribe()
	s.engine.SetGuard(nil)
}

// CreateRoom allocates a room through the registry and joins it as host.
func (s *Session) CreateRoom(ctx context.Context) (room models.Room, err error) {
	ctx, span := telemetry.StartSpan(ctx, "listen.create_room")
	defer func() { telemetry.EndSpan(span, err) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.Role() != models.RoleNone {
		return models.Room{}, ErrAlreadyInRoom
	}

	info, err := s.registry.CreateRoom(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("room creation failed")
		if errors.Is(err, models.ErrTimeout) {
			s.notifier.Notify(notifications.LevelError, "Room creation timed out")
		} else {
			s.notifier.Notify(notifications.LevelError, "Failed to create room")
		}
		return models.Room{}, err
	}

	room, err = s.enter(ctx, models.Room{ID: info.RoomID, HostID: info.HostID, UserID: info.HostID, Role: models.RoleHost}, 1)
	if err != nil {
		return models.Room{}, err
	}
	span.SetAttributes(attribute.String("room.id", room.ID))
	s.notifier.Notify(notifications.LevelSuccess, "Room created: "+room.ID)
	return room, nil
}

// JoinRoom confirms roomID with the registry and joins it as a listener.
// Surrounding whitespace is dropped; case is kept.
func (s *Session) JoinRoom(ctx context.Context, roomID string) (room models.Room, err error) {
	roomID = strings.TrimSpace(roomID)
	ctx, span := telemetry.StartSpan(ctx, "listen.join_room", attribute.String("room.id", roomID))
	defer func() { telemetry.EndSpan(span, err) }()

	if len(roomID) < MinRoomIDLength {
		s.notifier.Notify(notifications.LevelError, "Invalid room ID")
		return models.Room{}, ErrInvalidRoomID
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.Role() != models.RoleNone {
		return models.Room{}, ErrAlreadyInRoom
	}

	info, err := s.registry.GetRoom(ctx, roomID)
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("room lookup failed")
		if errors.Is(err, registry.ErrRoomNotFound) {
			s.notifier.Notify(notifications.LevelError, "Room not found")
		} else {
			s.notifier.Notify(notifications.LevelError, "Failed to join room")
		}
		return models.Room{}, err
	}

	room, err = s.enter(ctx, models.Room{
		ID:     roomID,
		HostID: info.HostID,
		UserID: "user_" + uuid.NewString(),
		Role:   models.RoleListener,
	}, info.ListenerCount+1)
	if err != nil {
		return models.Room{}, err
	}
	s.notifier.Notify(notifications.LevelSuccess, "Joined room "+room.ID)
	return room, nil
}

// enter opens the connection for room and starts serving it. listeners is
// the count known before connecting, this member included.
func (s *Session) enter(ctx context.Context, room models.Room, listeners int) (models.Room, error) {
	s.publishConnection(room.ID, models.ConnConnecting)
	conn, err := s.dialer.Dial(ctx, room.ID, room.UserID)
	if err != nil {
		s.logger.Error().Err(err).Str("room_id", room.ID).Msg("room connection failed")
		s.notifier.Notify(notifications.LevelError, "Failed to connect to room")
		s.publishConnection(room.ID, models.ConnDisconnected)
		return models.Room{}, fmt.Errorf("connect to room %s: %w", room.ID, err)
	}
	s.drainOutbox()

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	room.Connection = models.ConnConnected

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.room = room
	s.conn = conn
	s.cancel = cancel
	s.done = done
	s.listeners = max(1, listeners)
	s.attempts = 0
	s.lost = false
	s.syncing = false
	s.mu.Unlock()

	go s.run(runCtx, epoch, conn, done)

	s.logger.Info().Str("room_id", room.ID).Str("role", string(room.Role)).Str("user_id", room.UserID).Msg("joined room")
	telemetry.ListenerCount.Set(float64(max(1, listeners)))
	s.publishConnection(room.ID, models.ConnConnected)
	s.bus.Publish(events.EventRoomJoined, events.Payload{
		"room_id": room.ID,
		"role":    string(room.Role),
		"user_id": room.UserID,
	})
	return room, nil
}

// LeaveRoom closes the connection and returns to no role. It is a no-op
// outside a room.
func (s *Session) LeaveRoom(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.room.Role == models.RoleNone {
		s.mu.Unlock()
		return nil
	}
	room := s.room
	conn, cancel, done := s.conn, s.cancel, s.done
	s.resetLocked()
	s.mu.Unlock()

	cancel()
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("close room connection")
		}
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info().Str("room_id", room.ID).Msg("left room")
	telemetry.ListenerCount.Set(0)
	s.publishConnection(room.ID, models.ConnDisconnected)
	s.bus.Publish(events.EventRoomLeft, events.Payload{"room_id": room.ID})
	s.notifier.Notify(notifications.LevelInfo, "Left room")
	return nil
}

// resetLocked clears membership and invalidates goroutines of the old epoch.
func (s *Session) resetLocked() {
	s.epoch++
	s.room = models.Room{Role: models.RoleNone, Connection: models.ConnDisconnected}
	s.conn = nil
	s.cancel = nil
	s.done = nil
	s.listeners = 0
	s.attempts = 0
	s.syncing = false
}

// Role returns the current role.
func (s *Session) Role() models.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room.Role
}

// Status returns the externally visible session state.
func (s *Session) Status() models.RoomStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.RoomStatus{
		Room:              s.room,
		InRoom:            s.room.Role != models.RoleNone,
		ListenerCount:     s.listeners,
		ReconnectAttempts: s.attempts,
		Lost:              s.lost,
	}
}

// Authorize implements playback.Guard: listeners may not drive transport.
func (s *Session) Authorize(action playback.Action) error {
	if s.Role() == models.RoleListener {
		return fmt.Errorf("%w: %s is reserved for the host", playback.ErrNotAuthorized, action)
	}
	return nil
}

func (s *Session) publishConnection(roomID string, state models.ConnectionState) {
	s.bus.Publish(events.EventConnection, events.Payload{
		"room_id": roomID,
		"state":   string(state),
	})
}
