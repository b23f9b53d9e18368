/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package registry talks to the room registry: creating rooms and confirming
// that a room exists before joining it.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/melodrift/internal/models"
	"github.com/friendsincode/melodrift/internal/telemetry"
)

var (
	// ErrRoomCreateFailed wraps every create-room failure; a deadline also wraps models.ErrTimeout.
	ErrRoomCreateFailed = fmt.Errorf("%w: could not create room", models.ErrTransport)
	ErrRoomNotFound     = fmt.Errorf("%w: room not found", models.ErrNotFound)
	ErrRegistry         = fmt.Errorf("%w: registry unavailable", models.ErrTransport)
)

// DefaultCreateTimeout bounds CreateRoom when the caller sets no shorter deadline.
const DefaultCreateTimeout = 10 * time.Second

// RoomInfo is the registry's answer to a create-room request.
type RoomInfo struct {
	RoomID  string `json:"room_id"`
	HostID  string `json:"host_id"`
	Message string `json:"message,omitempty"`
}

// Room is the registry's view of an existing room.
type Room struct {
	HostID        string `json:"host_id"`
	IsPlaying     bool   `json:"is_playing"`
	ListenerCount int    `json:"listener_count"`
}

// Client is an HTTP registry client.
type Client struct {
	baseURL       string
	createTimeout time.Duration
	httpClient    *http.Client
	logger        zerolog.Logger
}

// New creates a registry client. A non-positive createTimeout uses DefaultCreateTimeout.
func New(baseURL string, createTimeout time.Duration, logger zerolog.Logger) *Client {
	if createTimeout <= 0 {
		createTimeout = DefaultCreateTimeout
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		createTimeout: createTimeout,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// CreateRoom asks the registry for a new room.
func (c *Client) CreateRoom(ctx context.Context) (info RoomInfo, err error) {
	ctx, span := telemetry.StartSpan(ctx, "registry.create_room")
	defer func() { telemetry.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.createTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/create-room", nil)
	if err != nil {
		return RoomInfo{}, fmt.Errorf("%w: %v", ErrRoomCreateFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return RoomInfo{}, fmt.Errorf("%w: %w", ErrRoomCreateFailed, models.ErrTimeout)
		}
		return RoomInfo{}, fmt.Errorf("%w: %v", ErrRoomCreateFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return RoomInfo{}, fmt.Errorf("%w: status %d", ErrRoomCreateFailed, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return RoomInfo{}, fmt.Errorf("%w: %w", ErrRoomCreateFailed, models.ErrTimeout)
		}
		return RoomInfo{}, fmt.Errorf("%w: decode response: %v", ErrRoomCreateFailed, err)
	}
	if info.RoomID == "" {
		return RoomInfo{}, fmt.Errorf("%w: response has no room id", ErrRoomCreateFailed)
	}
	if info.HostID == "" {
		info.HostID = "host_" + info.RoomID
	}

	span.SetAttributes(attribute.String("room.id", info.RoomID))
	c.logger.Info().Str("room_id", info.RoomID).Msg("room created")
	return info, nil
}

// GetRoom confirms that roomID exists.
func (c *Client) GetRoom(ctx context.Context, roomID string) (room Room, err error) {
	ctx, span := telemetry.StartSpan(ctx, "registry.get_room", attribute.String("room.id", roomID))
	defer func() { telemetry.EndSpan(span, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/room/"+url.PathEscape(roomID), nil)
	if err != nil {
		return Room{}, fmt.Errorf("%w: %v", ErrRegistry, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Room{}, fmt.Errorf("%w: %w", ErrRegistry, models.ErrTimeout)
		}
		return Room{}, fmt.Errorf("%w: %v", ErrRegistry, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Room{}, ErrRoomNotFound
	case resp.StatusCode != http.StatusOK:
		return Room{}, fmt.Errorf("%w: status %d", ErrRegistry, resp.StatusCode)
	}

	// The body is informational; an unreadable one still confirms the room.
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		c.logger.Debug().Err(err).Str("room_id", roomID).Msg("unreadable room body")
	}
	return room, nil
}
