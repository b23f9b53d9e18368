/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/friendsincode/melodrift/internal/models"
)

// readLimit caps a single inbound frame; room_state snapshots carry full track metadata.
const readLimit = 1 << 20

// WebSocketDialer connects to the relay server at {base}/ws/{room_id}/{user_id}.
type WebSocketDialer struct {
	baseURL string
	logger  zerolog.Logger
}

// NewWebSocketDialer creates a dialer for the relay at baseURL (ws:// or wss://).
func NewWebSocketDialer(baseURL string, logger zerolog.Logger) *WebSocketDialer {
	return &WebSocketDialer{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With().Str("component", "ws_transport").Logger(),
	}
}

// Endpoint returns the socket URL for a room member.
func (d *WebSocketDialer) Endpoint(roomID, userID string) string {
	return d.baseURL + "/ws/" + url.PathEscape(roomID) + "/" + url.PathEscape(userID)
}

// Dial opens the socket and starts reading frames.
func (d *WebSocketDialer) Dial(ctx context.Context, roomID, userID string) (Conn, error) {
	endpoint := d.Endpoint(roomID, userID)
	ws, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDial, endpoint, err)
	}
	ws.SetReadLimit(readLimit)

	c := &wsConn{
		pipe:   newPipe(),
		ws:     ws,
		logger: d.logger.With().Str("room_id", roomID).Str("user_id", userID).Logger(),
	}
	go c.readLoop()

	c.logger.Info().Msg("websocket connected")
	return c, nil
}

type wsConn struct {
	*pipe
	ws     *websocket.Conn
	logger zerolog.Logger
}

func (c *wsConn) readLoop() {
	for {
		typ, data, err := c.ws.Read(context.Background())
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				err = fmt.Errorf("%w: closed by peer (%d)", ErrClosed, status)
			} else {
				err = fmt.Errorf("%w: %v", ErrClosed, err)
			}
			if c.shutdown(err) {
				c.logger.Warn().Err(err).Msg("websocket read ended")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		if !c.deliver(data) {
			return
		}
	}
}

// Send writes frame as a text message.
func (c *wsConn) Send(ctx context.Context, frame []byte) error {
	if c.closed() {
		return ErrClosed
	}
	if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", models.ErrTimeout, ErrClosed)
		}
		return fmt.Errorf("%w: write: %v", models.ErrTransport, err)
	}
	return nil
}

// Close ends the connection with a normal closure.
func (c *wsConn) Close() error {
	if !c.shutdown(nil) {
		return nil
	}
	if err := c.ws.Close(websocket.StatusNormalClosure, "leaving room"); err != nil {
		c.logger.Debug().Err(err).Msg("websocket close")
	}
	c.logger.Info().Msg("websocket disconnected")
	return nil
}
