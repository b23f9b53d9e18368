/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package transport carries encoded protocol frames between the members of a
// room. The WebSocket dialer talks to the relay server; the NATS and Redis
// dialers use a broker subject or channel per room instead.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/melodrift/internal/models"
	"github.com/friendsincode/melodrift/internal/protocol"
)

var (
	// ErrClosed is returned by Send after the connection has ended.
	ErrClosed = fmt.Errorf("%w: connection closed", models.ErrTransport)

	// ErrDial is returned when a connection cannot be established.
	ErrDial = fmt.Errorf("%w: dial failed", models.ErrTransport)
)

// frameBuffer bounds undelivered inbound frames per connection.
const frameBuffer = 64

// Conn is one member's handle on a room channel.
//
// Frames never closes; select on Done as well. Err is nil after a local
// Close and describes the failure otherwise.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Frames() <-chan []byte
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Dialer opens a Conn for userID in roomID.
type Dialer interface {
	Dial(ctx context.Context, roomID, userID string) (Conn, error)
}

// pipe is the inbound side shared by every Conn implementation.
type pipe struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func newPipe() *pipe {
	return &pipe{
		frames: make(chan []byte, frameBuffer),
		done:   make(chan struct{}),
	}
}

// deliver hands frame to the reader, giving up once the pipe is shut.
func (p *pipe) deliver(frame []byte) bool {
	select {
	case p.frames <- frame:
		return true
	case <-p.done:
		return false
	}
}

// shutdown ends the pipe. Only the first call records its error.
func (p *pipe) shutdown(err error) bool {
	first := false
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
		first = true
	})
	return first
}

func (p *pipe) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *pipe) Frames() <-chan []byte { return p.frames }

func (p *pipe) Done() <-chan struct{} { return p.done }

func (p *pipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// envelope wraps frames on the broker relays so members can drop their own
// echoes.
type envelope struct {
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

func wrap(sender string, frame []byte) ([]byte, error) {
	if !json.Valid(frame) {
		return nil, fmt.Errorf("%w: frame is not JSON", models.ErrInvalidInput)
	}
	return json.Marshal(envelope{Sender: sender, Payload: frame})
}

// unwrap returns the payload and whether it came from someone other than self.
func unwrap(self string, raw []byte) ([]byte, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Payload) == 0 {
		return nil, false
	}
	if env.Sender == self {
		return nil, false
	}
	return env.Payload, true
}

// presence builds the user_joined/user_left frame the broker relays publish
// on behalf of the relay server.
func presence(t protocol.Type, roomID, userID string) []byte {
	b, err := protocol.Encode(protocol.New(t, roomID, userID, time.Now()))
	if err != nil {
		return nil
	}
	return b
}
