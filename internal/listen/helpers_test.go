package listen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/melodrift/internal/events"
	"github.com/friendsincode/melodrift/internal/library"
	"github.com/friendsincode/melodrift/internal/models"
	"github.com/friendsincode/melodrift/internal/notifications"
	"github.com/friendsincode/melodrift/internal/playback"
	"github.com/friendsincode/melodrift/internal/protocol"
	"github.com/friendsincode/melodrift/internal/queue"
	"github.com/friendsincode/melodrift/internal/registry"
	"github.com/friendsincode/melodrift/internal/store"
	"github.com/friendsincode/melodrift/internal/transport"
)

var errRefused = errors.New("connection refused")

type fakeRegistry struct {
	mu        sync.Mutex
	rooms     map[string]registry.Room
	createErr error
	nextID    string
}

func (r *fakeRegistry) CreateRoom(context.Context) (registry.RoomInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return registry.RoomInfo{}, r.createErr
	}
	id := r.nextID
	r.rooms[id] = registry.Room{HostID: "host_" + id}
	return registry.RoomInfo{RoomID: id, HostID: "host_" + id}, nil
}

func (r *fakeRegistry) GetRoom(_ context.Context, id string) (registry.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return registry.Room{}, registry.ErrRoomNotFound
	}
	return room, nil
}

type fakeConn struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
	sent   chan protocol.Message

	mu  sync.Mutex
	err error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
		sent:   make(chan protocol.Message, 64),
	}
}

func (c *fakeConn) Send(_ context.Context, frame []byte) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	m, err := protocol.Decode(frame)
	if err != nil {
		return err
	}
	c.sent <- m
	return nil
}

func (c *fakeConn) Frames() <-chan []byte { return c.frames }
func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.drop(nil)
	return nil
}

// drop ends the connection as if the far side went away.
func (c *fakeConn) drop(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeConn) inject(t *testing.T, raw string) {
	t.Helper()
	select {
	case c.frames <- []byte(raw):
	case <-time.After(time.Second):
		t.Fatal("inbound frame not consumed")
	}
}

// next returns the next sent message that is not a ping.
func (c *fakeConn) next(t *testing.T) protocol.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-c.sent:
			if m.Type == protocol.TypePing {
				continue
			}
			return m
		case <-deadline:
			t.Fatal("timed out waiting for an outbound message")
		}
	}
}

// quiet fails if anything but a ping is sent within d.
func (c *fakeConn) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case m := <-c.sent:
			if m.Type != protocol.TypePing {
				t.Fatalf("unexpected outbound %s", m.Type)
			}
		case <-deadline:
			return
		}
	}
}

type dial struct {
	roomID, userID string
	at             time.Time
}

type fakeDialer struct {
	mu    sync.Mutex
	dials []dial
	conns []*fakeConn
	// fail reports whether the n-th dial (1-based) is refused.
	fail func(n int) bool
}

func (d *fakeDialer) Dial(_ context.Context, roomID, userID string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, dial{roomID: roomID, userID: userID, at: time.Now()})
	if d.fail != nil && d.fail(len(d.dials)) {
		return nil, errRefused
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(_ notifications.Level, message string) {
	n.mu.Lock()
	n.msgs = append(n.msgs, message)
	n.mu.Unlock()
}

func (n *recordingNotifier) has(message string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.msgs {
		if m == message {
			return true
		}
	}
	return false
}

type harness struct {
	session  *Session
	engine   *playback.Engine
	registry *fakeRegistry
	dialer   *fakeDialer
	notes    *recordingNotifier
	bus      *events.Bus
}

func testConfig() Config {
	return Config{
		HeartbeatInterval: time.Hour,
		ReconnectDelay:    20 * time.Millisecond,
		ReconnectAttempts: 3,
		SyncGuardHold:     30 * time.Millisecond,
		DriftThreshold:    2,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	s := store.NewMemory()
	engine, err := playback.New(playback.Deps{
		Player:  playback.NewSimulatedPlayer(0),
		Queue:   queue.NewManager(s, zerolog.Nop()),
		Library: library.New(s, 20, zerolog.Nop()),
		Store:   s,
	}, playback.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(engine.Close)

	h := &harness{
		engine: engine,
		registry: &fakeRegistry{
			rooms:  map[string]registry.Room{"AbCd1234": {HostID: "host_AbCd1234", ListenerCount: 2}},
			nextID: "Room9876",
		},
		dialer: &fakeDialer{},
		notes:  &recordingNotifier{},
		bus:    events.NewBus(),
	}
	session, err := New(Deps{
		Registry: h.registry,
		Dialer:   h.dialer,
		Engine:   engine,
		Notifier: h.notes,
		Bus:      h.bus,
	}, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(session.Close)
	h.session = session
	return h
}

func (h *harness) join(t *testing.T) *fakeConn {
	t.Helper()
	if _, err := h.session.JoinRoom(context.Background(), "AbCd1234"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	return h.dialer.conn(h.dialer.connCount() - 1)
}

func (h *harness) host(t *testing.T) *fakeConn {
	t.Helper()
	if _, err := h.session.CreateRoom(context.Background()); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return h.dialer.conn(h.dialer.connCount() - 1)
}

func song(id string) models.Track {
	return models.Track{ID: id, Title: "Song " + id, Artist: "Artist", URL: "file:///" + id, Source: models.SourceLocal, Duration: 180}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type seekCounter struct {
	mu    sync.Mutex
	count int
}

func (c *seekCounter) record(change playback.StateChange) {
	if change.Kind == playback.KindSeeked && change.Origin == playback.OriginRemote {
		c.mu.Lock()
		c.count++
		c.mu.Unlock()
	}
}

func (c *seekCounter) n() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
