package playback

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/melodrift/internal/library"
	"github.com/friendsincode/melodrift/internal/models"
	"github.com/friendsincode/melodrift/internal/notifications"
	"github.com/friendsincode/melodrift/internal/queue"
	"github.com/friendsincode/melodrift/internal/resolver"
	"github.com/friendsincode/melodrift/internal/store"
)

var errBroken = errors.New("broken stream")

// testPlayer records loads and can hold a URL's Load until released.
type testPlayer struct {
	*SimulatedPlayer

	mu    sync.Mutex
	loads []string
	gates map[string]chan struct{}
}

func newTestPlayer() *testPlayer {
	return &testPlayer{SimulatedPlayer: NewSimulatedPlayer(0), gates: make(map[string]chan struct{})}
}

func (p *testPlayer) hold(url string) chan struct{} {
	ch := make(chan struct{})
	p.mu.Lock()
	p.gates[url] = ch
	p.mu.Unlock()
	return ch
}

func (p *testPlayer) Load(ctx context.Context, track models.Track) error {
	p.mu.Lock()
	p.loads = append(p.loads, track.URL)
	gate, held := p.gates[track.URL]
	p.mu.Unlock()
	if held {
		<-gate
		return nil
	}
	return p.SimulatedPlayer.Load(ctx, track)
}

func (p *testPlayer) loadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.loads)
}

type fakeResolver struct {
	mu        sync.Mutex
	urls      map[string]string
	fresh     map[string]string
	fail      map[string]bool
	refreshes int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{urls: map[string]string{}, fresh: map[string]string{}, fail: map[string]bool{}}
}

func (r *fakeResolver) Resolve(_ context.Context, id string) (resolver.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[id] {
		return resolver.Result{}, resolver.ErrResolutionFailed
	}
	url, ok := r.urls[id]
	if !ok {
		url = "https://cdn.example.com/" + id
	}
	return resolver.Result{URL: url, Title: "Resolved " + id, VideoID: id}, nil
}

func (r *fakeResolver) Refresh(ctx context.Context, id string) (resolver.Result, error) {
	r.mu.Lock()
	r.refreshes++
	url, ok := r.fresh[id]
	r.mu.Unlock()
	if ok {
		return resolver.Result{URL: url, VideoID: id}, nil
	}
	return r.Resolve(ctx, id)
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

type recorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *recorder) record(c StateChange) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Kind)
	}
	return out
}

type harness struct {
	engine   *Engine
	player   *testPlayer
	resolver *fakeResolver
	queue    *queue.Manager
	library  *library.Library
	store    store.Store
	notes    *recordingNotifier
	events   *recorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return newHarnessWithStore(t, cfg, store.NewMemory())
}

func newHarnessWithStore(t *testing.T, cfg Config, s store.Store) *harness {
	t.Helper()
	h := &harness{
		player:   newTestPlayer(),
		resolver: newFakeResolver(),
		store:    s,
		notes:    &recordingNotifier{},
		events:   &recorder{},
	}
	h.queue = queue.NewManager(s, zerolog.Nop())
	h.library = library.New(s, 20, zerolog.Nop())

	e, err := New(Deps{
		Player:   h.player,
		Resolver: h.resolver,
		Queue:    h.queue,
		Library:  h.library,
		Store:    s,
		Notifier: h.notes,
		Rand:     rand.New(rand.NewPCG(1, 2)),
	}, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	e.Subscribe(h.events.record)
	t.Cleanup(e.Close)
	h.engine = e
	return h
}

func (h *harness) enqueue(t *testing.T, tracks ...models.Track) {
	t.Helper()
	for _, tr := range tracks {
		if _, err := h.queue.Enqueue(context.Background(), tr, queue.Tail); err != nil {
			t.Fatalf("enqueue %s: %v", tr.ID, err)
		}
	}
}

func localTrack(id string) models.Track {
	return models.Track{ID: id, Title: "Song " + id, Artist: "Artist", URL: "file:///" + id, Source: models.SourceLocal}
}

func remoteTrack(id string) models.Track {
	return models.Track{ID: id, Title: "Song " + id, Artist: "Artist", Source: models.SourceRemote}
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

func denyAll() Guard {
	return GuardFunc(func(Action) error { return ErrNotAuthorized })
}
