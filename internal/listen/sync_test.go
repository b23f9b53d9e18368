package listen

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/friendsincode/melodrift/internal/models"
	"github.com/friendsincode/melodrift/internal/protocol"
)

func roomState(t *testing.T, track models.Track, playing bool, position float64) string {
	t.Helper()
	song, err := json.Marshal(track)
	if err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf(`{"type":"room_state","is_host":false,"data":{"current_song":%s,"is_playing":%t,"current_time":%g}}`, song, playing, position)
}

func TestNeedsResyncDeadBand(t *testing.T) {
	cases := []struct {
		local, remote float64
		want          bool
	}{
		{10, 10, false},
		{10, 11.5, false},
		{10, 12, false},
		{10, 12.01, true},
		{10, 7.99, true},
		{0, 30, true},
	}
	for _, tc := range cases {
		if got := NeedsResync(tc.local, tc.remote, 2); got != tc.want {
			t.Errorf("NeedsResync(%v, %v) = %v, want %v", tc.local, tc.remote, got, tc.want)
		}
	}
}

func TestHostBroadcastsLocalChanges(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	conn := h.host(t)

	if err := h.engine.Play(ctx, song("a")); err != nil {
		t.Fatalf("Play: %v", err)
	}
	m := conn.next(t)
	if m.Type != protocol.TypeSongChange || m.Song == nil || m.Song.ID != "a" || m.RoomID != "Room9876" || m.Timestamp == "" {
		t.Fatalf("first message = %+v", m)
	}
	if m = conn.next(t); m.Type != protocol.TypePlay || m.CurrentTime == nil {
		t.Fatalf("second message = %+v", m)
	}

	if err := h.engine.Seek(ctx, 30); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if m = conn.next(t); m.Type != protocol.TypeSeek || m.Position() != 30 {
		t.Fatalf("seek message = %+v", m)
	}

	if err := h.engine.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if m = conn.next(t); m.Type != protocol.TypePause || m.Position() < 30 {
		t.Fatalf("pause message = %+v", m)
	}
}

func TestBroadcastSuppressedDuringSync(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	conn := h.host(t)

	gen := h.session.beginSync()
	if err := h.engine.Play(ctx, song("a")); err != nil {
		t.Fatalf("Play: %v", err)
	}
	conn.quiet(t, 20*time.Millisecond)

	h.session.endSync(gen)
	waitFor(t, "guard release", func() bool { return !h.session.SyncInProgress() })

	if err := h.engine.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if m := conn.next(t); m.Type != protocol.TypePause {
		t.Fatalf("first message after guard = %s, want pause", m.Type)
	}
}

func TestSyncGuardKeepsNewestApply(t *testing.T) {
	cfg := testConfig()
	cfg.SyncGuardHold = 40 * time.Millisecond
	h := newHarness(t, cfg)

	first := h.session.beginSync()
	h.session.endSync(first)
	time.Sleep(20 * time.Millisecond)
	second := h.session.beginSync()

	time.Sleep(30 * time.Millisecond)
	if !h.session.SyncInProgress() {
		t.Fatal("older apply cleared the guard of a newer one")
	}
	h.session.endSync(second)
	waitFor(t, "guard release", func() bool { return !h.session.SyncInProgress() })
}

func TestApplyingRoomStateNeverBroadcasts(t *testing.T) {
	cfg := testConfig()
	cfg.SyncGuardHold = 200 * time.Millisecond
	h := newHarness(t, cfg)
	conn := h.join(t)

	conn.inject(t, roomState(t, song("a"), true, 0))
	waitFor(t, "host track", func() bool { return h.engine.CurrentTrackID() == "a" })
	if !h.session.SyncInProgress() {
		t.Fatal("guard not held while applying")
	}
	waitFor(t, "listener playing", h.engine.Playing)

	conn.quiet(t, 50*time.Millisecond)
	waitFor(t, "guard release", func() bool { return !h.session.SyncInProgress() })
}

func TestPositionDeadBand(t *testing.T) {
	h := newHarness(t, testConfig())
	seeks := &seekCounter{}
	h.engine.Subscribe(seeks.record)
	conn := h.join(t)
	a := song("a")

	conn.inject(t, roomState(t, a, false, 10))
	waitFor(t, "initial position", func() bool {
		return h.engine.CurrentTrackID() == "a" && !h.engine.Playing() && math.Abs(h.engine.Position()-10) < 0.5
	})
	if seeks.n() != 1 {
		t.Fatalf("seeks after joining = %d, want 1", seeks.n())
	}

	conn.inject(t, roomState(t, a, false, 11.5))
	conn.inject(t, roomState(t, a, false, 13))
	waitFor(t, "resync", func() bool { return h.engine.Position() == 13 })
	if seeks.n() != 2 {
		t.Fatalf("seeks = %d, want 2 (11.5 is inside the dead-band)", seeks.n())
	}
}

func TestRelayedTransportMessagesFollowHost(t *testing.T) {
	h := newHarness(t, testConfig())
	conn := h.join(t)

	conn.inject(t, `{"type":"song_change","data":{"type":"song_change","song":{"id":"b","title":"B","url":"file:///b","duration":200}},`+
		`"room_state":{"host_id":"host_AbCd1234","current_song":{"id":"b","title":"B","url":"file:///b","duration":200},"is_playing":false,"current_time":0,"listener_count":2}}`)
	waitFor(t, "song change", func() bool { return h.engine.CurrentTrackID() == "b" && !h.engine.Playing() })

	conn.inject(t, `{"type":"play","data":{"type":"play","current_time":5},`+
		`"room_state":{"current_song":{"id":"b","title":"B","url":"file:///b","duration":200},"is_playing":true,"current_time":5,"listener_count":2}}`)
	waitFor(t, "play", func() bool { return h.engine.Playing() && h.engine.Position() >= 5 })

	if got := h.session.Status().ListenerCount; got != 2 {
		t.Fatalf("listener count = %d", got)
	}
}

func TestHostIgnoresRoomState(t *testing.T) {
	h := newHarness(t, testConfig())
	conn := h.host(t)

	conn.inject(t, `{"type":"room_state","is_host":true,"data":{"current_song":{"id":"x","url":"file:///x"},"is_playing":true}}`)
	conn.inject(t, `{"type":"ping"}`)
	time.Sleep(20 * time.Millisecond)
	if id := h.engine.CurrentTrackID(); id != "" {
		t.Fatalf("host applied inbound state: %q", id)
	}
}

func TestListenerCount(t *testing.T) {
	h := newHarness(t, testConfig())
	conn := h.join(t)

	conn.inject(t, `{"type":"user_joined","user_id":"user_x","listener_count":5}`)
	waitFor(t, "explicit count", func() bool { return h.session.Status().ListenerCount == 5 })

	conn.inject(t, `{"type":"user_left","user_id":"user_x"}`)
	waitFor(t, "presence count", func() bool { return h.session.Status().ListenerCount == 4 })
}

func TestHostAnswersJoinWithSnapshot(t *testing.T) {
	cfg := testConfig()
	cfg.ServeSnapshots = true
	h := newHarness(t, cfg)
	conn := h.host(t)

	if err := h.engine.Play(context.Background(), song("a")); err != nil {
		t.Fatalf("Play: %v", err)
	}
	conn.next(t) // song_change
	conn.next(t) // play

	conn.inject(t, `{"type":"user_joined","room_id":"Room9876","user_id":"user_2"}`)
	m := conn.next(t)
	if m.Type != protocol.TypeRoomState {
		t.Fatalf("answer = %s, want room_state", m.Type)
	}
	st, ok := m.State()
	if !ok || st.CurrentSong == nil || st.CurrentSong.ID != "a" || !st.IsPlaying || st.HostID != "host_Room9876" {
		t.Fatalf("snapshot = %+v", st)
	}
	if st.ListenerCount == nil || *st.ListenerCount != 2 {
		t.Fatalf("snapshot listener count = %v", st.ListenerCount)
	}
	if _, ok := protocol.ParseTimestamp(st.LastUpdate, time.UTC); !ok {
		t.Fatalf("last_update = %q", st.LastUpdate)
	}

	conn.inject(t, `{"type":"sync_request","user_id":"user_2"}`)
	if m := conn.next(t); m.Type != protocol.TypeRoomState {
		t.Fatalf("sync answer = %s", m.Type)
	}
}

func TestTargetPositionExtrapolates(t *testing.T) {
	h := newHarness(t, testConfig())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.session.now = func() time.Time { return now }
	pos := 10.0
	track := song("a")

	cases := []struct {
		name  string
		state protocol.RoomState
		want  float64
	}{
		{"paused", protocol.RoomState{CurrentTime: &pos, LastUpdate: now.Add(-3 * time.Second).Format(time.RFC3339)}, 10},
		{"playing", protocol.RoomState{IsPlaying: true, CurrentTime: &pos, LastUpdate: now.Add(-3 * time.Second).Format(time.RFC3339)}, 13},
		{"future", protocol.RoomState{IsPlaying: true, CurrentTime: &pos, LastUpdate: now.Add(time.Minute).Format(time.RFC3339)}, 10},
		{"no timestamp", protocol.RoomState{IsPlaying: true, CurrentTime: &pos}, 10},
		{"capped at duration", protocol.RoomState{IsPlaying: true, CurrentSong: &track, CurrentTime: &pos, LastUpdate: now.Add(-4 * time.Minute).Format(time.RFC3339)}, 180},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := h.session.targetPosition(tc.state); got != tc.want {
				t.Fatalf("targetPosition = %v, want %v", got, tc.want)
			}
		})
	}
}
