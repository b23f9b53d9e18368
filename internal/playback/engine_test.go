package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/friendsincode/melodrift/internal/models"
)

func TestPlayRejectsInvalidTrack(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	err := h.engine.Play(ctx, models.Track{ID: "nowhere", Source: models.SourceLocal})
	if !errors.Is(err, ErrInvalidTrack) || !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidTrack, got %v", err)
	}
	snap := h.engine.Snapshot()
	if snap.State != models.StateIdle || snap.CurrentTrack != nil {
		t.Fatalf("expected no state change, got %+v", snap)
	}
	if !h.notes.has("Invalid song data") {
		t.Fatal("expected invalid track notification")
	}
	if h.player.loadCount() != 0 {
		t.Fatal("player should not be touched")
	}
}

func TestPlayResolvesRemoteTrack(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if err := h.engine.Play(ctx, remoteTrack("r1")); err != nil {
		t.Fatalf("play: %v", err)
	}
	snap := h.engine.Snapshot()
	if snap.State != models.StatePlaying || !snap.IsPlaying {
		t.Fatalf("expected playing, got %s", snap.State)
	}
	if snap.CurrentTrack == nil || snap.CurrentTrack.URL != "https://cdn.example.com/r1" {
		t.Fatalf("expected resolved url, got %+v", snap.CurrentTrack)
	}
	if snap.CurrentTrack.Title != "Song r1" {
		t.Fatalf("known title should be kept, got %q", snap.CurrentTrack.Title)
	}
	if recents := h.library.Recents.Tracks(); len(recents) != 1 || recents[0].ID != "r1" {
		t.Fatalf("expected track pushed to recents, got %+v", recents)
	}
	kinds := h.events.kinds()
	if len(kinds) != 2 || kinds[0] != KindTrackChanged || kinds[1] != KindPlayed {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestQueueTakesPriorityOverPlaylist(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	playlist := []models.Track{localTrack("X"), localTrack("Y"), localTrack("Z")}
	if err := h.engine.PlayFromPlaylist(ctx, playlist, 0); err != nil {
		t.Fatalf("play playlist: %v", err)
	}
	h.enqueue(t, localTrack("A"), localTrack("B"))

	for _, want := range []string{"A", "B", "Y"} {
		if err := h.engine.Next(ctx); err != nil {
			t.Fatalf("next: %v", err)
		}
		if got := h.engine.CurrentTrackID(); got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
	snap := h.engine.Snapshot()
	if snap.PlaylistIndex != 1 || snap.QueueLength != 0 {
		t.Fatalf("expected playlist index 1 and empty queue, got %+v", snap)
	}
	if !h.notes.has("Queue finished") {
		t.Fatal("expected queue finished notification")
	}
}

func TestEndOfTrackPrefersQueue(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if err := h.engine.PlayFromPlaylist(ctx, []models.Track{localTrack("X"), localTrack("Y")}, 0); err != nil {
		t.Fatalf("play playlist: %v", err)
	}
	h.enqueue(t, localTrack("A"))
	h.engine.SetRepeat(ctx, models.RepeatAll)

	h.engine.HandleEnded(ctx)
	if got := h.engine.CurrentTrackID(); got != "A" {
		t.Fatalf("expected queue head A, got %s", got)
	}
	if h.engine.Snapshot().PlaylistIndex != 0 {
		t.Fatal("queue playback must not move the playlist cursor")
	}

	h.engine.HandleEnded(ctx)
	if got := h.engine.CurrentTrackID(); got != "Y" {
		t.Fatalf("expected playlist to resume at Y, got %s", got)
	}
}

func TestRepeatOneWinsOverQueue(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if err := h.engine.PlayFromPlaylist(ctx, []models.Track{localTrack("X"), localTrack("Y")}, 0); err != nil {
		t.Fatalf("play playlist: %v", err)
	}
	h.enqueue(t, localTrack("A"))
	h.engine.SetRepeat(ctx, models.RepeatOne)
	if err := h.engine.Seek(ctx, 42); err != nil {
		t.Fatalf("seek: %v", err)
	}

	h.engine.HandleEnded(ctx)
	if got := h.engine.CurrentTrackID(); got != "X" {
		t.Fatalf("expected X restarted, got %s", got)
	}
	if h.queue.Len() != 1 {
		t.Fatalf("queue must be untouched, len=%d", h.queue.Len())
	}
	if pos := h.engine.Position(); pos > 1 {
		t.Fatalf("expected restart from zero, at %.1f", pos)
	}
	kinds := h.events.kinds()
	if kinds[len(kinds)-2] != KindSeeked || kinds[len(kinds)-1] != KindPlayed {
		t.Fatalf("expected seeked+played after restart, got %v", kinds)
	}
}

func TestEndOfTrackStopsAndResetsCursor(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if err := h.engine.PlayFromPlaylist(ctx, []models.Track{localTrack("X"), localTrack("Y")}, 1); err != nil {
		t.Fatalf("play playlist: %v", err)
	}
	h.engine.HandleEnded(ctx)

	snap := h.engine.Snapshot()
	if snap.State != models.StateIdle || snap.CurrentTrack != nil {
		t.Fatalf("expected idle, got %+v", snap)
	}
	if snap.PlaylistIndex != 0 {
		t.Fatalf("expected cursor reset to 0, got %d", snap.PlaylistIndex)
	}
	if !h.notes.has("Playback ended") {
		t.Fatal("expected playback ended notification")
	}
}

func TestEndOfTrackWrapsUnderRepeatAll(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if err := h.engine.PlayFromPlaylist(ctx, []models.Track{localTrack("X"), localTrack("Y")}, 1); err != nil {
		t.Fatalf("play playlist: %v", err)
	}
	h.engine.SetRepeat(ctx, models.RepeatAll)
	h.engine.HandleEnded(ctx)

	snap := h.engine.Snapshot()
	if snap.CurrentTrack == nil || snap.CurrentTrack.ID != "X" || snap.PlaylistIndex != 0 {
		t.Fatalf("expected wrap to X, got %+v", snap)
	}
}

func TestNextAtEndFinishesPlaylist(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if err := h.engine.PlayFromPlaylist(ctx, []models.Track{localTrack("X"), localTrack("Y")}, 1); err != nil {
		t.Fatalf("play playlist: %v", err)
	}
	if err := h.engine.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	if h.engine.Snapshot().State != models.StateIdle {
		t.Fatal("expected idle after last entry")
	}
	if !h.notes.has("Playlist finished") {
		t.Fatal("expected playlist finished notification")
	}
}

func TestNextReplaysUnderRepeatOne(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if err := h.engine.PlayFromPlaylist(ctx, []models.Track{localTrack("X"), localTrack("Y")}, 0); err != nil {
		t.Fatalf("play playlist: %v", err)
	}
	h.engine.SetRepeat(ctx, models.RepeatOne)
	if err := h.engine.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	if got := h.engine.CurrentTrackID(); got != "X" {
		t.Fatalf("expected X replayed, got %s", got)
	}
}

func TestNextEmptyPlaylist(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.engine.Next(context.Background()); !errors.Is(err, ErrEmptyPlaylist) {
		t.Fatalf("expected ErrEmptyPlaylist, got %v", err)
	}
}

func TestPreviousWrapsToLast(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if err := h.engine.PlayFromPlaylist(ctx, []models.Track{localTrack("X"), localTrack("Y"), localTrack("Z")}, 0); err != nil {
		t.Fatalf("play playlist: %v", err)
	}
	h.enqueue(t, localTrack("A"))
	if err := h.engine.Previous(ctx); err != nil {
		t.Fatalf("previous: %v", err)
	}
	snap := h.engine.Snapshot()
	if snap.CurrentTrack.ID != "Z" || snap.PlaylistIndex != 2 || snap.QueueLength != 1 {
		t.Fatalf("expected Z at 2 with queue untouched, got %+v", snap)
	}
}

func TestShuffleNextAvoidsCurrentIndex(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	playlist := []models.Track{localTrack("A"), localTrack("B"), localTrack("C"), localTrack("D")}
	if err := h.engine.PlayFromPlaylist(ctx, playlist, 0); err != nil {
		t.Fatalf("play playlist: %v", err)
	}
	if !h.engine.ToggleShuffle(ctx) {
		t.Fatal("expected shuffle on")
	}
	for i := 0; i < 20; i++ {
		before := h.engine.Snapshot().PlaylistIndex
		if err := h.engine.Next(ctx); err != nil {
			t.Fatalf("next: %v", err)
		}
		after := h.engine.Snapshot().PlaylistIndex
		if after == before {
			t.Fatalf("shuffle picked the current index %d", after)
		}
	}
}

func TestListenerCannotDriveTransport(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if err := h.engine.PlayFromPlaylist(ctx, []models.Track{localTrack("X"), localTrack("Y")}, 0); err != nil {
		t.Fatalf("play playlist: %v", err)
	}
	h.enqueue(t, localTrack("A"))
	h.engine.SetGuard(denyAll())
	before := h.engine.Snapshot()
	loads := h.player.loadCount()

	actions := map[string]func() error{
		"play":     func() error { return h.engine.Play(ctx, localTrack("Q")) },
		"pause":    func() error { return h.engine.Pause(ctx) },
		"toggle":   func() error { return h.engine.TogglePlayPause(ctx) },
		"seek":     func() error { return h.engine.Seek(ctx, 30) },
		"next":     func() error { return h.engine.Next(ctx) },
		"previous": func() error { return h.engine.Previous(ctx) },
		"queue":    func() error { return h.engine.PlayFromQueue(ctx, 0) },
		"playlist": func() error { return h.engine.PlayFromPlaylist(ctx, []models.Track{localTrack("Q")}, 0) },
	}
	for name, act := range actions {
		if err := act(); !errors.Is(err, models.ErrUnauthorized) {
			t.Fatalf("%s: expected unauthorized, got %v", name, err)
		}
	}

	after := h.engine.Snapshot()
	if after.State != before.State || after.CurrentTrack.ID != before.CurrentTrack.ID ||
		after.PlaylistIndex != before.PlaylistIndex || after.QueueLength != before.QueueLength {
		t.Fatalf("state changed: before %+v after %+v", before, after)
	}
	if h.player.loadCount() != loads {
		t.Fatal("player must not be driven")
	}
	if !h.notes.has("Only the host can seek") || !h.notes.has("Only the host can control playback") {
		t.Fatal("expected authority notifications")
	}

	h.engine.HandleEnded(ctx)
	if h.queue.Len() != 1 {
		t.Fatal("listener end-of-track must not consume the queue")
	}
}

func TestApplyRemoteBypassesGuard(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.engine.SetGuard(denyAll())

	if err := h.engine.ApplyRemoteTrack(ctx, localTrack("H"), 12, false); err != nil {
		t.Fatalf("apply remote track: %v", err)
	}
	snap := h.engine.Snapshot()
	if snap.CurrentTrack == nil || snap.CurrentTrack.ID != "H" || snap.State != models.StatePaused {
		t.Fatalf("expected paused on H, got %+v", snap)
	}
	if pos := h.engine.Position(); pos < 12 || pos > 13 {
		t.Fatalf("expected position near 12, got %.2f", pos)
	}
	if err := h.engine.ApplyRemotePlaying(ctx, true); err != nil {
		t.Fatalf("apply playing: %v", err)
	}
	if !h.engine.Playing() {
		t.Fatal("expected playing after remote play")
	}

	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	for _, c := range h.events.changes {
		if c.Origin != OriginRemote {
			t.Fatalf("expected remote origin, got %+v", c)
		}
	}
}

func TestFreshURLRetry(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	track := remoteTrack("r1")
	track.URL = "https://cdn.example.com/stale"
	h.player.FailURL(track.URL, errBroken)
	h.resolver.fresh["r1"] = "https://cdn.example.com/fresh"

	if err := h.engine.Play(ctx, track); err != nil {
		t.Fatalf("play: %v", err)
	}
	snap := h.engine.Snapshot()
	if snap.State != models.StatePlaying || snap.CurrentTrack.URL != "https://cdn.example.com/fresh" {
		t.Fatalf("expected fresh url playing, got %+v", snap)
	}
	if h.resolver.refreshes != 1 {
		t.Fatalf("expected exactly one refresh, got %d", h.resolver.refreshes)
	}
	if !h.notes.has("Retrying with fresh URL...") {
		t.Fatal("expected retry notification")
	}
}

func TestFailedStartSkipsAheadToQueue(t *testing.T) {
	h := newHarness(t, Config{SkipDelay: 20 * time.Millisecond})
	ctx := context.Background()

	bad := localTrack("bad")
	h.player.FailURL(bad.URL, errBroken)
	h.enqueue(t, localTrack("A"))

	err := h.engine.Play(ctx, bad)
	if !errors.Is(err, ErrPlaybackFailed) || !errors.Is(err, errBroken) {
		t.Fatalf("expected playback failure, got %v", err)
	}
	if h.engine.Snapshot().State != models.StateFailed {
		t.Fatal("expected failed state")
	}
	if !h.notes.has("Failed to play song - trying next") {
		t.Fatal("expected skip notification")
	}
	waitFor(t, "skip to queue head", func() bool { return h.engine.CurrentTrackID() == "A" && h.engine.Playing() })
}

func TestStartTimeoutDiscardsLateSuccess(t *testing.T) {
	h := newHarness(t, Config{StartTimeout: 30 * time.Millisecond, SkipDelay: time.Hour})
	ctx := context.Background()

	slow := localTrack("slow")
	release := h.player.hold(slow.URL)

	err := h.engine.Play(ctx, slow)
	if !errors.Is(err, ErrStartTimeout) || !errors.Is(err, models.ErrTimeout) {
		t.Fatalf("expected start timeout, got %v", err)
	}
	close(release)
	time.Sleep(20 * time.Millisecond)
	if got := h.engine.Snapshot().State; got != models.StateFailed {
		t.Fatalf("late success must be discarded, state %s", got)
	}
}

func TestNewerStartSupersedesPending(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	first := localTrack("first")
	release := h.player.hold(first.URL)

	done := make(chan error, 1)
	go func() { done <- h.engine.Play(ctx, first) }()
	waitFor(t, "first load", func() bool { return h.player.loadCount() == 1 })

	if err := h.engine.Play(ctx, localTrack("second")); err != nil {
		t.Fatalf("play second: %v", err)
	}
	close(release)
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected first start superseded, got %v", err)
	}
	if got := h.engine.CurrentTrackID(); got != "second" || !h.engine.Playing() {
		t.Fatalf("expected second playing, got %s", got)
	}
}

func TestPlayWithRetryIsBounded(t *testing.T) {
	h := newHarness(t, Config{RetryBaseDelay: 5 * time.Millisecond, SkipDelay: time.Hour})
	ctx := context.Background()

	bad := localTrack("bad")
	h.player.FailURL(bad.URL, errBroken)

	err := h.engine.PlayWithRetry(ctx, bad, 3)
	if !errors.Is(err, ErrPlaybackFailed) {
		t.Fatalf("expected failure after retries, got %v", err)
	}
	if n := h.player.loadCount(); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
	if !h.notes.has("Failed to play song") || h.notes.has("Failed to play song - trying next") {
		t.Fatal("bounded retry must not schedule a skip-ahead")
	}
}

func TestPlayFromQueueDropsUnresolvableEntries(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.resolver.fail["gone"] = true
	h.enqueue(t, remoteTrack("gone"), remoteTrack("ok"))

	if err := h.engine.PlayFromQueue(ctx, 0); err != nil {
		t.Fatalf("play from queue: %v", err)
	}
	if got := h.engine.CurrentTrackID(); got != "ok" {
		t.Fatalf("expected ok playing, got %s", got)
	}
	if h.queue.Len() != 0 {
		t.Fatalf("expected queue drained, len=%d", h.queue.Len())
	}
	if !h.notes.has("Failed to load song, skipping...") {
		t.Fatal("expected skipping notification")
	}

	if err := h.engine.PlayFromQueue(ctx, 0); err == nil {
		t.Fatal("expected empty queue error")
	}
}

func TestAutoClearDropsQueueOnNewPlaylist(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.enqueue(t, localTrack("A"))
	h.engine.SetAutoClear(ctx, true)
	if err := h.engine.PlayFromPlaylist(ctx, []models.Track{localTrack("X")}, 0); err != nil {
		t.Fatalf("play playlist: %v", err)
	}
	if h.queue.Len() != 0 {
		t.Fatal("expected queue cleared")
	}
	if err := h.engine.PlayFromPlaylist(ctx, []models.Track{localTrack("X")}, 3); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
}

func TestSettingsPersistAcrossEngines(t *testing.T) {
	first := newHarness(t, Config{})
	ctx := context.Background()

	if v := first.engine.SetVolume(ctx, 1.7); v != 1 {
		t.Fatalf("expected clamp to 1, got %v", v)
	}
	first.engine.SetVolume(ctx, 0.4)
	first.engine.ToggleShuffle(ctx)
	if mode := first.engine.CycleRepeat(ctx); mode != models.RepeatAll {
		t.Fatalf("expected repeat all, got %s", mode)
	}
	first.engine.SetAutoClear(ctx, true)

	second := newHarnessWithStore(t, Config{}, first.store)
	if err := second.engine.LoadSettings(ctx); err != nil {
		t.Fatalf("load settings: %v", err)
	}
	snap := second.engine.Snapshot()
	if snap.Volume != 0.4 || !snap.Shuffle || snap.Repeat != models.RepeatAll || !second.engine.AutoClear() {
		t.Fatalf("settings not restored: %+v", snap)
	}
	if second.player.Volume() != 0.4 {
		t.Fatalf("player volume not applied: %v", second.player.Volume())
	}
}

func TestStallSkipsAhead(t *testing.T) {
	h := newHarness(t, Config{StallTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	if err := h.engine.PlayFromPlaylist(ctx, []models.Track{localTrack("X"), localTrack("Y")}, 0); err != nil {
		t.Fatalf("play playlist: %v", err)
	}

	h.engine.HandleBuffering()
	h.engine.HandleCanPlay()
	time.Sleep(40 * time.Millisecond)
	if got := h.engine.CurrentTrackID(); got != "X" {
		t.Fatalf("recovered stall must not skip, got %s", got)
	}

	h.engine.HandleBuffering()
	waitFor(t, "stall skip", func() bool { return h.engine.CurrentTrackID() == "Y" })
	if !h.notes.has("Loading timeout - trying next song") {
		t.Fatal("expected stall notification")
	}
}

func TestAttachedPlayerSignalsDriveRecovery(t *testing.T) {
	h := newHarness(t, Config{StallTimeout: 100 * time.Millisecond, SkipDelay: 10 * time.Millisecond})
	h.engine.Attach(h.player)
	ctx := context.Background()

	if err := h.engine.PlayFromPlaylist(ctx, []models.Track{localTrack("X"), localTrack("Y"), localTrack("Z")}, 0); err != nil {
		t.Fatalf("play playlist: %v", err)
	}

	h.player.Stall(10 * time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	if got := h.engine.CurrentTrackID(); got != "X" {
		t.Fatalf("short stall must not skip, got %s", got)
	}
	if !h.player.Playing() {
		t.Fatal("player clock should run again after the stall")
	}

	h.player.Stall(0)
	waitFor(t, "stall skip", func() bool { return h.engine.CurrentTrackID() == "Y" })
	if !h.notes.has("Loading timeout - trying next song") {
		t.Fatal("expected stall notification")
	}

	waitFor(t, "Y playing", h.engine.Playing)
	h.player.Interrupt(ErrMediaDecode)
	if !h.notes.has("Audio format not supported") {
		t.Fatal("expected media error notification")
	}
	waitFor(t, "skip after error", func() bool { return h.engine.CurrentTrackID() == "Z" })
}

func TestPlayerErrorRetriesRemoteThenSkips(t *testing.T) {
	h := newHarness(t, Config{SkipDelay: 10 * time.Millisecond})
	ctx := context.Background()

	if err := h.engine.PlayFromPlaylist(ctx, []models.Track{remoteTrack("r1"), localTrack("Y")}, 0); err != nil {
		t.Fatalf("play playlist: %v", err)
	}

	h.engine.HandleError(ErrMediaNetwork)
	if !h.notes.has("Network error - check connection") {
		t.Fatal("expected media error notification")
	}
	waitFor(t, "fresh retry", func() bool {
		h.resolver.mu.Lock()
		defer h.resolver.mu.Unlock()
		return h.resolver.refreshes == 1
	})
	waitFor(t, "retry playing", func() bool { return h.engine.Playing() })

	h.engine.HandleError(ErrMediaDecode)
	waitFor(t, "skip after second error", func() bool { return h.engine.CurrentTrackID() == "Y" })
}

func TestLikeCurrent(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if _, err := h.engine.LikeCurrent(ctx); !errors.Is(err, ErrNoTrack) {
		t.Fatalf("expected ErrNoTrack, got %v", err)
	}
	if err := h.engine.Play(ctx, localTrack("X")); err != nil {
		t.Fatalf("play: %v", err)
	}
	liked, err := h.engine.LikeCurrent(ctx)
	if err != nil || !liked {
		t.Fatalf("expected liked, got %v %v", liked, err)
	}
	if !h.engine.Snapshot().Liked || !h.library.Liked.Contains("X") {
		t.Fatal("expected liked indicator and collection entry")
	}
	if liked, _ := h.engine.LikeCurrent(ctx); liked {
		t.Fatal("expected second toggle to unlike")
	}
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if err := h.engine.TogglePlayPause(ctx); !errors.Is(err, ErrNoTrack) {
		t.Fatalf("expected ErrNoTrack, got %v", err)
	}
	if err := h.engine.Play(ctx, localTrack("X")); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := h.engine.TogglePlayPause(ctx); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if h.engine.Snapshot().State != models.StatePaused || h.player.Playing() {
		t.Fatal("expected paused")
	}
	if err := h.engine.TogglePlayPause(ctx); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !h.engine.Playing() || !h.player.Playing() {
		t.Fatal("expected playing")
	}
}
