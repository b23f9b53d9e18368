package models

import (
	"errors"
	"testing"
)

func TestTrackNormalizedFillsDefaults(t *testing.T) {
	tr := Track{ID: "abc"}.Normalized()
	if tr.Title != DefaultTitle || tr.Artist != DefaultArtist {
		t.Fatalf("expected default metadata, got %q / %q", tr.Title, tr.Artist)
	}
	if tr.Source != SourceUnknown {
		t.Fatalf("expected unknown source, got %q", tr.Source)
	}
}

func TestTrackPlayable(t *testing.T) {
	cases := []struct {
		name  string
		track Track
		want  bool
	}{
		{"url", Track{ID: "a", URL: "http://x/a.mp3", Source: SourceLocal}, true},
		{"remote without url", Track{ID: "a", Source: SourceRemote}, true},
		{"remote without id", Track{Source: SourceRemote}, false},
		{"local without url", Track{ID: "a", Source: SourceLocal}, false},
	}
	for _, tc := range cases {
		if got := tc.track.Playable(); got != tc.want {
			t.Errorf("%s: Playable() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEffectiveDuration(t *testing.T) {
	if got := (Track{}).EffectiveDuration(); got != DefaultDurationSeconds {
		t.Fatalf("expected default duration, got %v", got)
	}
	if got := (Track{Duration: 42}).EffectiveDuration(); got != 42 {
		t.Fatalf("expected 42, got %v", got)
	}
}

func TestRepeatModeCycle(t *testing.T) {
	m := RepeatOff
	want := []RepeatMode{RepeatAll, RepeatOne, RepeatOff}
	for _, w := range want {
		m = m.Next()
		if m != w {
			t.Fatalf("expected %s, got %s", w, m)
		}
	}
	if _, err := ParseRepeatMode("sometimes"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
