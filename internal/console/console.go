/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package console is the line-oriented command interface of the player.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/melodrift/internal/library"
	"github.com/friendsincode/melodrift/internal/models"
	"github.com/friendsincode/melodrift/internal/playback"
	"github.com/friendsincode/melodrift/internal/queue"
)

// ErrUsage reports a malformed command line.
var ErrUsage = fmt.Errorf("%w: usage", models.ErrInvalidInput)

// errQuit ends Run.
var errQuit = errors.New("quit")

// Room is the part of a listen session the console drives.
type Room interface {
	Status() models.RoomStatus
	RequestSync(ctx context.Context) error
	LeaveRoom(ctx context.Context) error
}

// Console executes commands against the engine, queue and library.
type Console struct {
	engine  *playback.Engine
	queue   *queue.Manager
	library *library.Library
	room    Room
	out     io.Writer
	logger  zerolog.Logger
}

// New creates a console writing replies to out. room may be nil.
func New(engine *playback.Engine, q *queue.Manager, lib *library.Library, room Room, out io.Writer, logger zerolog.Logger) *Console {
	return &Console{
		engine:  engine,
		queue:   q,
		library: lib,
		room:    room,
		out:     out,
		logger:  logger.With().Str("component", "console").Logger(),
	}
}

// Run reads commands from in until EOF, "quit" or ctx is cancelled.
// Command errors are printed and do not stop the loop.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			err := c.Exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				c.logger.Debug().Err(err).Str("line", line).Msg("command failed")
				c.printf("error: %v\n", err)
			}
		}
	}
}

// Exec runs one command line. Blank lines and # comments are ignored.
func (c *Console) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		c.printf("%s", helpText)
		return nil
	case "quit", "exit":
		return errQuit

	case "play":
		if len(args) != 1 {
			return usage("play <url|id>")
		}
		return c.engine.Play(ctx, ParseTrack(args[0]))
	case "playlist":
		if len(args) == 0 {
			return usage("playlist <url|id>...")
		}
		tracks := make([]models.Track, 0, len(args))
		for _, a := range args {
			tracks = append(tracks, ParseTrack(a))
		}
		return c.engine.PlayFromPlaylist(ctx, tracks, 0)
	case "playq":
		i, err := indexArg(args, "playq <n>")
		if err != nil {
			return err
		}
		return c.engine.PlayFromQueue(ctx, i)
	case "next":
		return c.engine.Next(ctx)
	case "prev", "previous":
		return c.engine.Previous(ctx)
	case "pause":
		return c.engine.Pause(ctx)
	case "resume":
		return c.engine.Resume(ctx)
	case "toggle":
		return c.engine.TogglePlayPause(ctx)
	case "seek":
		if len(args) != 1 {
			return usage("seek <seconds>")
		}
		secs, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return usage("seek <seconds>")
		}
		return c.engine.Seek(ctx, secs)
	case "vol", "volume":
		if len(args) != 1 {
			return usage("vol <0-1>")
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return usage("vol <0-1>")
		}
		c.printf("volume %.2f\n", c.engine.SetVolume(ctx, v))
		return nil
	case "shuffle":
		c.engine.ToggleShuffle(ctx)
		return nil
	case "repeat":
		if len(args) == 0 {
			c.engine.CycleRepeat(ctx)
			return nil
		}
		mode, err := models.ParseRepeatMode(args[0])
		if err != nil {
			return err
		}
		c.engine.SetRepeat(ctx, mode)
		return nil
	case "autoclear":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return usage("autoclear on|off")
		}
		c.engine.SetAutoClear(ctx, args[0] == "on")
		return nil
	case "like":
		_, err := c.engine.LikeCurrent(ctx)
		return err

	case "add", "playnext":
		if len(args) == 0 {
			return usage(cmd + " <url|id>...")
		}
		pos := queue.Tail
		if cmd == "playnext" {
			pos = queue.Head
		}
		if len(args) == 1 {
			n, err := c.queue.Enqueue(ctx, ParseTrack(args[0]), pos)
			if err != nil {
				return err
			}
			c.printf("queued, %d in queue\n", n)
			return nil
		}
		// a head block goes right after the current head, in order
		tracks := make([]models.Track, 0, len(args))
		for _, a := range args {
			tracks = append(tracks, ParseTrack(a))
		}
		added, skipped := c.queue.EnqueueMany(ctx, tracks, pos)
		c.printf("queued %d, skipped %d\n", added, skipped)
		return nil
	case "queue":
		c.printTracks(c.queue.Tracks())
		c.printf("total %s\n", formatDuration(c.queue.TotalDuration()))
		return nil
	case "remove":
		i, err := indexArg(args, "remove <n>")
		if err != nil {
			return err
		}
		t, err := c.queue.Remove(ctx, i)
		if err != nil {
			return err
		}
		c.printf("removed %s\n", t.Label())
		return nil
	case "move":
		if len(args) != 2 {
			return usage("move <from> <to>")
		}
		from, err := indexArg(args[:1], "move <from> <to>")
		if err != nil {
			return err
		}
		to, err := indexArg(args[1:], "move <from> <to>")
		if err != nil {
			return err
		}
		return c.queue.Move(ctx, from, to)
	case "shufflequeue":
		if !c.queue.Shuffle(ctx) {
			c.printf("nothing to shuffle\n")
		}
		return nil
	case "clear":
		c.queue.Clear(ctx)
		return nil

	case "save":
		if len(args) != 1 {
			return usage("save <url|id>")
		}
		return c.library.Saved.Add(ctx, ParseTrack(args[0]))
	case "saved":
		c.printTracks(c.library.Saved.Tracks())
		return nil
	case "liked":
		c.printTracks(c.library.Liked.Tracks())
		return nil
	case "recent":
		c.printTracks(c.library.Recents.Tracks())
		return nil

	case "status":
		c.printStatus()
		return nil
	case "sync":
		if c.room == nil {
			return fmt.Errorf("%w: not in a room", models.ErrInvalidInput)
		}
		return c.room.RequestSync(ctx)
	case "leave":
		if c.room == nil {
			return nil
		}
		return c.room.LeaveRoom(ctx)
	}
	return fmt.Errorf("%w: unknown command %q", models.ErrInvalidInput, cmd)
}

// ParseTrack turns a command argument into a track. Anything with a scheme is
// a local URL; anything else is a remote catalog id.
func ParseTrack(ref string) models.Track {
	if strings.Contains(ref, "://") {
		title := path.Base(ref)
		if ext := path.Ext(title); ext != "" && ext != title {
			title = strings.TrimSuffix(title, ext)
		}
		return models.Track{ID: ref, Title: title, URL: ref, Source: models.SourceLocal}.Normalized()
	}
	return models.Track{ID: ref, Source: models.SourceRemote}.Normalized()
}

func (c *Console) printStatus() {
	s := c.engine.Snapshot()
	track := "-"
	if s.CurrentTrack != nil {
		track = s.CurrentTrack.Label()
	}
	c.printf("state:    %s\n", s.State)
	c.printf("track:    %s\n", track)
	c.printf("position: %s\n", formatDuration(s.PositionSeconds))
	c.printf("volume:   %.2f  shuffle: %t  repeat: %s\n", s.Volume, s.Shuffle, s.Repeat)
	c.printf("playlist: %d/%d  queue: %d\n", s.PlaylistIndex+1, s.PlaylistLength, s.QueueLength)

	if c.room == nil {
		return
	}
	r := c.room.Status()
	switch {
	case r.InRoom:
		c.printf("room:     %s (%s, %s, %d listening)\n", r.ID, r.Role, r.Connection, r.ListenerCount)
	case r.Lost:
		c.printf("room:     connection lost\n")
	default:
		c.printf("room:     -\n")
	}
}

func (c *Console) printTracks(tracks []models.Track) {
	if len(tracks) == 0 {
		c.printf("(empty)\n")
		return
	}
	for i, t := range tracks {
		c.printf("%3d. %s [%s]\n", i+1, t.Label(), formatDuration(t.EffectiveDuration()))
	}
}

func (c *Console) printf(format string, a ...any) {
	fmt.Fprintf(c.out, format, a...)
}

// indexArg parses a 1-based list position into a 0-based index.
func indexArg(args []string, form string) (int, error) {
	if len(args) != 1 {
		return 0, usage(form)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, usage(form)
	}
	return n - 1, nil
}

func usage(form string) error {
	return fmt.Errorf("%w: %s", ErrUsage, form)
}

func formatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

const helpText = `playback:  play <ref> | playlist <ref>... | playq <n> | next | prev
           pause | resume | toggle | seek <s> | vol <0-1>
           shuffle | repeat [off|all|one] | autoclear on|off | like
queue:     add <ref>... | playnext <ref>... | queue | remove <n>
           move <from> <to> | shufflequeue | clear
library:   save <ref> | saved | liked | recent
room:      status | sync | leave
           quit
<ref> is a URL (file://, https://) or a remote catalog id.
`
