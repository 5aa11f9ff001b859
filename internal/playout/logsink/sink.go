// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package logsink implements the per-channel daily-rotating file writer
// (spec §4.9, "LogSink"). No rotation library appears anywhere in the
// reference pack (grep across every go.mod turns up nothing), so this is
// the one ambient-stack piece built on the standard library alone — see
// DESIGN.md for that justification.
package logsink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/xg2g/internal/log"
	"github.com/ManuGH/xg2g/internal/playout/bus"
)

// Sink is a lazily-created, cached rotating-file writer for one channel.
// Writers are created on first use; one is kept per channel id and swapped
// at local midnight (spec: "daily rotation, retention log_backup_count").
type Sink struct {
	mu       sync.Mutex
	dir      string
	backups  int
	console  io.Writer
	channels map[string]*channelWriter
	now      func() time.Time
}

type channelWriter struct {
	file *os.File
	date string
}

// NewSink returns a Sink rooted at dir, keeping at most backups daily files
// per channel, the current one included.
func NewSink(dir string, backups int, console io.Writer) *Sink {
	return &Sink{
		dir:      dir,
		backups:  backups,
		console:  console,
		channels: make(map[string]*channelWriter),
		now:      time.Now,
	}
}

// Write routes one formatted line to the channel's current day file (and
// the console writer, if configured), rotating on a date change.
func (s *Sink) Write(channelID, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.now().Format("2006-01-02")
	cw, ok := s.channels[channelID]
	if !ok || cw.date != today {
		if cw != nil {
			_ = cw.file.Close()
		}
		f, err := s.openForDate(channelID, today)
		if err != nil {
			return fmt.Errorf("logsink: open %s: %w", channelID, err)
		}
		cw = &channelWriter{file: f, date: today}
		s.channels[channelID] = cw
		s.prune(channelID)
	}

	if _, err := fmt.Fprintln(cw.file, line); err != nil {
		return err
	}
	if s.console != nil {
		_, _ = fmt.Fprintln(s.console, line)
	}
	return nil
}

// Run subscribes to topic on b and writes every published message's line
// to the matching channel file until ctx is canceled. One Run call is
// started per channel by the daemon entrypoint.
func (s *Sink) Run(ctx context.Context, b bus.Bus, topic string) error {
	sub, err := b.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("logsink subscribe: %w", err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-sub.C():
			formatted := fmt.Sprintf("[%s] %s %s", strings.ToUpper(string(msg.Level)), msg.Time.Format(time.RFC3339), msg.Line)
			if err := s.Write(msg.ChannelID, formatted); err != nil {
				log.WithComponent("playout.logsink").Error().Err(err).Str("channel", msg.ChannelID).Msg("failed to write log line")
			}
		}
	}
}

func (s *Sink) openForDate(channelID, date string) (*os.File, error) {
	path := filepath.Join(s.dir, channelID, date+".log")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
}

// prune keeps only the newest s.backups daily files for one channel (the
// current day's file included) and removes the rest.
func (s *Sink) prune(channelID string) {
	dir := filepath.Join(s.dir, channelID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if len(files) <= s.backups {
		return
	}
	for _, f := range files[:len(files)-s.backups] {
		if err := os.Remove(filepath.Join(dir, f)); err != nil {
			log.WithComponent("playout.logsink").Warn().Err(err).Str("file", f).Msg("failed to prune rotated log")
		}
	}
}

// Close flushes and closes every open channel writer.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, cw := range s.channels {
		if err := cw.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.channels, id)
	}
	return firstErr
}
