// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playlist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/xg2g/internal/log"
	"github.com/ManuGH/xg2g/internal/playout/config"
)

// ErrPlaylist is the sentinel for spec.md's PlaylistError taxonomy entry.
var ErrPlaylist = errors.New("playlist error")

// Store resolves, loads, and persists per-date JsonPlaylist documents
// (spec §4.3, "PlaylistStore (read_json)").
type Store struct {
	Root       string // directory root for "<root>/YYYY/MM/YYYY-MM-DD.json"
	RemoteBase string // URL prefix when the channel's playlist is served remotely
	HTTPClient *http.Client
	Validate   func(ctx context.Context, cfg *config.PlayoutConfig, jp *JsonPlaylist)
}

// NewStore returns a Store rooted at dir with a 30s-timeout HTTP client for
// remote loads, matching the original's unbounded-but-transport-default
// timeout behavior closely enough for a bounded default (spec §5 notes the
// core applies no explicit timeout; Go's http.Client requires one to avoid
// leaking goroutines on a stalled remote, so a generous default is set here).
func NewStore(dir string) *Store {
	return &Store{Root: dir, HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

// TargetDate computes the calendar date to load, honoring day_start and the
// channel timezone: a wall-clock time before day_start belongs to the
// previous day's playlist (spec §4.3 step 1).
func TargetDate(now time.Time, loc *time.Location, dayStartSec float64, getNext bool) time.Time {
	local := now.In(loc)
	dayStart := time.Duration(dayStartSec * float64(time.Second))
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	cursor := midnight.Add(dayStart)
	if local.Before(cursor) {
		cursor = cursor.AddDate(0, 0, -1)
	}
	if getNext {
		cursor = cursor.AddDate(0, 0, 1)
	}
	return cursor
}

// PathFor resolves the on-disk path for a date under Store.Root (spec §6:
// "<playlists_root>/<YYYY>/<MM>/<YYYY-MM-DD>.json").
func (s *Store) PathFor(date time.Time) string {
	return filepath.Join(s.Root,
		fmt.Sprintf("%04d", date.Year()),
		fmt.Sprintf("%02d", date.Month()),
		date.Format("2006-01-02")+".json",
	)
}

// ReadJSON implements spec §4.3: resolve a path, load it (local, remote, or
// an explicit override), fill defaults, and optionally kick off validation.
// On any load failure it synthesizes a one-item dummy day and logs the error
// rather than propagating — the core keeps playing through a broken playlist.
func (s *Store) ReadJSON(ctx context.Context, cfg *config.PlayoutConfig, explicitPath string, date time.Time) *JsonPlaylist {
	logger := log.WithComponent("playout.playlist").With().Str("channel", cfg.General.ChannelID).Logger()

	path := explicitPath
	if path == "" {
		path = s.PathFor(date)
	}

	raw, modified, err := s.load(ctx, path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("playlist load failed, synthesizing dummy day")
		jp := dummyDay(cfg, date)
		jp.Path = path
		return jp
	}

	jp, err := ParseJSON(raw, cfg.Playlist.StartSec)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("playlist parse failed, synthesizing dummy day")
		jp = dummyDay(cfg, date)
	}
	jp.Path = path
	jp.Modified = modified
	jp.Date = date.Format("2006-01-02")

	if !cfg.General.SkipValidation && s.Validate != nil {
		clone := *jp
		go s.Validate(ctx, cfg, &clone)
	}

	return jp
}

// ReadModTime returns the on-disk modification time for a local path,
// used by PlaylistSource to detect a mid-day playlist edit without
// re-reading the whole file.
func (s *Store) ReadModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (s *Store) load(ctx context.Context, path string) ([]byte, time.Time, error) {
	if u, err := url.Parse(path); err == nil && u.Scheme != "" {
		return s.loadRemote(ctx, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrPlaylist, err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrPlaylist, err)
	}
	return raw, info.ModTime(), nil
}

func (s *Store) loadRemote(ctx context.Context, rawURL string) ([]byte, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrPlaylist, err)
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrPlaylist, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, time.Time{}, fmt.Errorf("%w: remote status %d", ErrPlaylist, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrPlaylist, err)
	}
	modified := time.Now()
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			modified = t
		}
	}
	return body, modified, nil
}

// WriteAtomic persists jp to disk using a rename-into-place write so a
// concurrent reader never observes a half-written document.
func (s *Store) WriteAtomic(jp *JsonPlaylist) error {
	raw, err := jp.MarshalJSON()
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPlaylist, err)
	}
	if err := os.MkdirAll(filepath.Dir(jp.Path), 0o750); err != nil {
		return fmt.Errorf("%w: mkdir: %v", ErrPlaylist, err)
	}
	if err := renameio.WriteFile(jp.Path, raw, 0o640); err != nil {
		return fmt.Errorf("%w: write: %v", ErrPlaylist, err)
	}
	return nil
}

// dummyDay synthesizes a single-item playlist spanning the configured day
// length, used whenever the real playlist is missing or unparseable.
func dummyDay(cfg *config.PlayoutConfig, date time.Time) *JsonPlaylist {
	raw := []byte(fmt.Sprintf(`{"channel":%q,"date":%q,"program":[{"in":0,"out":%f,"duration":%f,"source":"dummy"}]}`,
		cfg.General.ChannelID, date.Format("2006-01-02"), cfg.FillerMinLen, cfg.FillerMinLen))
	jp, _ := ParseJSON(raw, cfg.Playlist.StartSec)
	return jp
}
