// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/xg2g/internal/log"
)

// ErrConfig is the sentinel for spec.md's ConfigError taxonomy entry.
var ErrConfig = fmt.Errorf("config error")

type envLookupFunc func(string) (string, bool)

// Loader builds a PlayoutConfig from defaults overridden by PLAYOUT_-prefixed
// environment variables, mirroring the teacher's Loader precedence model
// (internal/config/loader.go) minus any file-format parsing.
type Loader struct {
	channelID       string
	ConsumedEnvKeys map[string]struct{}
	lookupEnvFn     envLookupFunc
}

// NewLoader returns a Loader scoped to one channel id, reading os.Environ.
func NewLoader(channelID string) *Loader {
	return NewLoaderWithEnv(channelID, os.LookupEnv)
}

// NewLoaderWithEnv injects an environment source for deterministic tests.
func NewLoaderWithEnv(channelID string, lookup envLookupFunc) *Loader {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Loader{
		channelID:       channelID,
		ConsumedEnvKeys: make(map[string]struct{}),
		lookupEnvFn:     lookup,
	}
}

// Default returns the built-in defaults for one channel before any env
// overrides are applied.
func Default(channelID string) PlayoutConfig {
	return PlayoutConfig{
		General: GeneralConfig{
			ChannelID:     channelID,
			StopThreshold: 30,
		},
		Playlist: PlaylistConfig{
			DayStart: "00:00:00",
			Length:   "24:00:00",
			Timezone: "UTC",
		},
		Processing: ProcessingConfig{
			Mode:            ModePlaylist,
			Width:           1280,
			Height:          720,
			Aspect:          16.0 / 9.0,
			FPS:             25,
			AudioTracks:     1,
			AudioTrackIndex: -1,
			AudioChannels:   2,
			Volume:          1.0,
		},
		Storage: StorageConfig{
			Backend: StorageLocal,
		},
		Output: OutputConfig{
			Mode:        OutputHLS,
			OutputCount: 1,
		},
		Mail: MailConfig{
			Interval: 10 * time.Second,
		},
		LogBackupCount: 7,
		FillerMinLen:   60,
	}
}

// Load returns Default(channelID) with any recognized PLAYOUT_<CHANNEL>_*
// environment overrides applied, then resolves the playlist window.
func (l *Loader) Load() (PlayoutConfig, error) {
	cfg := Default(l.channelID)

	cfg.General.StopThreshold = l.envFloat("STOP_THRESHOLD", cfg.General.StopThreshold)
	cfg.Playlist.DayStart = l.envString("DAY_START", cfg.Playlist.DayStart)
	cfg.Playlist.Length = l.envString("LENGTH", cfg.Playlist.Length)
	cfg.Playlist.Infinit = l.envBool("INFINIT", cfg.Playlist.Infinit)
	cfg.Playlist.Timezone = l.envString("TIMEZONE", cfg.Playlist.Timezone)
	cfg.Processing.Width = l.envInt("WIDTH", cfg.Processing.Width)
	cfg.Processing.Height = l.envInt("HEIGHT", cfg.Processing.Height)
	cfg.Processing.FPS = l.envFloat("FPS", cfg.Processing.FPS)
	cfg.Processing.AddLogo = l.envBool("ADD_LOGO", cfg.Processing.AddLogo)
	cfg.Processing.Logo = l.envString("LOGO", cfg.Processing.Logo)
	cfg.Output.Mode = OutputMode(l.envString("OUTPUT_MODE", string(cfg.Output.Mode)))
	cfg.Output.HLSPath = l.envString("HLS_PATH", cfg.Output.HLSPath)
	cfg.Ingest.Enable = l.envBool("INGEST_ENABLE", cfg.Ingest.Enable)
	cfg.Ingest.ListenURL = l.envString("INGEST_LISTEN_URL", cfg.Ingest.ListenURL)
	cfg.Storage.Backend = StorageBackend(l.envString("STORAGE_BACKEND", string(cfg.Storage.Backend)))

	if err := cfg.Playlist.Resolve(); err != nil {
		return PlayoutConfig{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return cfg, nil
}

// Resolve parses DayStart/Length into StartSec/LengthSec. It is idempotent.
func (p *PlaylistConfig) Resolve() error {
	start, err := parseClock(p.DayStart)
	if err != nil {
		return fmt.Errorf("day_start: %w", err)
	}
	length := 24 * 3600.0
	if p.Length != "" {
		length, err = parseClock(p.Length)
		if err != nil {
			return fmt.Errorf("length: %w", err)
		}
	}
	p.StartSec = start
	p.LengthSec = length
	p.resolved = true
	return nil
}

// parseClock parses "HH:MM:SS" into seconds past midnight.
func parseClock(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: expected HH:MM:SS, got %q", ErrConfig, s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, fmt.Errorf("%w: invalid clock value %q", ErrConfig, s)
	}
	return float64(h)*3600 + float64(m)*60 + sec, nil
}

func (l *Loader) key(suffix string) string {
	return "PLAYOUT_" + strings.ToUpper(l.channelID) + "_" + suffix
}

func (l *Loader) lookup(key string) (string, bool) {
	l.ConsumedEnvKeys[key] = struct{}{}
	return l.lookupEnvFn(key)
}

func (l *Loader) envString(suffix, def string) string {
	if v, ok := l.lookup(l.key(suffix)); ok && v != "" {
		return v
	}
	return def
}

func (l *Loader) envBool(suffix string, def bool) bool {
	v, ok := l.lookup(l.key(suffix))
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.WithComponent("playout.config").Warn().Str("key", l.key(suffix)).Str("value", v).Msg("invalid bool override, using default")
		return def
	}
	return b
}

func (l *Loader) envInt(suffix string, def int) int {
	v, ok := l.lookup(l.key(suffix))
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.WithComponent("playout.config").Warn().Str("key", l.key(suffix)).Str("value", v).Msg("invalid int override, using default")
		return def
	}
	return n
}

func (l *Loader) envFloat(suffix string, def float64) float64 {
	v, ok := l.lookup(l.key(suffix))
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.WithComponent("playout.config").Warn().Str("key", l.key(suffix)).Str("value", v).Msg("invalid float override, using default")
		return def
	}
	return f
}
