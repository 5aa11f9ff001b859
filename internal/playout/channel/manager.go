// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package channel implements ChannelManager (spec §4.7): it owns one
// runtime per configured channel, starting/stopping/reconfiguring each
// independently. Lifecycle shape (mutex-guarded map, per-component
// start/stop, one goroutine per running component) is adapted from
// internal/daemon.manager, which solves the same "own N long-running
// components, stop them all cleanly" problem for HTTP servers instead
// of channel runtimes.
package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/xg2g/internal/log"
	"github.com/ManuGH/xg2g/internal/playout/config"
	"github.com/ManuGH/xg2g/internal/playout/playlist"
	"github.com/ManuGH/xg2g/internal/playout/probe"
	"github.com/ManuGH/xg2g/internal/playout/source"
	"github.com/ManuGH/xg2g/internal/playout/status"
)

var (
	// ErrUnknownChannel is returned by operations addressing a channel id
	// the Manager has no runtime for.
	ErrUnknownChannel = errors.New("channel: unknown channel id")
	// ErrAlreadyRunning is returned by StartChannel when the channel
	// already has a live runtime.
	ErrAlreadyRunning = errors.New("channel: already running")
)

// Runtime is the set of per-channel components ChannelManager wires
// together and owns the lifecycle of. Supervisor is an interface here so
// Manager can be tested without a real ffmpeg/ffprobe toolchain; the
// concrete type is *supervisor.ProcessSupervisor in production.
type Runtime struct {
	Config      *config.PlayoutConfig
	Iterator    source.Iterator
	Supervisor  Supervisor
	cancel      context.CancelFunc
	done        chan struct{}
}

// Supervisor is the subset of ProcessSupervisor's surface ChannelManager
// depends on (spec §4.8): run until ctx is canceled, reporting terminal
// errors once.
type Supervisor interface {
	Run(ctx context.Context) error
}

// Manager owns one Runtime per channel id and serializes start/stop/
// reconfigure operations against them (spec §4.7).
type Manager struct {
	mu       sync.Mutex
	runtimes map[string]*Runtime
	statusDB status.Store
	logger   zerolog.Logger

	// NewSupervisor constructs the supervisor for a channel; injected so
	// tests can substitute a fake without touching ffmpeg.
	NewSupervisor func(cfg *config.PlayoutConfig, it source.Iterator) (Supervisor, error)
}

// NewManager returns a Manager backed by statusDB for time_shift/last_date
// persistence shared across channel restarts.
func NewManager(statusDB status.Store) *Manager {
	return &Manager{
		runtimes: make(map[string]*Runtime),
		statusDB: statusDB,
		logger:   log.WithComponent("playout.channel"),
	}
}

// StartChannel builds the channel's SourceIterator and Supervisor and runs
// them in a background goroutine (spec §4.7 "start_channel"). Playlist mode
// also populates the filler list (NewFillerPolicy scans it) before starting;
// Folder mode builds no filler list.
func (m *Manager) StartChannel(ctx context.Context, cfg *config.PlayoutConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := cfg.General.ChannelID
	if _, exists := m.runtimes[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}

	if cfg.Output.Mode == config.OutputHLS && cfg.Output.HLSPath != "" {
		if err := drainHLSPath(cfg.Output.HLSPath, cfg.Output.OutputParam, m.logger); err != nil {
			m.logger.Warn().Err(err).Str("channel", id).Msg("failed to drain stale HLS segments")
		}
	}

	probeRunner := probe.NewRunner("ffprobe")
	var it source.Iterator
	switch cfg.Processing.Mode {
	case config.ModeFolder:
		fs, err := source.NewFolderSource(ctx, cfg)
		if err != nil {
			return fmt.Errorf("start channel %s: folder source: %w", id, err)
		}
		it = fs
	case config.ModePlaylist:
		filler := source.NewFillerPolicy(cfg, probeRunner)
		store := playlist.NewStore(derivePlaylistRoot(cfg))
		validator := playlist.NewValidator(func() bool { return m.isRunning(id) })
		store.Validate = validator.Run
		ps, err := source.NewPlaylistSource(ctx, cfg, store, m.statusDB, filler)
		if err != nil {
			return fmt.Errorf("start channel %s: playlist source: %w", id, err)
		}
		it = ps
	default:
		return fmt.Errorf("start channel %s: unknown processing mode %q", id, cfg.Processing.Mode)
	}

	newSupervisor := m.NewSupervisor
	if newSupervisor == nil {
		return fmt.Errorf("start channel %s: no supervisor factory configured", id)
	}
	sup, err := newSupervisor(cfg, it)
	if err != nil {
		return fmt.Errorf("start channel %s: supervisor: %w", id, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	rt := &Runtime{Config: cfg, Iterator: it, Supervisor: sup, cancel: cancel, done: make(chan struct{})}
	m.runtimes[id] = rt

	go func() {
		defer close(rt.done)
		if err := sup.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error().Err(err).Str("channel", id).Msg("channel supervisor exited with error")
		}
	}()

	m.logger.Info().Str("channel", id).Str("mode", string(cfg.Processing.Mode)).Msg("channel started")
	return nil
}

// StopChannel cancels the channel's runtime and waits for it to exit.
func (m *Manager) StopChannel(ctx context.Context, channelID string) error {
	m.mu.Lock()
	rt, ok := m.runtimes[channelID]
	if ok {
		delete(m.runtimes, channelID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}

	rt.cancel()
	select {
	case <-rt.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.logger.Info().Str("channel", channelID).Msg("channel stopped")
	return nil
}

// StopAll stops every running channel, collecting but not short-circuiting
// on individual failures (spec §4.7 "stop_all").
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.StopChannel(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("stop_all: %v", errs)
	}
	return nil
}

// UpdateChannel restarts a single channel with new configuration (spec
// §4.7 "update_channel" — config changes are not hot-reloaded into a live
// supervisor, a fresh one is spawned instead).
func (m *Manager) UpdateChannel(ctx context.Context, cfg *config.PlayoutConfig) error {
	id := cfg.General.ChannelID
	if m.isRunning(id) {
		if err := m.StopChannel(ctx, id); err != nil {
			return fmt.Errorf("update_channel %s: %w", id, err)
		}
	}
	return m.StartChannel(ctx, cfg)
}

// UpdateConfig restarts every channel named in cfgs, leaving channels not
// present in cfgs untouched (spec §4.7 "update_config").
func (m *Manager) UpdateConfig(ctx context.Context, cfgs []*config.PlayoutConfig) error {
	var errs []error
	for _, cfg := range cfgs {
		if err := m.UpdateChannel(ctx, cfg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("update_config: %v", errs)
	}
	return nil
}

func (m *Manager) isRunning(channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.runtimes[channelID]
	return ok
}

// IsRunning reports whether channelID currently has a live runtime.
func (m *Manager) IsRunning(channelID string) bool { return m.isRunning(channelID) }

func derivePlaylistRoot(cfg *config.PlayoutConfig) string {
	if len(cfg.Storage.Paths) > 0 {
		return cfg.Storage.Paths[0]
	}
	return filepath.Join("playlists", cfg.General.ChannelID)
}

