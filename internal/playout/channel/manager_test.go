// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package channel

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xg2g/internal/playout/config"
	"github.com/ManuGH/xg2g/internal/playout/source"
	"github.com/ManuGH/xg2g/internal/playout/status"
)

type fakeSupervisor struct {
	started chan struct{}
}

func (f *fakeSupervisor) Run(ctx context.Context) error {
	close(f.started)
	<-ctx.Done()
	return ctx.Err()
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(status.NewMemoryStore())
	m.NewSupervisor = func(cfg *config.PlayoutConfig, it source.Iterator) (Supervisor, error) {
		return &fakeSupervisor{started: make(chan struct{})}, nil
	}
	return m
}

func folderConfig(t *testing.T, id string) *config.PlayoutConfig {
	t.Helper()
	cfg := config.Default(id)
	cfg.Processing.Mode = config.ModeFolder
	cfg.Storage.Paths = []string{t.TempDir()}
	require.NoError(t, cfg.Playlist.Resolve())
	return &cfg
}

func TestManager_StartStopChannel(t *testing.T) {
	m := newTestManager(t)
	cfg := folderConfig(t, "ch1")

	require.NoError(t, m.StartChannel(context.Background(), cfg))
	assert.True(t, m.IsRunning("ch1"))

	err := m.StartChannel(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.StopChannel(ctx, "ch1"))
	assert.False(t, m.IsRunning("ch1"))
}

func TestManager_StopChannel_UnknownReturnsError(t *testing.T) {
	m := newTestManager(t)
	err := m.StopChannel(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestManager_StopAll_StopsEveryChannel(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.StartChannel(context.Background(), folderConfig(t, "a")))
	require.NoError(t, m.StartChannel(context.Background(), folderConfig(t, "b")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.StopAll(ctx))
	assert.False(t, m.IsRunning("a"))
	assert.False(t, m.IsRunning("b"))
}

func TestManager_UpdateChannel_RestartsRunningChannel(t *testing.T) {
	m := newTestManager(t)
	cfg := folderConfig(t, "ch1")
	require.NoError(t, m.StartChannel(context.Background(), cfg))

	cfg2 := folderConfig(t, "ch1")
	cfg2.Storage.Paths = []string{filepath.Join(t.TempDir(), "other")}
	require.NoError(t, m.UpdateChannel(context.Background(), cfg2))
	assert.True(t, m.IsRunning("ch1"))
}
