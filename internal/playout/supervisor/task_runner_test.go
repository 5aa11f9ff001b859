// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xg2g/internal/playout/config"
	"github.com/ManuGH/xg2g/internal/playout/media"
)

func TestRunTask_NoopWhenDisabled(t *testing.T) {
	cfg := config.Default("ch1")
	s := &ProcessSupervisor{cfg: &cfg}
	s.runTask(media.New(0, "a.mp4")) // must not panic or block on a nonexistent binary
}

func TestRunTask_SpawnsWithJSONPayload(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.json")

	script := filepath.Join(dir, "task.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$1\" > \""+outPath+"\"\n"), 0o755))

	cfg := config.Default("ch1")
	cfg.Task.Enable = true
	cfg.Task.Path = script
	s := &ProcessSupervisor{cfg: &cfg}

	m := media.New(3, "clip.mp4")
	m.Category = "advertisement"
	m.Seek = 1.5
	m.Out = 10
	m.Duration = 12

	s.runTask(m)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var payload taskPayload
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "ch1", payload.ChannelID)
	assert.Equal(t, 3, payload.Index)
	assert.Equal(t, "clip.mp4", payload.Source)
	assert.Equal(t, "advertisement", payload.Category)
	assert.Equal(t, 1.5, payload.Seek)
	assert.Equal(t, 10.0, payload.Out)
	assert.Equal(t, 12.0, payload.Duration)
}

func TestRunTask_NonZeroExitDoesNotPanic(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fail.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 7\n"), 0o755))

	cfg := config.Default("ch1")
	cfg.Task.Enable = true
	cfg.Task.Path = script
	s := &ProcessSupervisor{cfg: &cfg}

	s.runTask(media.New(0, "a.mp4")) // exit 7 is logged, not returned or panicked on
}
