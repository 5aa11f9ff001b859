// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package logsink

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xg2g/internal/playout/bus"
)

func TestSink_Write_CreatesDailyFile(t *testing.T) {
	dir := t.TempDir()
	s := NewSink(dir, 3, nil)

	require.NoError(t, s.Write("ch1", "hello"))

	today := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, "ch1", today+".log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestSink_Write_RotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	s := NewSink(dir, 3, nil)
	s.now = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, s.Write("ch1", "day one"))

	s.now = func() time.Time { return time.Date(2026, 1, 2, 0, 0, 1, 0, time.UTC) }
	require.NoError(t, s.Write("ch1", "day two"))

	entries, err := os.ReadDir(filepath.Join(dir, "ch1"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSink_Prune_KeepsOnlyBackupCount(t *testing.T) {
	dir := t.TempDir()
	s := NewSink(dir, 1, nil)

	dates := []time.Time{
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC),
	}
	for _, d := range dates {
		s.now = func() time.Time { return d }
		require.NoError(t, s.Write("ch1", "line"))
	}

	entries, err := os.ReadDir(filepath.Join(dir, "ch1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "2026-01-03.log", entries[0].Name())
}

func TestSink_Run_WritesPublishedMessages(t *testing.T) {
	dir := t.TempDir()
	s := NewSink(dir, 3, nil)
	b := bus.NewMemoryBus()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, b, "ch1") }()

	require.Eventually(t, func() bool {
		return b.Publish(context.Background(), "ch1", bus.Message{
			ChannelID: "ch1", Level: bus.LevelInfo, Line: "from bus", Time: time.Now(),
		}) == nil
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(dir, "ch1", time.Now().Format("2006-01-02")+".log"))
		return err == nil && len(data) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
