// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xg2g/internal/playout/config"
	"github.com/ManuGH/xg2g/internal/playout/media"
	"github.com/ManuGH/xg2g/internal/playout/playlist"
	"github.com/ManuGH/xg2g/internal/playout/status"
)

func writePlaylist(t *testing.T, store *playlist.Store, date time.Time, body string) {
	t.Helper()
	path := store.PathFor(date)
	require.NoError(t, writeFile(path, body))
}

func newTestSource(t *testing.T) (*PlaylistSource, *playlist.Store, *config.PlayoutConfig) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default("ch1")
	require.NoError(t, cfg.Playlist.Resolve())

	store := playlist.NewStore(dir)
	statusStore := status.NewMemoryStore()
	filler := &FillerPolicy{}

	ps, err := NewPlaylistSource(context.Background(), &cfg, store, statusStore, filler)
	require.NoError(t, err)
	return ps, store, &cfg
}

func TestDuplicateForSeekAndLoop_MatchesSpecArithmetic(t *testing.T) {
	ps := &PlaylistSource{}
	m := media.New(0, "a.mp4")
	m.Seek = 0
	m.Out = 12
	m.Duration = 10

	first, dup := ps.duplicateForSeekAndLoop(m)
	require.NotNil(t, dup)

	assert.Equal(t, 10.0, first.Out)
	assert.Equal(t, 2.0, dup.Out)
	assert.Equal(t, 0.0, dup.Seek)
	assert.Equal(t, 12.0, first.Out+dup.Out-dup.Seek)
}

func TestDuplicateForSeekAndLoop_NoopWhenOutWithinDuration(t *testing.T) {
	ps := &PlaylistSource{}
	m := media.New(0, "a.mp4")
	m.Out = 8
	m.Duration = 10

	first, dup := ps.duplicateForSeekAndLoop(m)
	assert.Nil(t, dup)
	assert.Equal(t, 8.0, first.Out)
}

func TestDuplicateForSeekAndLoop_SeekBeyondDurationWraps(t *testing.T) {
	ps := &PlaylistSource{}
	m := media.New(0, "a.mp4")
	m.Seek = 15
	m.Out = 25
	m.Duration = 10

	first, dup := ps.duplicateForSeekAndLoop(m)
	require.NotNil(t, dup)

	assert.Equal(t, 5.0, first.Seek)
	assert.Equal(t, 10.0, first.Out)
	assert.False(t, first.Skip)
	assert.LessOrEqual(t, first.Seek, first.Out, "seek must never exceed out")

	assert.Equal(t, 0.0, dup.Seek)
	assert.Equal(t, 5.0, dup.Out)
	assert.False(t, dup.Skip)

	assert.Equal(t, 10.0, (first.Out-first.Seek)+(dup.Out-dup.Seek), "split must cover the original requested span")
}

func TestMarkSkipIfTooShort(t *testing.T) {
	ps := &PlaylistSource{}
	m := media.New(0, "a.mp4")
	m.Seek = 0
	m.Out = 0.5

	ps.markSkipIfTooShort(m)
	assert.True(t, m.Skip)
}

func TestFindIndexForTime(t *testing.T) {
	ps := &PlaylistSource{}
	ps.current = &playlist.JsonPlaylist{Program: []*media.Media{
		mkMedia(0, 60),
		mkMedia(60, 30),
		mkMedia(90, 90),
	}}

	assert.Equal(t, 0, ps.findIndexForTime(30))
	assert.Equal(t, 1, ps.findIndexForTime(70))
	assert.Equal(t, 2, ps.findIndexForTime(100))
	assert.Equal(t, 2, ps.findIndexForTime(500), "time past the end clamps to the last item")
}

func mkMedia(begin, out float64) *media.Media {
	m := media.New(0, "a.mp4")
	m.Begin = begin
	m.Out = out
	return m
}

func TestNext_ShortPlaylistAtDayStart_EmitsFirstItemThenFillEnd(t *testing.T) {
	ps, store, cfg := newTestSource(t)
	ctx := context.Background()

	fixedNow := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ps.now = func() time.Time { return fixedNow }

	writePlaylist(t, store, fixedNow, `{"channel":"ch1","date":"2026-08-01","program":[{"in":0,"out":60,"duration":60,"source":"a.mp4"}]}`)
	_ = cfg

	first, err := ps.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "a.mp4", first.Source)

	second, err := ps.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "fill_end", second.Category, "playlist is exhausted but the day has a long way to go")
}
