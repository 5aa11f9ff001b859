// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package channel

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileTSPatterns_SubstitutesSequenceNumberPlaceholder(t *testing.T) {
	patterns := compileTSPatterns([]string{"-hls_segment_filename", "stream_%d.ts", "stream.m3u8", "ignored.mp4"})
	require.Len(t, patterns, 2)

	assert.True(t, patterns[0].MatchString("/hls/ch1/stream_0042.ts"))
	assert.False(t, patterns[0].MatchString("/hls/ch1/stream_abc.ts"))
	assert.True(t, patterns[1].MatchString("/hls/ch1/stream.m3u8"))
}

func TestDrainHLSPath_NoopWhenFreeSpaceAboveFloor(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "seg_0001.ts")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))

	orig := statFreeBytes
	statFreeBytes = func(string) (int64, error) { return hlsFreeSpaceFloor + 1, nil }
	defer func() { statFreeBytes = orig }()

	require.NoError(t, drainHLSPath(dir, []string{"seg_%d.ts"}, zerolog.Nop()))

	_, err := os.Stat(f)
	assert.NoError(t, err, "file must survive when free space is already above the floor")
}

func TestDrainHLSPath_RemovesOldestFirstUntilSpaceClears(t *testing.T) {
	dir := t.TempDir()

	oldest := filepath.Join(dir, "seg_0001.ts")
	middle := filepath.Join(dir, "seg_0002.ts")
	newest := filepath.Join(dir, "seg_0003.ts")
	require.NoError(t, os.WriteFile(oldest, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(oldest, time.Now().Add(-2*time.Hour), time.Now().Add(-2*time.Hour)))
	require.NoError(t, os.WriteFile(middle, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(middle, time.Now().Add(-1*time.Hour), time.Now().Add(-1*time.Hour)))
	require.NoError(t, os.WriteFile(newest, []byte("x"), 0o644))

	orig := statFreeBytes
	calls := 0
	statFreeBytes = func(string) (int64, error) {
		calls++
		if calls <= 2 {
			return hlsFreeSpaceFloor - 1, nil // below floor: gate passes, then one deletion loop iteration
		}
		return hlsFreeSpaceFloor + 1, nil // cleared after the oldest file is removed
	}
	defer func() { statFreeBytes = orig }()

	require.NoError(t, drainHLSPath(dir, []string{"seg_%d.ts"}, zerolog.Nop()))

	_, err := os.Stat(oldest)
	assert.True(t, os.IsNotExist(err), "oldest matching file must be removed first")
	_, err = os.Stat(middle)
	assert.NoError(t, err, "newer files must survive once free space clears the floor")
	_, err = os.Stat(newest)
	assert.NoError(t, err)
}

func TestDrainHLSPath_NoopWhenDirMissing(t *testing.T) {
	require.NoError(t, drainHLSPath(filepath.Join(t.TempDir(), "missing"), []string{"seg_%d.ts"}, zerolog.Nop()))
}
