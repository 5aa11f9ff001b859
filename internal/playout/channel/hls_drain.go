// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package channel

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// hlsFreeSpaceFloor is the free-space threshold below which stale HLS
// segments are drained, matching the original's drain_hls_path (1 GiB).
const hlsFreeSpaceFloor = 1 << 30

// statFreeBytes is a seam over freeBytes so tests can simulate disk
// pressure without depending on the test machine's actual free space.
var statFreeBytes = freeBytes

// drainHLSPath mirrors the original's drain_hls_path/delete_ts/paths_match:
// when dir's filesystem has less than hlsFreeSpaceFloor bytes free, it
// deletes files under dir matching the muxer's own output patterns
// (segment/playlist/subtitle filenames), oldest first, until free space
// clears the floor or there is nothing left to delete (spec §4.7).
func drainHLSPath(dir string, outputParams []string, logger zerolog.Logger) error {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	free, err := statFreeBytes(dir)
	if err != nil {
		return fmt.Errorf("statfs %s: %w", dir, err)
	}
	if free >= hlsFreeSpaceFloor {
		return nil
	}
	logger.Warn().Str("dir", dir).Int64("free_bytes", free).
		Msg("HLS storage space is less than 1GB, draining stale segments")

	return deleteTS(dir, outputParams, logger)
}

func freeBytes(dir string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// deleteTS removes files under dir matching any of outputParams that look
// like a segment/playlist/subtitle filename pattern, regex-escaped with
// ffmpeg's "%d" sequence-number placeholder substituted for "\d+", oldest
// modification time first, stopping once free space clears the floor.
func deleteTS(dir string, outputParams []string, logger zerolog.Logger) error {
	patterns := compileTSPatterns(outputParams)
	if len(patterns) == 0 {
		return nil
	}

	type match struct {
		path    string
		modTime time.Time
	}
	var matches []match
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		for _, re := range patterns {
			if re.MatchString(path) {
				info, ierr := d.Info()
				if ierr != nil {
					return nil
				}
				matches = append(matches, match{path: path, modTime: info.ModTime()})
				break
			}
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].modTime.Before(matches[j].modTime) })

	removed := 0
	for _, f := range matches {
		if free, err := statFreeBytes(dir); err == nil && free >= hlsFreeSpaceFloor {
			break
		}
		if err := os.Remove(f.path); err == nil {
			removed++
		}
	}
	if removed > 0 {
		logger.Info().Str("dir", dir).Int("removed", removed).Msg("drained stale HLS segments")
	}
	return nil
}

func compileTSPatterns(outputParams []string) []*regexp.Regexp {
	var patterns []*regexp.Regexp
	for _, p := range outputParams {
		lower := strings.ToLower(p)
		if !strings.HasSuffix(lower, ".ts") && !strings.HasSuffix(lower, ".m3u8") && !strings.HasSuffix(lower, ".vtt") {
			continue
		}
		escaped := strings.ReplaceAll(regexp.QuoteMeta(p), `%d`, `\d+`)
		re, err := regexp.Compile(escaped)
		if err != nil {
			continue
		}
		patterns = append(patterns, re)
	}
	return patterns
}
