// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media defines Media, the value object for one playlist item
// (spec §3, §4.2), plus the path-normalization helper the round-trip
// property in spec §8 requires.
package media

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/xg2g/internal/playout/probe"
)

// Media is one scheduled or ad-hoc play of a source.
type Media struct {
	Index int

	Source   string
	Audio    string // optional sidecar audio path
	Category string // "advertisement" is semantically significant

	Begin    float64
	Seek     float64
	Out      float64
	Duration float64

	LastAd bool
	NextAd bool

	Probe        *probe.Probe
	Cmd          []string
	Filter       string
	Skip         bool
	CustomFilter string
}

// New constructs a Media with zeroed timing fields, matching the original's
// Media::new(index, source, probe_now) minus the eager probe (callers invoke
// AddProbe explicitly so it can run off the hot path).
func New(index int, source string) *Media {
	return &Media{Index: index, Source: source}
}

// AddProbe populates m.Probe and, when checkAudio is set and the probe shows
// no audio streams while a sidecar audio file exists, adopts it as m.Audio.
func (m *Media) AddProbe(p *probe.Probe, checkAudio bool) {
	m.Probe = p
	if checkAudio && p != nil && len(p.Audio) == 0 && m.Audio == "" {
		candidate := sidecarAudioPath(m.Source)
		if candidate != "" {
			if _, err := os.Stat(candidate); err == nil {
				m.Audio = candidate
			}
		}
	}
	if m.Duration == 0 {
		m.Duration = p.Duration()
	}
}

// sidecarAudioPath returns "<source-without-ext>.m4a", the convention the
// original engine checks for a video file with no embedded audio track.
func sidecarAudioPath(source string) string {
	ext := filepath.Ext(source)
	if ext == "" {
		return ""
	}
	return strings.TrimSuffix(source, ext) + ".m4a"
}

// Clone returns a copy safe for the caller to mutate (seek/out adjustments
// during init_clip/timed_source must never corrupt the stored program list).
func (m *Media) Clone() *Media {
	clone := *m
	clone.Cmd = append([]string(nil), m.Cmd...)
	return &clone
}

// PlayDuration is out - seek, the emitted play length.
func (m *Media) PlayDuration() float64 {
	return m.Out - m.Seek
}

// Valid checks the spec §3 timing invariant: 0 <= seek <= out.
func (m *Media) Valid() bool {
	return m.Seek >= 0 && m.Seek <= m.Out
}

// NormAbsPath joins root and p, cleans the result, and guarantees the
// returned path never escapes root: any ".." climb is clamped at root
// (spec §8's round-trip property for norm_abs_path).
func NormAbsPath(root, p string) string {
	if p == "" {
		return root
	}
	if filepath.IsAbs(p) {
		p = strings.TrimPrefix(p, string(filepath.Separator))
	}
	joined := filepath.Join(root, p)
	cleanRoot := filepath.Clean(root)
	rel, err := filepath.Rel(cleanRoot, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return cleanRoot
	}
	return joined
}
