// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package probe invokes ffprobe on a clip source and parses the JSON result
// into the fields FilterBuilder and SourceIterator need: container duration,
// the first video stream's geometry/fps/field order, and each audio stream's
// duration and channel count.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/xg2g/internal/log"
)

// ErrProbe wraps any failure to run or parse the probe tool.
var ErrProbe = errors.New("probe error")

// VideoStream is the subset of ffprobe's video stream fields FilterBuilder consumes.
type VideoStream struct {
	Width      int
	Height     int
	Aspect     float64 // width/height after accounting for the sample aspect ratio
	FrameRate  float64
	FieldOrder string // "progressive", "tt", "bb", "tb", "bt", or "" when unknown
	Duration   float64
}

// AudioStream is the subset of ffprobe's audio stream fields consumed downstream.
type AudioStream struct {
	Duration float64
	Channels int
}

// Probe holds the fields of one ffprobe invocation against a source.
type Probe struct {
	FormatDuration float64
	Video          []VideoStream
	Audio          []AudioStream
}

// Runner invokes the external probe tool. A field rather than a package
// function so tests can substitute a fake without touching PATH.
type Runner struct {
	BinPath string
	Timeout time.Duration
}

// NewRunner returns a Runner for binPath ("ffprobe" on PATH when empty)
// with a 10s timeout.
func NewRunner(binPath string) *Runner {
	if binPath == "" {
		binPath = "ffprobe"
	}
	return &Runner{BinPath: binPath, Timeout: 10 * time.Second}
}

type rawFormat struct {
	Duration string `json:"duration"`
}

type rawStream struct {
	CodecType          string `json:"codec_type"`
	Width              int    `json:"width"`
	Height             int    `json:"height"`
	SampleAspectRatio  string `json:"sample_aspect_ratio"`
	AvgFrameRate       string `json:"avg_frame_rate"`
	FieldOrder         string `json:"field_order"`
	Duration           string `json:"duration"`
	Channels           int    `json:"channels"`
	DurationFromFormat string `json:"-"`
}

type rawProbe struct {
	Format  rawFormat   `json:"format"`
	Streams []rawStream `json:"streams"`
}

// New runs the probe tool against path (a local file or a URL ffprobe can
// open directly) and returns the parsed record. Missing optional fields are
// tolerated; only an unreadable or unparseable result is an error.
func (r *Runner) New(ctx context.Context, path string) (*Probe, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_entries",
		"stream=codec_type,width,height,sample_aspect_ratio,avg_frame_rate,field_order,duration,channels",
		"-i", path,
	}

	cmd := exec.CommandContext(ctx, r.BinPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log.WithComponent("playout.probe").Warn().
			Str("path", path).
			Str("stderr", strings.TrimSpace(stderr.String())).
			Err(err).
			Msg("probe tool failed")
		return nil, fmt.Errorf("%w: %s: %v", ErrProbe, path, err)
	}

	var raw rawProbe
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("%w: unparseable output for %s: %v", ErrProbe, path, err)
	}

	p := &Probe{FormatDuration: parseFloat(raw.Format.Duration)}
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			p.Video = append(p.Video, VideoStream{
				Width:      s.Width,
				Height:     s.Height,
				Aspect:     aspectRatio(s.Width, s.Height, s.SampleAspectRatio),
				FrameRate:  parseRate(s.AvgFrameRate),
				FieldOrder: s.FieldOrder,
				Duration:   parseFloat(s.Duration),
			})
		case "audio":
			p.Audio = append(p.Audio, AudioStream{
				Duration: parseFloat(s.Duration),
				Channels: s.Channels,
			})
		}
	}

	return p, nil
}

// Duration returns the best-known intrinsic length of the source: the
// container duration when present, else the first video stream's duration,
// else zero.
func (p *Probe) Duration() float64 {
	if p == nil {
		return 0
	}
	if p.FormatDuration > 0 {
		return p.FormatDuration
	}
	if len(p.Video) > 0 && p.Video[0].Duration > 0 {
		return p.Video[0].Duration
	}
	return 0
}

func parseFloat(s string) float64 {
	if s == "" || s == "N/A" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseRate parses ffprobe's "num/den" average frame rate representation.
func parseRate(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return parseFloat(s)
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

// aspectRatio derives a display aspect ratio from pixel geometry and the
// sample (pixel) aspect ratio string ("num:den" or "1:1"/"0:1" for unknown).
func aspectRatio(width, height int, sar string) float64 {
	if height == 0 {
		return 0
	}
	sarNum, sarDen := 1.0, 1.0
	if parts := strings.SplitN(sar, ":", 2); len(parts) == 2 {
		n, err1 := strconv.ParseFloat(parts[0], 64)
		d, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && n > 0 && d > 0 {
			sarNum, sarDen = n, d
		}
	}
	return (float64(width) * sarNum) / (float64(height) * sarDen)
}
