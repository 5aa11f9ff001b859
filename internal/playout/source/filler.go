// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ManuGH/xg2g/internal/log"
	"github.com/ManuGH/xg2g/internal/playout/config"
	"github.com/ManuGH/xg2g/internal/playout/media"
	"github.com/ManuGH/xg2g/internal/playout/probe"
)

// FillerPolicy implements gen_source (spec §4.6.3): when a configured
// source is missing or fails to probe, it substitutes a filler clip or a
// synthesized color+silence dummy of the needed duration.
type FillerPolicy struct {
	mu     sync.Mutex
	files  []string // populated from Storage.Filler when it is a directory
	index  int
	probe  *probe.Runner
}

// NewFillerPolicy loads the filler list (directory contents or a single
// file) and returns a policy ready for GenSource calls.
func NewFillerPolicy(cfg *config.PlayoutConfig, probeRunner *probe.Runner) *FillerPolicy {
	fp := &FillerPolicy{probe: probeRunner}
	fp.reload(cfg)
	return fp
}

// Reload re-scans the filler directory, shuffling it when
// cfg.Storage.Shuffle is set and sorting it by name otherwise; the
// round-robin index is kept unless it falls out of range
// (spec §4.7 "spawn a task to populate the filler list").
func (fp *FillerPolicy) Reload(cfg *config.PlayoutConfig) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.reload(cfg)
}

func (fp *FillerPolicy) reload(cfg *config.PlayoutConfig) {
	fp.files = nil
	if cfg.Storage.Filler == "" {
		return
	}
	info, err := os.Stat(cfg.Storage.Filler)
	if err != nil {
		return
	}
	if !info.IsDir() {
		fp.files = []string{cfg.Storage.Filler}
		return
	}
	entries, err := os.ReadDir(cfg.Storage.Filler)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if matchesExtension(e.Name(), cfg.Storage.Extensions) {
			fp.files = append(fp.files, filepath.Join(cfg.Storage.Filler, e.Name()))
		}
	}
	if cfg.Storage.Shuffle {
		rand.Shuffle(len(fp.files), func(i, j int) { fp.files[i], fp.files[j] = fp.files[j], fp.files[i] })
	} else {
		sort.Strings(fp.files)
	}
	if fp.index >= len(fp.files) {
		fp.index = 0
	}
}

func matchesExtension(name string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	for _, e := range extensions {
		if strings.EqualFold(ext, strings.TrimPrefix(e, ".")) {
			return true
		}
	}
	return false
}

// GenSource substitutes a replacement for m when its source is missing or
// unprobeable, capping the replacement's Out at neededDuration.
func (fp *FillerPolicy) GenSource(ctx context.Context, m *media.Media, neededDuration float64) *media.Media {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	logger := log.WithComponent("playout.filler")

	if len(fp.files) > 0 {
		path := fp.files[fp.index]
		fp.index = (fp.index + 1) % len(fp.files)
		logger.Info().Str("path", path).Float64("duration", neededDuration).Msg("substituting filler clip")
		return fp.buildReplacement(ctx, path, neededDuration)
	}

	logger.Warn().Str("original_source", m.Source).Float64("duration", neededDuration).Msg("no filler configured, synthesizing dummy")
	return fp.dummy(neededDuration)
}

func (fp *FillerPolicy) buildReplacement(ctx context.Context, path string, neededDuration float64) *media.Media {
	repl := media.New(0, path)
	repl.Out = neededDuration
	if p, err := fp.probe.New(ctx, path); err == nil {
		repl.AddProbe(p, false)
		if repl.Duration > 0 && repl.Duration < neededDuration {
			// Out is left above Duration here. FilterBuilder's tpad stage only
			// applies when Duration >= Out, so this gap is not padded.
		}
	}
	return repl
}

// dummy synthesizes an internal lavfi color source (spec GLOSSARY "Dummy").
// The source has no audio; since the dummy carries no probe, FilterBuilder
// supplies silent audio for it with its aevalsrc stage.
func (fp *FillerPolicy) dummy(duration float64) *media.Media {
	source := fmt.Sprintf("color=c=black:s=1280x720:d=%.3f", duration)
	m := media.New(0, source)
	m.Out = duration
	m.Duration = duration
	m.Category = "dummy"
	return m
}
