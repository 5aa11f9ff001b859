// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package filter builds the ffmpeg -filter_complex and -map argument vectors
// for one Media item (spec §4.5). It is grounded on the original engine's
// filter/mod.rs chain-builder algorithm, assembled with explicit
// string-builder chains and no template engine.
package filter

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/ManuGH/xg2g/internal/playout/config"
	"github.com/ManuGH/xg2g/internal/playout/media"
)

// Role is the process role a Media item is being filtered for.
type Role string

const (
	RoleDecoder Role = "decoder"
	RoleEncoder Role = "encoder"
	RoleIngest  Role = "ingest"
)

// hwFilterSuffixes are the well-known hardware-filter name endings used to
// decide whether a bridging hwdownload/hwupload must be inserted (spec §4.5.5).
var hwFilterSuffixes = []string{"_cuda", "_npp", "_opencl", "_vaapi", "_vulkan", "_qsv"}

// Filters accumulates chain fragments for one Media item and assembles them
// into a single -filter_complex string plus -map arguments.
type Filters struct {
	HWContext string // e.g. "vaapi"; empty when no hardware acceleration is active

	vChain []string
	aChain []string

	videoLast  int         // index of the last labeled video stage, -1 = untouched
	audioLast  map[int]int // per-track index of the last labeled audio stage
	audioOrder []int       // track indices in first-touched order, for stable Cmd()/Map() output

	outputChain string   // raw override/output_filter substitution, bypasses normal assembly
	outputMap   []string // accumulated -map arguments
}

func newFilters(hwContext string) *Filters {
	return &Filters{HWContext: hwContext, videoLast: -1, audioLast: make(map[int]int)}
}

func (f *Filters) addVideo(stage string) {
	label := fmt.Sprintf("v%d", f.videoLast+1)
	in := "[0:v]"
	if f.videoLast >= 0 {
		in = fmt.Sprintf("[v%d]", f.videoLast)
	}
	f.vChain = append(f.vChain, fmt.Sprintf("%s%s[%s]", in, stage, label))
	f.videoLast++
}

// addAudio appends stage to track's own chain, keyed independently of every
// other track (spec §4.5.6's multi-track AudioTrackIndex=-1 case: track 1's
// link labels must never collide with or reference track 0's).
func (f *Filters) addAudio(track int, stage string) {
	last, seen := f.audioLast[track]
	next := 0
	in := fmt.Sprintf("[0:a:%d]", track)
	if seen {
		next = last + 1
		in = fmt.Sprintf("[a%d_%d]", track, last)
	} else {
		f.audioOrder = append(f.audioOrder, track)
	}
	label := fmt.Sprintf("a%d_%d", track, next)
	f.aChain = append(f.aChain, fmt.Sprintf("%s%s[%s]", in, stage, label))
	f.audioLast[track] = next
}

func isHWFilter(name string) bool {
	for _, suf := range hwFilterSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

// Build orchestrates the full pipeline described in spec §4.5 for one item
// and returns the assembled Filters. filterChain is the latest TextOverlayControl
// expression (the "static fallback" embedded into newly spawned decoders).
func Build(cfg *config.PlayoutConfig, m *media.Media, role Role, filterChain string) (*Filters, error) {
	p := cfg.Processing

	// 1. Override: raw custom string short-circuits everything else.
	if p.OverrideFilter != "" {
		return &Filters{outputChain: p.OverrideFilter}, nil
	}

	f := newFilters(hwContextFor(cfg))

	srcAspect, srcFPS, fieldOrder := 0.0, 0.0, "progressive"
	srcDuration := m.Duration
	if m.Probe != nil && len(m.Probe.Video) > 0 {
		v := m.Probe.Video[0]
		srcAspect, srcFPS, fieldOrder = v.Aspect, v.FrameRate, v.FieldOrder
		if v.Duration > 0 {
			srcDuration = v.Duration
		}
	}

	procFilter := p.CustomFilter
	if role == RoleIngest {
		procFilter = cfg.Ingest.CustomFilter
	}
	procVF, procAF := splitCustomFilter(procFilter)
	clipVF, clipAF := splitCustomFilter(m.CustomFilter)

	if !p.AudioOnly && !p.CopyVideo {
		buildVideo(f, cfg, m, srcAspect, srcFPS, fieldOrder, srcDuration, filterChain)
		if procVF != "" {
			f.addVideo(procVF)
		}
		if clipVF != "" {
			f.addVideo(clipVF)
		}
	}

	if !p.CopyAudio {
		tracks := audioTrackIndices(p)
		for _, idx := range tracks {
			buildAudioTrack(f, cfg, m, idx)
			if procAF != "" {
				f.addAudio(idx, procAF)
			}
			if clipAF != "" {
				f.addAudio(idx, clipAF)
			}
		}
	}

	if role == RoleEncoder && cfg.Output.Mode == config.OutputHLS && cfg.Output.OutputCount > 1 {
		splitVideo(f, cfg.Output.OutputCount)
	}

	return f, nil
}

func hwContextFor(cfg *config.PlayoutConfig) string {
	// The spec leaves hardware-acceleration selection to channel config; this
	// repo exposes it via AdvancedConfig so FilterBuilder stays config-driven
	// rather than probing the host for a device.
	return cfg.Advanced.Templates["hwcontext"]
}

// customLinkStrip strips the leading "[0:...]" input-pad label and/or a
// trailing "[...]" output-pad label surrounding one half of a split custom
// filter chain, mirroring the original's filter_node regex.
var customLinkStrip = regexp.MustCompile(`^;?(\[[0-9]:[^\[]+\])?|\[[^\[]+\]$`)

// splitCustomFilter divides a raw custom filter chain containing "[c_v_out]"
// and/or "[c_a_out]" markers into its video and audio halves (spec §4.5.6),
// grounded on the original engine's filter::custom::filter_node: a chain
// with both markers is split at whichever comes first, a chain with only
// one marker feeds that half alone, and a chain with neither marker (while
// non-empty) cannot be routed so both halves come back empty.
func splitCustomFilter(filterChain string) (videoFilter, audioFilter string) {
	const vMark, aMark = "[c_v_out]", "[c_a_out]"
	hasV := strings.Contains(filterChain, vMark)
	hasA := strings.Contains(filterChain, aMark)

	switch {
	case hasV && hasA:
		vPos := strings.Index(filterChain, vMark)
		aPos := strings.Index(filterChain, aMark)
		delim := vMark
		if vPos > aPos {
			delim = aMark
		}
		parts := strings.SplitN(filterChain, delim, 2)
		if len(parts) != 2 {
			return "", ""
		}
		f1, f2 := parts[0], parts[1]
		if strings.Contains(f2, aMark) {
			videoFilter = customLinkStrip.ReplaceAllString(f1, "")
			audioFilter = customLinkStrip.ReplaceAllString(f2, "")
		} else {
			videoFilter = customLinkStrip.ReplaceAllString(f2, "")
			audioFilter = customLinkStrip.ReplaceAllString(f1, "")
		}
	case hasV:
		videoFilter = customLinkStrip.ReplaceAllString(filterChain, "")
	case hasA:
		audioFilter = customLinkStrip.ReplaceAllString(filterChain, "")
	}
	return videoFilter, audioFilter
}

func audioTrackIndices(p config.ProcessingConfig) []int {
	if p.AudioTrackIndex >= 0 {
		return []int{p.AudioTrackIndex}
	}
	tracks := p.AudioTracks
	if tracks <= 0 {
		tracks = 1
	}
	idx := make([]int, tracks)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func buildVideo(f *Filters, cfg *config.PlayoutConfig, m *media.Media, srcAspect, srcFPS float64, fieldOrder string, srcDuration float64, dyntext string) {
	p := cfg.Processing

	if fieldOrder != "" && fieldOrder != "progressive" {
		f.addVideo("yadif=0:-1:0")
	}

	if srcAspect > 0 && p.Aspect > 0 && math.Abs(srcAspect-p.Aspect) > 0.03 {
		num, den := fractionApprox(p.Aspect, 100)
		f.addVideo(fmt.Sprintf("pad=ceil(iw*max(%d/%d/(iw/ih)\\,1)/2)*2:ceil(iw*max(%d/%d/(iw/ih)\\,1)/ih/2)*2:(ow-iw)/2:(oh-ih)/2", num, den, num, den))
	}

	if srcFPS > 0 && p.FPS > 0 && math.Abs(srcFPS-p.FPS) > 0.01 {
		f.addVideo(fmt.Sprintf("fps=%g", p.FPS))
	}

	if p.Width > 0 && p.Height > 0 && m.Probe != nil && len(m.Probe.Video) > 0 {
		if v := m.Probe.Video[0]; v.Width != p.Width || v.Height != p.Height {
			f.addVideo(fmt.Sprintf("scale=%d:%d", p.Width, p.Height))
		}
	}

	if srcAspect > 0 && p.Aspect > 0 && math.Abs(srcAspect-p.Aspect) > 0.03 {
		f.addVideo(fmt.Sprintf("setdar=%g", p.Aspect))
	}

	need := m.PlayDuration()
	if srcDuration > 0 && need-srcDuration > 0.1 && m.Duration >= m.Out {
		f.addVideo(fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%.3f", need-srcDuration))
	}

	if cfg.Text.AddText {
		f.addVideo(drawtextFilter(cfg, dyntext))
	}

	fadeIn := m.Seek > 0
	fadeOut := m.Out < m.Duration && need > 1
	if fadeIn {
		f.addVideo("fade=in:st=0:d=0.5")
	}
	if fadeOut {
		f.addVideo(fmt.Sprintf("fade=out:st=%.3f:d=1.0", need-1.0))
	}

	if p.AddLogo && p.Logo != "" && m.Category != "advertisement" {
		overlay := "overlay=" + p.LogoPosition
		if m.LastAd {
			overlay = "fade=in:alpha=1:st=0:d=1.0," + overlay
		}
		if m.NextAd {
			overlay = overlay + ",fade=out:alpha=1:st=" + fmt.Sprintf("%.3f", math.Max(need-1.0, 0)) + ":d=1.0"
		}
		f.addVideo(overlay)
	}

	if f.HWContext != "" {
		bridgeHardware(f)
	}
}

// bridgeHardware interleaves hwdownload/hwupload around CPU-only stages,
// matching the original's last_is_hw/hw_download/hw_upload helpers.
func bridgeHardware(f *Filters) {
	var bridged []string
	wasHW := false
	for _, stage := range f.vChain {
		nowHW := isHWFilter(stage)
		if wasHW && !nowHW {
			bridged = append(bridged, "hwdownload,format=nv12")
		} else if !wasHW && nowHW {
			bridged = append(bridged, fmt.Sprintf("hwupload_%s", strings.TrimPrefix(f.HWContext, "_")))
		}
		bridged = append(bridged, stage)
		wasHW = nowHW
	}
	f.vChain = bridged
}

func buildAudioTrack(f *Filters, cfg *config.PlayoutConfig, m *media.Media, track int) {
	p := cfg.Processing

	f.addAudio(track, "anull")

	hasTrack := m.Probe != nil && track < len(m.Probe.Audio)
	need := m.PlayDuration()

	if hasTrack {
		dur := m.Probe.Audio[track].Duration
		if dur > 0 && need-dur > 0.1 {
			f.addAudio(track, fmt.Sprintf("apad=whole_dur=%.3f", need))
		}
	} else {
		f.addAudio(track, fmt.Sprintf("aevalsrc=0:duration=%.3f", need))
	}

	if m.Seek > 0 {
		f.addAudio(track, "afade=in:st=0:d=0.5")
	}
	if m.Out < m.Duration && need > 1 {
		f.addAudio(track, fmt.Sprintf("afade=out:st=%.3f:d=1.0", need-1.0))
	}

	if p.Volume != 0 && p.Volume != 1.0 {
		f.addAudio(track, fmt.Sprintf("volume=%g", p.Volume))
	}
}

func splitVideo(f *Filters, count int) {
	f.addVideo(fmt.Sprintf("split=%d", count))
}

// drawtextFilter builds the drawtext stage. dyntext is the latest filter
// fragment accepted by textoverlay.Controller's "reinit" command, if any;
// when present it replaces the static default text expression entirely so
// a live operator update takes effect on the very next clip.
func drawtextFilter(cfg *config.PlayoutConfig, dyntext string) string {
	if dyntext != "" {
		return "drawtext@dyntext=" + dyntext
	}
	if cfg.Text.ZmqServerSocket != "" || cfg.Text.ZmqStreamSocket != "" {
		return "drawtext@dyntext=text='':fontfile=" + cfg.Text.Font
	}
	return fmt.Sprintf("drawtext=fontfile=%s:text='':box=0", cfg.Text.Font)
}

// fractionApprox approximates aspect as num/den with den capped at maxDen,
// the same approximation strategy spec §9 flags as lossy for unusual aspects.
func fractionApprox(aspect float64, maxDen int) (int, int) {
	den := maxDen
	num := int(math.Round(aspect * float64(den)))
	return num, den
}

// Cmd terminates the accumulated chains and emits the -filter_complex
// argument pair, or the raw override string when one was set.
func (f *Filters) Cmd() []string {
	if f.outputChain != "" {
		return []string{"-filter_complex", f.outputChain}
	}

	var parts []string
	parts = append(parts, f.vChain...)
	parts = append(parts, f.aChain...)

	if f.videoLast >= 0 {
		parts = append(parts, fmt.Sprintf("[v%d]null[vout]", f.videoLast))
	}
	for _, track := range f.audioOrder {
		parts = append(parts, fmt.Sprintf("[a%d_%d]anull[aout%d]", track, f.audioLast[track], track))
	}

	if len(parts) == 0 {
		return nil
	}
	return []string{"-filter_complex", strings.Join(parts, ";")}
}

// Map returns the -map arguments for every stream the filter graph produced
// or left untouched, defaulting to "0:v"/"0:a:<n>" when a stream was never
// referenced by the chain. Every audio track addAudio touched gets its own
// -map entry, not just the first (spec §4.5.8).
func (f *Filters) Map() []string {
	var args []string
	if f.videoLast >= 0 {
		args = append(args, "-map", "[vout]")
	} else {
		args = append(args, "-map", "0:v")
	}
	if len(f.audioOrder) > 0 {
		for _, track := range f.audioOrder {
			args = append(args, "-map", fmt.Sprintf("[aout%d]", track))
		}
	} else {
		args = append(args, "-map", "0:a:0")
	}
	args = append(args, f.outputMap...)
	return args
}
