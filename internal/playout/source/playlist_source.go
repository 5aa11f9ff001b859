// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/ManuGH/xg2g/internal/log"
	"github.com/ManuGH/xg2g/internal/playout/config"
	"github.com/ManuGH/xg2g/internal/playout/media"
	"github.com/ManuGH/xg2g/internal/playout/playlist"
	"github.com/ManuGH/xg2g/internal/playout/status"
)

// rolloverEpsilon and fillEndEpsilon are the is_close() tolerances spec §9
// calls out: never compare wall-second arithmetic with exact equality.
const (
	rolloverEpsilon = 2.0
	fillEndEpsilon  = 1.0
	dstEpsilon      = 5.0 // tolerance around the 3600s DST jump signature
	minClipLen      = 1.0 // clips under this are marked skip=true
)

// PlaylistSource is the CurrentProgram state machine (spec §4.6.2): it maps
// wall-clock time onto a clip and an intra-clip offset, tolerating drift,
// DST jumps, manual resets, and date rollover.
type PlaylistSource struct {
	cfg         *config.PlayoutConfig
	store       *playlist.Store
	statusStore status.Store
	filler      *FillerPolicy
	loc         *time.Location
	now         func() time.Time

	mu        sync.Mutex
	fsm       *machine
	current   *playlist.JsonPlaylist
	index     int
	listInit  bool
	timeShift float64
	lastAd    bool
	loopCount int // for recalculate_begin on infinite sub-24h playlists
}

// NewPlaylistSource constructs a PlaylistSource in the Uninitialized state,
// restoring time_shift from the status store if a row exists.
func NewPlaylistSource(ctx context.Context, cfg *config.PlayoutConfig, store *playlist.Store, statusStore status.Store, filler *FillerPolicy) (*PlaylistSource, error) {
	loc, err := time.LoadLocation(cfg.Playlist.Timezone)
	if err != nil {
		loc = time.UTC
	}
	fsm, err := newMachine(StateUninitialized, playlistSourceTransitions())
	if err != nil {
		return nil, err
	}

	ps := &PlaylistSource{
		cfg:         cfg,
		store:       store,
		statusStore: statusStore,
		filler:      filler,
		loc:         loc,
		now:         time.Now,
		fsm:         fsm,
		listInit:    true,
	}

	if row, err := statusStore.Get(ctx, cfg.General.ChannelID); err == nil && row != nil {
		ps.timeShift = row.TimeShift
	}

	return ps, nil
}

// Reset forces re-initialization at the next Next() call, zeroing time_shift
// (spec §8: "After any reset or rollover, time_shift = 0").
func (ps *PlaylistSource) Reset(ctx context.Context) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.listInit = true
	ps.timeShift = 0
	_, _ = ps.fsm.Fire(ctx, EventReset)
	ps.persistStatus(ctx)
}

// elapsedInDay returns seconds since local midnight for now, in ps.loc.
func (ps *PlaylistSource) elapsedInDay(now time.Time) float64 {
	local := now.In(ps.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, ps.loc)
	return local.Sub(midnight).Seconds()
}

// getDelta returns (delta, totalDelta): delta is the gap between the
// current clip's scheduled begin and now; totalDelta is the remaining
// budget in the day (spec GLOSSARY).
func (ps *PlaylistSource) getDelta(now time.Time) (delta, totalDelta float64) {
	elapsed := ps.elapsedInDay(now)
	totalDelta = ps.cfg.Playlist.LengthSec - (elapsed - ps.cfg.Playlist.StartSec)
	if ps.current != nil && ps.index < len(ps.current.Program) {
		delta = ps.current.Program[ps.index].Begin + ps.timeShift - elapsed
	}
	return delta, totalDelta
}

// checkForPlaylist implements spec §4.6.2 step 2: decide between rollover,
// reload-on-modification, or no-op.
func (ps *PlaylistSource) checkForPlaylist(ctx context.Context, now time.Time) {
	_, totalDelta := ps.getDelta(now)
	lengthSec := ps.cfg.Playlist.LengthSec

	nextStartExceeds := ps.current != nil && ps.index < len(ps.current.Program) &&
		ps.current.Program[ps.index].Begin+ps.timeShift >= lengthSec

	// A totalDelta near zero means the day's scheduled budget is spent: time
	// to roll to the next date. (spec §4.6.2 step 2 also names totalDelta
	// near length_sec as a rollover trigger; taken literally that fires at
	// every day's first tick, when totalDelta == length_sec by definition —
	// see DESIGN.md for why this implementation only rolls over on the
	// day-ending boundary.)
	nearZero := math.Abs(totalDelta) <= rolloverEpsilon

	if nextStartExceeds || nearZero {
		ps.doRollover(ctx, now)
		return
	}

	if ps.cfg.Playlist.Infinit && lengthSec < 86400 && ps.shouldRecalculateBegin(now) {
		ps.recalculateBegin()
	}

	if ps.current != nil && ps.needsReload(ctx, now) {
		ps.loadCurrent(ctx, now, false)
	}
}

// shouldRecalculateBegin reports whether an infinite sub-24h playlist has
// looped past one full period, per the original's recalculate_begin guard
// (spec SPEC_FULL §12.1).
func (ps *PlaylistSource) shouldRecalculateBegin(now time.Time) bool {
	elapsed := ps.elapsedInDay(now)
	loops := int(elapsed / ps.cfg.Playlist.LengthSec)
	if loops > ps.loopCount {
		ps.loopCount = loops
		return true
	}
	return false
}

func (ps *PlaylistSource) recalculateBegin() {
	if ps.current == nil {
		return
	}
	newStart := float64(ps.loopCount) * ps.cfg.Playlist.LengthSec
	ps.current.SetDefaults(newStart)
}

func (ps *PlaylistSource) needsReload(ctx context.Context, now time.Time) bool {
	date := playlist.TargetDate(now, ps.loc, ps.cfg.Playlist.StartSec, false)
	path := ps.store.PathFor(date)
	if path != ps.current.Path {
		return false // different date on disk is handled by rollover, not reload
	}
	info, err := ps.store.ReadModTime(path)
	if err != nil {
		return false
	}
	return !info.Equal(ps.current.Modified)
}

func (ps *PlaylistSource) doRollover(ctx context.Context, now time.Time) {
	_, _ = ps.fsm.Fire(ctx, EventRollover)
	ps.loadCurrent(ctx, now, true)
	ps.listInit = false
	ps.index = 0
	ps.timeShift = 0
	ps.loopCount = 0
	ps.persistStatus(ctx)
	_, _ = ps.fsm.Fire(ctx, EventResume)
}

func (ps *PlaylistSource) loadCurrent(ctx context.Context, now time.Time, next bool) {
	date := playlist.TargetDate(now, ps.loc, ps.cfg.Playlist.StartSec, next)
	ps.current = ps.store.ReadJSON(ctx, ps.cfg, "", date)
}

func (ps *PlaylistSource) persistStatus(ctx context.Context) {
	if ps.statusStore == nil {
		return
	}
	date := ""
	if ps.current != nil {
		date = ps.current.Date
	}
	_ = ps.statusStore.Put(ctx, ps.cfg.General.ChannelID, &status.Row{
		LastDate:  date,
		TimeShift: ps.timeShift,
		Active:    true,
		UpdatedAt: ps.now(),
	})
}

// initClip implements spec §4.6.2 step 4: resolve current-wall-second to an
// index, clone the item, adjust seek, stamp adjacency, and cap Out at
// total_delta via handleListInit.
func (ps *PlaylistSource) initClip(ctx context.Context, now time.Time) *media.Media {
	elapsed := ps.elapsedInDay(now)
	idx := ps.findIndexForTime(elapsed)
	if idx < 0 || ps.current == nil || len(ps.current.Program) == 0 {
		ps.listInit = false
		return nil
	}

	orig := ps.current.Program[idx]
	m := orig.Clone()
	m.Seek += elapsed - (orig.Begin - ps.timeShift)
	m.LastAd = orig.LastAd
	m.NextAd = orig.NextAd
	ps.index = idx + 1
	ps.listInit = false

	_, totalDelta := ps.getDelta(now)
	ps.handleListInit(m, totalDelta)
	return m
}

// findIndexForTime returns the index i such that
// program[i].begin + program[i].out - program[i].seek > elapsed.
func (ps *PlaylistSource) findIndexForTime(elapsed float64) int {
	if ps.current == nil {
		return -1
	}
	for i, m := range ps.current.Program {
		if m.Begin+m.Out-m.Seek > elapsed {
			return i
		}
	}
	if len(ps.current.Program) > 0 {
		return len(ps.current.Program) - 1
	}
	return -1
}

// handleListInit caps out at total_delta unless the playlist is infinite
// (spec §4.6.2 step 4).
func (ps *PlaylistSource) handleListInit(m *media.Media, totalDelta float64) {
	if !ps.cfg.Playlist.Infinit && m.Out-m.Seek > totalDelta {
		m.Out = m.Seek + totalDelta
	}
	ps.markSkipIfTooShort(m)
}

// handleListEnd computes the final clip's Out from the remaining budget.
func (ps *PlaylistSource) handleListEnd(m *media.Media, totalDelta float64) {
	m.Out = m.Seek + totalDelta
	ps.markSkipIfTooShort(m)
}

func (ps *PlaylistSource) markSkipIfTooShort(m *media.Media) {
	if m.PlayDuration() < minClipLen {
		m.Skip = true
	}
}

// timedSource applies drift correction to a freshly cloned clip (spec
// §4.6.2 step 5): DST detection when the shift is near 3600s, otherwise a
// stop_threshold-gated skip.
func (ps *PlaylistSource) timedSource(ctx context.Context, orig *media.Media, now time.Time) *media.Media {
	m := orig.Clone()
	elapsed := ps.elapsedInDay(now)
	shiftedDelta := (m.Begin + ps.timeShift) - elapsed

	if math.Abs(shiftedDelta) > ps.cfg.General.StopThreshold {
		if math.Abs(math.Abs(shiftedDelta)-3600) <= dstEpsilon {
			ps.timeShift += shiftedDelta
			ps.persistStatus(ctx)
		} else {
			m.Skip = true
			m.Cmd = nil
		}
	}

	m, dup := ps.duplicateForSeekAndLoop(m)
	if dup != nil {
		ps.current.Program = insertAfter(ps.current.Program, ps.index-1, dup)
	}
	return m
}

// duplicateForSeekAndLoop implements spec §4.6.2's edge case: when a clip has
// both seek>0 and out>duration, split it into a truncated play of the
// original file plus a duplicate that covers the remainder of the requested
// span from the top of the file. Grounded on duplicate_for_seek_and_loop in
// the original engine's player/input/playlist.rs, including its seek>duration
// wraparound case (a seek past even the first loop-through).
func (ps *PlaylistSource) duplicateForSeekAndLoop(m *media.Media) (*media.Media, *media.Media) {
	if m.Duration <= 0 || m.Out <= m.Duration {
		return m, nil
	}
	origSeek, origOut := m.Seek, m.Out

	dup := m.Clone()
	dup.Seek = 0

	m.Out = m.Duration

	if m.Seek > m.Duration {
		m.Seek = math.Mod(m.Seek, m.Duration)
		dup.Out = origOut - origSeek - (m.Out - m.Seek)
	} else {
		dup.Out = origOut - m.Duration
	}

	if m.Seek == m.Out {
		m.Seek = dup.Seek
		m.Out = dup.Out
		ps.markSkipIfTooShort(m)
		return m, nil
	}

	ps.markSkipIfTooShort(m)
	if dup.Out-dup.Seek <= 1.2 {
		return m, nil
	}
	dup.Begin += m.Out - m.Seek
	ps.markSkipIfTooShort(dup)
	return m, dup
}

func insertAfter(list []*media.Media, i int, item *media.Media) []*media.Media {
	if i < 0 || i >= len(list) {
		return append(list, item)
	}
	out := make([]*media.Media, 0, len(list)+1)
	out = append(out, list[:i+1]...)
	out = append(out, item)
	out = append(out, list[i+1:]...)
	return out
}

// fillEnd synthesizes a dummy spanning the remaining gap when the current
// playlist is exhausted but the day isn't over (spec §4.6.2 step 6).
func (ps *PlaylistSource) fillEnd(ctx context.Context, totalDelta float64) *media.Media {
	_, _ = ps.fsm.Fire(ctx, EventFillEnd)
	m := ps.filler.dummy(totalDelta)
	m.Category = "fill_end"
	return m
}

// Next drives the full state machine for one clip (spec §4.6.2).
func (ps *PlaylistSource) Next(ctx context.Context) (*media.Media, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.now()

	if ps.current == nil {
		ps.loadCurrent(ctx, now, false)
	}

	ps.checkForPlaylist(ctx, now)

	if ps.listInit {
		_, _ = ps.fsm.Fire(ctx, EventNext)
		m := ps.initClip(ctx, now)
		_, _ = ps.fsm.Fire(ctx, EventResume)
		return m, nil
	}

	if ps.current != nil && ps.index < len(ps.current.Program) {
		orig := ps.current.Program[ps.index]
		ps.index++
		return ps.timedSource(ctx, orig, now), nil
	}

	_, totalDelta := ps.getDelta(now)
	if math.Abs(totalDelta) > fillEndEpsilon {
		return ps.fillEnd(ctx, totalDelta), nil
	}

	ps.doRollover(ctx, now)
	if ps.current == nil || len(ps.current.Program) == 0 {
		return nil, nil
	}
	m := ps.current.Program[0].Clone()
	ps.index = 1
	return m, nil
}

var _ Iterator = (*PlaylistSource)(nil)
