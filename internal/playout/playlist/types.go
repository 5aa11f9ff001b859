// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playlist holds JsonPlaylist (spec §3, §6), its loader
// (PlaylistStore / read_json, spec §4.3), and the background Validator
// (spec §4.4).
package playlist

import (
	"encoding/json"
	"time"

	"github.com/ManuGH/xg2g/internal/playout/media"
)

// Item is the on-disk representation of one program entry (spec §6). The
// runtime-only fields (begin, index, last_ad, next_ad, skip, filter) are not
// persisted and live only on the expanded media.Media.
type Item struct {
	In           float64 `json:"in"`
	Out          float64 `json:"out"`
	Duration     float64 `json:"duration"`
	Source       string  `json:"source"`
	Title        string  `json:"title,omitempty"`
	Category     string  `json:"category,omitempty"`
	CustomFilter string  `json:"custom_filter,omitempty"`
	Audio        string  `json:"audio,omitempty"`
}

// doc is the raw JSON document shape (spec §6).
type doc struct {
	Channel string `json:"channel"`
	Date    string `json:"date"`
	Program []Item `json:"program"`
}

// JsonPlaylist is the in-memory document for a single calendar date.
type JsonPlaylist struct {
	Channel string
	Date    string // YYYY-MM-DD
	Program []*media.Media

	// Non-persisted.
	StartSec float64
	Length   float64
	Path     string
	Modified time.Time
}

// MarshalJSON emits the persisted subset (spec §6): channel, date, program,
// with each program entry reduced back to its Item shape.
func (j *JsonPlaylist) MarshalJSON() ([]byte, error) {
	items := make([]Item, len(j.Program))
	for i, m := range j.Program {
		items[i] = Item{
			In:           m.Seek,
			Out:          m.Out,
			Duration:     m.Duration,
			Source:       m.Source,
			Category:     m.Category,
			CustomFilter: m.CustomFilter,
			Audio:        m.Audio,
		}
	}
	return json.Marshal(doc{Channel: j.Channel, Date: j.Date, Program: items})
}

// ParseJSON decodes raw JSON bytes into a JsonPlaylist with SetDefaults
// already applied, so begin/index/length are populated before the caller
// sees it (spec §4.3 step 4).
func ParseJSON(raw []byte, startSec float64) (*JsonPlaylist, error) {
	var d doc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	if len(d.Program) == 0 {
		d.Program = []Item{{Out: 60, Duration: 60, Source: "dummy"}}
	}

	jp := &JsonPlaylist{Channel: d.Channel, Date: d.Date}
	jp.Program = make([]*media.Media, len(d.Program))
	for i, it := range d.Program {
		m := media.New(i, it.Source)
		m.Seek = it.In
		m.Out = it.Out
		m.Duration = it.Duration
		m.Category = it.Category
		m.CustomFilter = it.CustomFilter
		m.Audio = it.Audio
		jp.Program[i] = m
	}
	jp.SetDefaults(startSec)
	return jp, nil
}

// SetDefaults assigns begin/index across the program, clears per-item
// runtime flags, and computes Length. It is idempotent (spec §8):
// SetDefaults(SetDefaults(J)) == SetDefaults(J).
func (j *JsonPlaylist) SetDefaults(startSec float64) {
	j.StartSec = startSec
	begin := startSec
	for i, m := range j.Program {
		m.Index = i
		m.Begin = begin
		m.Skip = false
		m.LastAd = i > 0 && j.Program[i-1].Category == "advertisement"
		m.NextAd = i+1 < len(j.Program) && j.Program[i+1].Category == "advertisement"
		begin += m.PlayDuration()
	}
	j.Length = begin - startSec
}

// Equal implements the persisted-field equality spec §8's round-trip
// property is defined against: (channel, date, program) only.
func (j *JsonPlaylist) Equal(other *JsonPlaylist) bool {
	if j.Channel != other.Channel || j.Date != other.Date {
		return false
	}
	if len(j.Program) != len(other.Program) {
		return false
	}
	for i := range j.Program {
		a, b := j.Program[i], other.Program[i]
		if a.Source != b.Source || a.Seek != b.Seek || a.Out != b.Out ||
			a.Duration != b.Duration || a.Category != b.Category ||
			a.CustomFilter != b.CustomFilter || a.Audio != b.Audio {
			return false
		}
	}
	return true
}
