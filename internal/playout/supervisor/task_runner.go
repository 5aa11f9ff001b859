// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"encoding/json"
	"os/exec"

	"github.com/ManuGH/xg2g/internal/log"
	"github.com/ManuGH/xg2g/internal/playout/media"
)

// taskPayload mirrors the original's get_data_map/get_media_map JSON blob:
// enough of the current clip's state for an external script to act on.
type taskPayload struct {
	ChannelID string  `json:"channel_id"`
	Index     int     `json:"index"`
	Source    string  `json:"source"`
	Category  string  `json:"category"`
	Seek      float64 `json:"seek"`
	Out       float64 `json:"out"`
	Duration  float64 `json:"duration"`
}

// runTask fires the configured external task runner for m, fire-and-forget
// (spec §6 "Task runner"): spawned once the clip has begun playing, its
// exit code is logged, never propagated back into clip playback. Disabled
// unless cfg.Task.Enable and cfg.Task.Path are both set.
func (s *ProcessSupervisor) runTask(m *media.Media) {
	if !s.cfg.Task.Enable || s.cfg.Task.Path == "" {
		return
	}

	logger := log.WithComponent("playout.supervisor").With().
		Str("channel", s.cfg.General.ChannelID).Str("task", s.cfg.Task.Path).Logger()

	blob, err := json.Marshal(taskPayload{
		ChannelID: s.cfg.General.ChannelID,
		Index:     m.Index,
		Source:    m.Source,
		Category:  m.Category,
		Seek:      m.Seek,
		Out:       m.Out,
		Duration:  m.Duration,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode task payload")
		return
	}

	cmd := exec.Command(s.cfg.Task.Path, string(blob))
	if err := cmd.Run(); err != nil {
		logger.Error().Err(err).Msg("task runner exited with error")
		return
	}
	logger.Debug().Msg("task runner completed")
}
