// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PlayoutClipSpawnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_playout_clip_spawns_total",
		Help: "Total number of clips spawned by the process supervisor, by channel",
	}, []string{"channel"})

	PlayoutClipSkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_playout_clip_skips_total",
		Help: "Total number of clips marked skip=true by the source iterator, by channel",
	}, []string{"channel"})

	PlayoutFillerSubstitutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_playout_filler_substitutions_total",
		Help: "Total number of gen_source filler substitutions, by channel and kind",
	}, []string{"channel", "kind"})

	PlayoutIngestTakeoversTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_playout_ingest_takeovers_total",
		Help: "Total number of live-ingest takeovers of the playlist decoder, by channel",
	}, []string{"channel"})

	PlayoutDSTCorrectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_playout_dst_corrections_total",
		Help: "Total number of DST time_shift corrections applied, by channel",
	}, []string{"channel"})

	PlayoutMailQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xg2g_playout_mail_queue_depth",
		Help: "Current number of pending formatted lines in the mail queue, by channel",
	}, []string{"channel"})

	PlayoutBusDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_playout_bus_drop_total",
		Help: "Total number of playout event bus message drops, by topic and reason",
	}, []string{"topic", "reason"})
)

// IncPlayoutBusDropReason records a dropped playout bus message with a
// concrete reason; an empty topic or reason is recorded as "unknown".
func IncPlayoutBusDropReason(topic, reason string) {
	if topic == "" {
		topic = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	PlayoutBusDropsTotal.WithLabelValues(topic, reason).Inc()
}
