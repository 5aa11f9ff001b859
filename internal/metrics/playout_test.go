// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getCounterVecValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, vec.WithLabelValues(labels...).Write(metric))
	return metric.GetCounter().GetValue()
}

func getGaugeVecValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, vec.WithLabelValues(labels...).Write(metric))
	return metric.GetGauge().GetValue()
}

func TestPlayoutClipSpawnsTotal_IncrementsPerChannel(t *testing.T) {
	before := getCounterVecValue(t, PlayoutClipSpawnsTotal, "ch-metrics-test")
	PlayoutClipSpawnsTotal.WithLabelValues("ch-metrics-test").Inc()
	after := getCounterVecValue(t, PlayoutClipSpawnsTotal, "ch-metrics-test")
	assert.Equal(t, before+1, after)
}

func TestPlayoutFillerSubstitutionsTotal_LabelsByKind(t *testing.T) {
	PlayoutFillerSubstitutionsTotal.WithLabelValues("ch-metrics-test", "color").Inc()
	PlayoutFillerSubstitutionsTotal.WithLabelValues("ch-metrics-test", "loop").Inc()
	PlayoutFillerSubstitutionsTotal.WithLabelValues("ch-metrics-test", "loop").Inc()

	assert.Equal(t, float64(1), getCounterVecValue(t, PlayoutFillerSubstitutionsTotal, "ch-metrics-test", "color"))
	assert.Equal(t, float64(2), getCounterVecValue(t, PlayoutFillerSubstitutionsTotal, "ch-metrics-test", "loop"))
}

func TestPlayoutMailQueueDepth_SetAndReset(t *testing.T) {
	PlayoutMailQueueDepth.WithLabelValues("ch-metrics-test").Set(4)
	assert.Equal(t, float64(4), getGaugeVecValue(t, PlayoutMailQueueDepth, "ch-metrics-test"))

	PlayoutMailQueueDepth.WithLabelValues("ch-metrics-test").Set(0)
	assert.Equal(t, float64(0), getGaugeVecValue(t, PlayoutMailQueueDepth, "ch-metrics-test"))
}
