// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyIngestMarker_InputOpenedTriggersTakeover(t *testing.T) {
	takeover, reject, reason := classifyIngestMarker("Input #0, flv, from 'rtmp://0.0.0.0/live/app'", nil)
	assert.True(t, takeover)
	assert.False(t, reject)
	assert.NotEmpty(t, reason)
}

func TestClassifyIngestMarker_AppMismatchRejectsAndKills(t *testing.T) {
	takeover, reject, reason := classifyIngestMarker("App field don't match up, ignoring connection", nil)
	assert.False(t, takeover)
	assert.True(t, reject)
	assert.NotEmpty(t, reason)
}

func TestClassifyIngestMarker_UnexpectedStreamRejectsAndKills(t *testing.T) {
	takeover, reject, reason := classifyIngestMarker("rtmp: Unexpected stream", nil)
	assert.False(t, takeover)
	assert.True(t, reject)
	assert.NotEmpty(t, reason)
}

func TestClassifyIngestMarker_AppMismatchWhitelistedIsIgnored(t *testing.T) {
	takeover, reject, reason := classifyIngestMarker("App field don't match up: live", []string{"live"})
	assert.False(t, takeover)
	assert.False(t, reject)
	assert.Contains(t, reason, "whitelist")
}

func TestClassifyIngestMarker_UnwhitelistedAppDenied(t *testing.T) {
	takeover, reject, reason := classifyIngestMarker("Input #0, flv, from 'rtmp://0.0.0.0/other'", []string{"live"})
	assert.False(t, takeover)
	assert.False(t, reject)
	assert.Contains(t, reason, "whitelist")
}

func TestClassifyIngestMarker_WhitelistedAppAllowed(t *testing.T) {
	takeover, reject, _ := classifyIngestMarker("Input #0, flv, from 'rtmp://0.0.0.0/live'", []string{"live"})
	assert.True(t, takeover)
	assert.False(t, reject)
}

func TestClassifyIngestMarker_UnrelatedLineIsNoop(t *testing.T) {
	takeover, reject, reason := classifyIngestMarker("frame=   10 fps=25", nil)
	assert.False(t, takeover)
	assert.False(t, reject)
	assert.Empty(t, reason)
}

func TestListenAddr(t *testing.T) {
	assert.Equal(t, "0.0.0.0:1935", listenAddr("rtmp://0.0.0.0/live"))
	assert.Equal(t, "example.com:1936", listenAddr("rtmp://example.com:1936/live/app"))
	assert.Equal(t, "", listenAddr(""))
}
