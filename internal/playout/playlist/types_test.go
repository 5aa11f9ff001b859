// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "channel": "Test TV",
  "date": "2026-08-01",
  "program": [
    {"in": 0, "out": 60, "duration": 60, "source": "a.mp4"},
    {"in": 0, "out": 30, "duration": 30, "source": "ad.mp4", "category": "advertisement"},
    {"in": 0, "out": 90, "duration": 90, "source": "b.mp4"}
  ]
}`

func TestParseJSON_SetsBeginAndAdjacency(t *testing.T) {
	jp, err := ParseJSON([]byte(sampleJSON), 0)
	require.NoError(t, err)
	require.Len(t, jp.Program, 3)

	assert.Equal(t, 0.0, jp.Program[0].Begin)
	assert.Equal(t, 60.0, jp.Program[1].Begin)
	assert.Equal(t, 90.0, jp.Program[2].Begin)
	assert.Equal(t, 180.0, jp.Length)

	assert.True(t, jp.Program[0].NextAd, "item before the ad should have next_ad set")
	assert.True(t, jp.Program[2].LastAd, "item after the ad should have last_ad set")
	assert.False(t, jp.Program[1].LastAd)
}

func TestSetDefaults_Idempotent(t *testing.T) {
	jp, err := ParseJSON([]byte(sampleJSON), 10)
	require.NoError(t, err)

	before, err := jp.MarshalJSON()
	require.NoError(t, err)

	jp.SetDefaults(10)
	after, err := jp.MarshalJSON()
	require.NoError(t, err)

	assert.JSONEq(t, string(before), string(after))
}

func TestRoundTrip_WriteThenParseYieldsEqualPlaylist(t *testing.T) {
	jp, err := ParseJSON([]byte(sampleJSON), 0)
	require.NoError(t, err)

	raw, err := jp.MarshalJSON()
	require.NoError(t, err)

	roundTripped, err := ParseJSON(raw, 0)
	require.NoError(t, err)

	assert.True(t, jp.Equal(roundTripped))
}

func TestParseJSON_MissingProgramBecomesSingleDummy(t *testing.T) {
	jp, err := ParseJSON([]byte(`{"channel":"C","date":"2026-08-01"}`), 0)
	require.NoError(t, err)
	require.Len(t, jp.Program, 1)
	assert.Equal(t, "dummy", jp.Program[0].Source)
}
