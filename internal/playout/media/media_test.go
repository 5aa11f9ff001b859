// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"testing"

	"github.com/ManuGH/xg2g/internal/playout/probe"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormAbsPath_NeverEscapesRoot(t *testing.T) {
	root := "/media/channel1"

	cases := map[string]string{
		"clips/a.mp4":          "/media/channel1/clips/a.mp4",
		"../../etc/passwd":     "/media/channel1",
		"../../../../etc/shadow": "/media/channel1",
		"":                     "/media/channel1",
		"/clips/a.mp4":         "/media/channel1/clips/a.mp4",
	}

	for in, want := range cases {
		got := NormAbsPath(root, in)
		assert.Equal(t, want, got, "input %q", in)
	}
}

func TestMedia_ValidAndPlayDuration(t *testing.T) {
	m := New(0, "a.mp4")
	m.Seek = 2
	m.Out = 12
	require.True(t, m.Valid())
	assert.Equal(t, 10.0, m.PlayDuration())

	m.Seek = 20
	assert.False(t, m.Valid())
}

func TestMedia_AddProbe_NoSidecarAudioWhenFileMissing(t *testing.T) {
	m := New(0, "testdata/silent.mp4")
	p := &probe.Probe{FormatDuration: 30}
	m.AddProbe(p, true)

	assert.Equal(t, 30.0, m.Duration)
	assert.Empty(t, m.Audio, "no sidecar file exists on disk, so none should be adopted")
}

func TestMedia_Clone_IsIndependentDeepCopy(t *testing.T) {
	m := New(3, "a.mp4")
	m.Seek = 2
	m.Out = 12
	m.Cmd = []string{"-ss", "2", "-i", "a.mp4"}
	m.CustomFilter = "eq=brightness=0.1"

	clone := m.Clone()
	if diff := cmp.Diff(m, clone); diff != "" {
		t.Fatalf("clone diverged from source before mutation (-want +got):\n%s", diff)
	}

	clone.Cmd[0] = "-mutated"
	clone.Out = 99
	assert.Equal(t, "-ss", m.Cmd[0], "mutating the clone's slice must not alias the original")
	assert.Equal(t, 12.0, m.Out, "mutating the clone's scalar must not affect the original")
}
