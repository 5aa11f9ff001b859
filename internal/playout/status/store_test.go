// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	got, err := s.Get(ctx, "ch1")
	require.NoError(t, err)
	assert.Nil(t, got)

	row := &Row{LastDate: "2026-08-01", TimeShift: 17.3, Active: true, UpdatedAt: time.Now()}
	require.NoError(t, s.Put(ctx, "ch1", row))

	got, err = s.Get(ctx, "ch1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2026-08-01", got.LastDate)
	assert.Equal(t, 17.3, got.TimeShift)
}

func TestBoltStore_PutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltStore(dir + "/status.bolt")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	row := &Row{LastDate: "2026-08-01", TimeShift: 0, Active: true}
	require.NoError(t, s.Put(ctx, "ch1", row))

	got, err := s.Get(ctx, "ch1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, row.LastDate, got.LastDate)
}

func TestSQLiteStore_PutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSQLiteStore(dir + "/status.sqlite")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	row := &Row{LastDate: "2026-08-01", TimeShift: 3.5, Active: false}
	require.NoError(t, s.Put(ctx, "ch1", row))
	require.NoError(t, s.Put(ctx, "ch1", row)) // upsert path

	got, err := s.Get(ctx, "ch1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, row.LastDate, got.LastDate)
	assert.Equal(t, row.TimeShift, got.TimeShift)

	missing, err := s.Get(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestNewStore_DefaultsToSQLiteWhenDirGiven(t *testing.T) {
	s, err := NewStore("", t.TempDir())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	_, ok := s.(*SQLiteStore)
	assert.True(t, ok)
}

func TestNewStore_UnknownBackendErrors(t *testing.T) {
	_, err := NewStore("redis", t.TempDir())
	assert.Error(t, err)
}
