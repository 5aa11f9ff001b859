// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xg2g/internal/playout/bus"
	"github.com/ManuGH/xg2g/internal/playout/config"
)

func newTestQueue(cfg config.MailConfig) (*Queue, *[][]byte) {
	sent := &[][]byte{}
	q := New(cfg, bus.NewMemoryBus(), "ch1", "localhost:25", "playout@example.com", nil)
	q.sender = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		*sent = append(*sent, msg)
		return nil
	}
	return q, sent
}

func TestQueue_EnqueueDedupesIdenticalLines(t *testing.T) {
	q, _ := newTestQueue(config.MailConfig{Recipient: "ops@example.com"})
	msg := bus.Message{ChannelID: "ch1", Level: bus.LevelError, Line: "boom", Time: time.Now()}
	q.enqueue(msg)
	q.enqueue(msg)
	assert.Len(t, q.pending, 1)
}

func TestQueue_EnqueueFiltersBelowLevelFilter(t *testing.T) {
	q, _ := newTestQueue(config.MailConfig{Recipient: "ops@example.com", LevelFilter: "error"})
	q.enqueue(bus.Message{ChannelID: "ch1", Level: bus.LevelInfo, Line: "fyi", Time: time.Now()})
	assert.Empty(t, q.pending)

	q.enqueue(bus.Message{ChannelID: "ch1", Level: bus.LevelError, Line: "boom", Time: time.Now()})
	assert.Len(t, q.pending, 1)
}

func TestQueue_Drain_SendsAndClearsPending(t *testing.T) {
	q, sent := newTestQueue(config.MailConfig{Recipient: "ops@example.com"})
	q.enqueue(bus.Message{ChannelID: "ch1", Level: bus.LevelWarning, Line: "low disk", Time: time.Now()})

	require.NoError(t, q.drain())
	assert.Len(t, *sent, 1)
	assert.Empty(t, q.pending)
	assert.Contains(t, string((*sent)[0]), "low disk")
}

func TestQueue_Drain_NoopWhenEmpty(t *testing.T) {
	q, sent := newTestQueue(config.MailConfig{Recipient: "ops@example.com"})
	require.NoError(t, q.drain())
	assert.Empty(t, *sent)
}

func TestQueue_EnqueueCapsAtMaxDedupEntries(t *testing.T) {
	q, _ := newTestQueue(config.MailConfig{Recipient: "ops@example.com"})
	for i := 0; i < maxDedupEntries+10; i++ {
		q.enqueue(bus.Message{ChannelID: "ch1", Level: bus.LevelInfo, Line: fmt.Sprintf("line-%d", i), Time: time.Now()})
	}
	assert.LessOrEqual(t, len(q.pending), maxDedupEntries)
}

func TestQueue_Run_NoopWithoutRecipient(t *testing.T) {
	q, _ := newTestQueue(config.MailConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
