// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mail implements MailQueue (spec §4.9): it subscribes to the
// playout bus, deduplicates repeated lines, and drains a digest email on
// a fixed interval. No SMTP client library appears anywhere in the
// reference pack (grep across every go.mod turns up nothing), so sending
// is built on net/smtp directly — see DESIGN.md for that justification.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/xg2g/internal/log"
	"github.com/ManuGH/xg2g/internal/metrics"
	"github.com/ManuGH/xg2g/internal/playout/bus"
	"github.com/ManuGH/xg2g/internal/playout/config"
)

// maxDedupEntries bounds the pending-message set so a noisy channel can't
// grow the queue unbounded between drains (spec §4.9: "bounded dedup set,
// capacity 1000").
const maxDedupEntries = 1000

// levelRank orders bus.Level so LevelFilter can reject anything below the
// configured threshold (spec: "level promotion Info -> {Info,Warn,Error}").
var levelRank = map[bus.Level]int{
	bus.LevelInfo:    0,
	bus.LevelWarning: 1,
	bus.LevelError:   2,
	bus.LevelFatal:   3,
}

// Sender abstracts the SMTP send call so tests can capture mail without a
// real server.
type Sender func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Queue subscribes to a bus topic, deduplicates lines, and flushes a
// digest email every cfg.Mail.Interval.
type Queue struct {
	cfg    config.MailConfig
	bus    bus.Bus
	topic  string
	sender Sender
	from   string
	smtp   string // host:port
	auth   smtp.Auth

	mu        sync.Mutex
	pending   map[string]bus.Message
	order     []string
	channelID string
}

// New returns a Queue that will subscribe to topic on b and send digest
// mail via smtpAddr using from as the envelope sender.
func New(cfg config.MailConfig, b bus.Bus, topic, smtpAddr, from string, auth smtp.Auth) *Queue {
	return &Queue{
		cfg:     cfg,
		bus:     b,
		topic:   topic,
		sender:  smtp.SendMail,
		from:    from,
		smtp:    smtpAddr,
		auth:    auth,
		pending: make(map[string]bus.Message),
	}
}

// Run subscribes to the bus and drains accumulated messages every
// cfg.Interval until ctx is canceled.
func (q *Queue) Run(ctx context.Context) error {
	logger := log.WithComponent("playout.mail")
	if q.cfg.Recipient == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	sub, err := q.bus.Subscribe(ctx, q.topic)
	if err != nil {
		return fmt.Errorf("mail queue subscribe: %w", err)
	}
	defer sub.Close()

	interval := q.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-sub.C():
			q.enqueue(msg)
		case <-ticker.C:
			if err := q.drain(); err != nil {
				logger.Error().Err(err).Msg("failed to send mail digest")
			}
		}
	}
}

// enqueue dedupes by "<level>|<line>" and promotes nothing below
// cfg.LevelFilter, dropping the oldest entry once the set is full.
func (q *Queue) enqueue(msg bus.Message) {
	if !q.passesFilter(msg.Level) {
		return
	}
	key := string(msg.Level) + "|" + msg.Line

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.pending[key]; exists {
		return
	}
	if len(q.pending) >= maxDedupEntries {
		oldest := q.order[0]
		q.order = q.order[1:]
		delete(q.pending, oldest)
	}
	q.pending[key] = msg
	q.order = append(q.order, key)
	q.channelID = msg.ChannelID
	metrics.PlayoutMailQueueDepth.WithLabelValues(msg.ChannelID).Set(float64(len(q.pending)))
}

func (q *Queue) passesFilter(level bus.Level) bool {
	if q.cfg.LevelFilter == "" {
		return true
	}
	want, ok := levelRank[bus.Level(q.cfg.LevelFilter)]
	if !ok {
		return true
	}
	got, ok := levelRank[level]
	if !ok {
		return true
	}
	return got >= want
}

// drain formats and sends a digest of every pending message, then clears
// the set. A drain with nothing pending is a no-op.
func (q *Queue) drain() error {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}
	msgs := make([]bus.Message, 0, len(q.pending))
	for _, key := range q.order {
		msgs = append(msgs, q.pending[key])
	}
	channelID := q.channelID
	q.pending = make(map[string]bus.Message)
	q.order = nil
	q.mu.Unlock()

	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Time.Before(msgs[j].Time) })

	body := formatDigest(msgs)
	subject := fmt.Sprintf("Subject: playout digest (%d events)\r\n\r\n", len(msgs))
	payload := []byte(subject + body)

	metrics.PlayoutMailQueueDepth.WithLabelValues(channelID).Set(0)
	if q.sender == nil || q.smtp == "" {
		return nil
	}
	return q.sender(q.smtp, q.auth, q.from, []string{q.cfg.Recipient}, payload)
}

func formatDigest(msgs []bus.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s] %s %s\n", strings.ToUpper(string(m.Level)), m.Time.Format(time.RFC3339), m.Line)
	}
	return b.String()
}
