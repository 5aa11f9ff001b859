// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"fmt"
	"sync"
)

// State is one PlaylistSource operational state (spec §4.6.2).
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateRunning       State = "running"
	StateFillEnd       State = "fill_end"
	StateRollover      State = "rollover"
)

// Event names the transition trigger.
type Event string

const (
	EventNext     Event = "next"
	EventRollover Event = "rollover"
	EventFillEnd  Event = "fill_end"
	EventResume   Event = "resume"
	EventReset    Event = "reset"
)

// transition describes a single edge in the FSM. Guard may reject the
// transition; Action performs side-effects. Adapted from the teacher's
// generic internal/pipeline/fsm.Machine, without the v3 build tag since the
// playlist source is exercised unconditionally here.
type transition struct {
	From   State
	Event  Event
	To     State
	Guard  func(ctx context.Context, from State, event Event) error
	Action func(ctx context.Context, from, to State, event Event) error
}

// machine is a small, test-friendly FSM runner. Unknown transitions are errors.
type machine struct {
	mu    sync.Mutex
	state State
	index map[string]transition
}

func newMachine(initial State, transitions []transition) (*machine, error) {
	idx := make(map[string]transition, len(transitions))
	for _, t := range transitions {
		k := fsmKey(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", t.From, t.Event)
		}
		idx[k] = t
	}
	return &machine{state: initial, index: idx}, nil
}

func (m *machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire attempts to apply an event atomically.
func (m *machine) Fire(ctx context.Context, event Event) (State, error) {
	m.mu.Lock()
	from := m.state
	t, ok := m.index[fsmKey(from, event)]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("invalid transition: state=%s event=%s", from, event)
	}
	to := t.To
	m.mu.Unlock()

	if t.Guard != nil {
		if err := t.Guard(ctx, from, event); err != nil {
			return from, err
		}
	}
	if t.Action != nil {
		if err := t.Action(ctx, from, to, event); err != nil {
			return from, err
		}
	}

	m.mu.Lock()
	if m.state != from {
		cur := m.state
		m.mu.Unlock()
		return cur, fmt.Errorf("concurrent transition detected: from=%s cur=%s event=%s", from, cur, event)
	}
	m.state = to
	m.mu.Unlock()
	return to, nil
}

func fsmKey(s State, e Event) string {
	return string(s) + "|" + string(e)
}

// playlistSourceTransitions enumerates the state machine spec §4.6.2 draws:
// Uninitialized -> Initializing -> Running -> Fill-end -> Rollover -> Initializing.
func playlistSourceTransitions() []transition {
	return []transition{
		{From: StateUninitialized, Event: EventNext, To: StateInitializing},
		{From: StateInitializing, Event: EventResume, To: StateRunning},
		{From: StateInitializing, Event: EventRollover, To: StateRollover},
		{From: StateRunning, Event: EventNext, To: StateRunning},
		{From: StateRunning, Event: EventFillEnd, To: StateFillEnd},
		{From: StateRunning, Event: EventRollover, To: StateRollover},
		{From: StateFillEnd, Event: EventNext, To: StateFillEnd},
		{From: StateFillEnd, Event: EventRollover, To: StateRollover},
		{From: StateRollover, Event: EventResume, To: StateInitializing},
		{From: StateRunning, Event: EventReset, To: StateInitializing},
		{From: StateFillEnd, Event: EventReset, To: StateInitializing},
		{From: StateInitializing, Event: EventReset, To: StateInitializing},
	}
}
