// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"io"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
	"time"
)

// Meta is the per-connection metadata carried with a presence entry.
// It exists for dashboards and diff consumers; the tracker itself
// never inspects it.
type Meta struct {
	// Name is the principal's display name at connect time.
	Name string

	// RemoteIP is the resolved origin address of the connection.
	RemoteIP netip.Addr

	// Version is the connlib version the connection reported.
	Version string

	// OnlineAt is when the connection was tracked.
	OnlineAt time.Time
}

// Entry pairs a principal with the metadata of one of its connections.
type Entry struct {
	PrincipalID string
	Meta        Meta
}

// Diff describes one topology change on a topic. Joins are principals
// whose connection count went from zero to one; leaves went from one
// to zero. Intermediate count changes (second connection of the same
// principal) produce no diff.
type Diff struct {
	Topic  string
	Joins  []Entry
	Leaves []Entry
}

// Tracker is the process-wide presence registry. Safe for concurrent
// use. Each topic's state is guarded by its own lock and mutated
// serially, so diffs on one topic are totally ordered; no ordering
// holds across topics.
type Tracker struct {
	logger     *slog.Logger
	bufferSize int

	mu     sync.Mutex
	topics map[string]*topicState
}

// Config configures a Tracker.
type Config struct {
	// Logger receives warnings about lagging subscribers. If nil, a
	// no-op logger is used.
	Logger *slog.Logger

	// SubscriptionBuffer is the per-subscriber diff channel capacity.
	// A subscriber that falls further behind loses diffs (counted on
	// the subscription). Defaults to 64 if zero.
	SubscriptionBuffer int
}

// NewTracker creates an empty presence tracker.
func NewTracker(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	bufferSize := cfg.SubscriptionBuffer
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Tracker{
		logger:     logger,
		bufferSize: bufferSize,
		topics:     make(map[string]*topicState),
	}
}

// topicState owns one topic's connection table and subscriber set.
// All mutation happens under mu, which is what serializes joins and
// leaves and gives diffs their per-topic order.
type topicState struct {
	name    string
	tracker *Tracker

	mu          sync.Mutex
	connections map[*Guard]Entry
	counts      map[string]int
	subscribers map[*Subscription]struct{}
}

// Guard represents one tracked connection on one topic. Release is
// idempotent: however many teardown paths call it, the connection is
// untracked exactly once.
type Guard struct {
	once  sync.Once
	topic *topicState
	self  *Guard
}

// Release untracks the connection. The first call emits the leave
// diff if this was the principal's last connection on the topic;
// subsequent calls are no-ops.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.topic.untrack(g.self)
	})
}

// Track registers a connection for principalID on the topic and
// returns the Guard that untracks it. If this is the principal's first
// connection on the topic, subscribers receive a join diff before
// Track returns.
func (t *Tracker) Track(topic, principalID string, meta Meta) *Guard {
	state := t.topic(topic, true)

	guard := &Guard{topic: state}
	guard.self = guard

	state.mu.Lock()
	state.connections[guard] = Entry{PrincipalID: principalID, Meta: meta}
	state.counts[principalID]++
	first := state.counts[principalID] == 1
	if first {
		state.broadcast(Diff{
			Topic: topic,
			Joins: []Entry{{PrincipalID: principalID, Meta: meta}},
		})
	}
	state.mu.Unlock()

	return guard
}

// List returns the distinct principals currently online on the topic,
// sorted for stable output. Returns nil for an unknown topic.
func (t *Tracker) List(topic string) []string {
	state := t.topic(topic, false)
	if state == nil {
		return nil
	}

	state.mu.Lock()
	ids := make([]string, 0, len(state.counts))
	for id := range state.counts {
		ids = append(ids, id)
	}
	state.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Subscribe registers for join/leave diffs on the topic. Diffs arrive
// on the subscription's C channel in the order the tracker processed
// the underlying events. Call Close when done.
func (t *Tracker) Subscribe(topic string) *Subscription {
	state := t.topic(topic, true)

	sub := &Subscription{
		topic:   state,
		channel: make(chan Diff, t.bufferSize),
	}
	sub.C = sub.channel

	state.mu.Lock()
	state.subscribers[sub] = struct{}{}
	state.mu.Unlock()

	return sub
}

// Subscription is one subscriber's view of a topic's diff stream.
type Subscription struct {
	// C delivers diffs. Closed by Close.
	C <-chan Diff

	topic   *topicState
	channel chan Diff

	mu      sync.Mutex
	closed  bool
	dropped int
}

// Close unregisters the subscription and closes C. Idempotent.
func (s *Subscription) Close() {
	s.topic.mu.Lock()
	delete(s.topic.subscribers, s)
	s.topic.mu.Unlock()
	s.topic.maybeCollect()

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.channel)
	}
	s.mu.Unlock()
}

// Dropped reports how many diffs were discarded because the
// subscriber's channel was full.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// topic returns the state for a topic, creating it when create is set.
func (t *Tracker) topic(name string, create bool) *topicState {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.topics[name]
	if !ok && create {
		state = &topicState{
			name:        name,
			tracker:     t,
			connections: make(map[*Guard]Entry),
			counts:      make(map[string]int),
			subscribers: make(map[*Subscription]struct{}),
		}
		t.topics[name] = state
	}
	return state
}

// untrack removes one connection and emits the leave diff when the
// principal's count reaches zero.
func (s *topicState) untrack(guard *Guard) {
	s.mu.Lock()
	entry, ok := s.connections[guard]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.connections, guard)

	s.counts[entry.PrincipalID]--
	last := s.counts[entry.PrincipalID] == 0
	if last {
		delete(s.counts, entry.PrincipalID)
		s.broadcast(Diff{
			Topic:  s.name,
			Leaves: []Entry{entry},
		})
	}
	s.mu.Unlock()

	s.maybeCollect()
}

// broadcast sends a diff to every subscriber without blocking. Called
// with s.mu held, which is what gives diffs their per-topic order. A
// full subscriber channel drops the diff; the subscriber can detect
// the gap via Dropped and re-List.
func (s *topicState) broadcast(diff Diff) {
	for sub := range s.subscribers {
		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			continue
		}
		select {
		case sub.channel <- diff:
		default:
			sub.dropped++
			s.tracker.logger.Warn("presence subscriber lagging, diff dropped",
				"topic", s.name,
				"dropped_total", sub.dropped,
			)
		}
		sub.mu.Unlock()
	}
}

// maybeCollect removes the topic from the tracker once it has no
// connections and no subscribers, so abandoned topics do not
// accumulate.
func (s *topicState) maybeCollect() {
	s.tracker.mu.Lock()
	defer s.tracker.mu.Unlock()

	s.mu.Lock()
	empty := len(s.connections) == 0 && len(s.subscribers) == 0
	s.mu.Unlock()

	if empty && s.tracker.topics[s.name] == s {
		delete(s.tracker.topics, s.name)
	}
}
