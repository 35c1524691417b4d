// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"log/slog"
	"sync"
)

// broker fans envelopes out to the connections subscribed to a topic.
// Purely in-memory, like presence: a restart loses nothing that the
// peers cannot re-establish by reconnecting.
type broker struct {
	logger *slog.Logger

	mu     sync.Mutex
	topics map[string]map[chan Envelope]struct{}
	owners map[string]*topicOwner
}

// topicOwner records which account a live principal's own channel
// topic belongs to. Refcounted: a principal with two connections keeps
// one entry.
type topicOwner struct {
	accountID string
	refs      int
}

func newBroker(logger *slog.Logger) *broker {
	return &broker{
		logger: logger,
		topics: make(map[string]map[chan Envelope]struct{}),
		owners: make(map[string]*topicOwner),
	}
}

// registerOwner marks a principal's own channel topic as live in the
// given account, so directed publishes to it can be account-checked.
// Returns the release function.
func (b *broker) registerOwner(topic, accountID string) (release func()) {
	b.mu.Lock()
	owner, ok := b.owners[topic]
	if !ok {
		owner = &topicOwner{accountID: accountID}
		b.owners[topic] = owner
	}
	owner.refs++
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		owner.refs--
		if owner.refs == 0 && b.owners[topic] == owner {
			delete(b.owners, topic)
		}
		b.mu.Unlock()
	}
}

// ownerAccount reports the account of a live own-channel topic.
func (b *broker) ownerAccount(topic string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	owner, ok := b.owners[topic]
	if !ok {
		return "", false
	}
	return owner.accountID, true
}

// subscribe registers a delivery channel for a topic and returns the
// unsubscribe function. The channel is owned by the caller and is
// never closed by the broker.
func (b *broker) subscribe(topic string, channel chan Envelope) (unsubscribe func()) {
	b.mu.Lock()
	subscribers, ok := b.topics[topic]
	if !ok {
		subscribers = make(map[chan Envelope]struct{})
		b.topics[topic] = subscribers
	}
	subscribers[channel] = struct{}{}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(subscribers, channel)
		if len(subscribers) == 0 {
			delete(b.topics, topic)
		}
		b.mu.Unlock()
	}
}

// publish delivers an envelope to every subscriber of its topic.
// Non-blocking: a subscriber whose channel is full loses the envelope,
// mirroring the presence tracker's lag policy.
func (b *broker) publish(envelope Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for channel := range b.topics[envelope.Topic] {
		select {
		case channel <- envelope:
		default:
			b.logger.Warn("subscriber lagging, message dropped",
				"topic", envelope.Topic,
			)
		}
	}
}
