// Copyright 2026 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package subscriber implements LISTEN/NOTIFY fan-out over a pgaccess.Pool:
// multiple Subscribe callers for the same topic share a single physical
// LISTEN, each getting its own ordered Stream of payloads.
package subscriber

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/supabase/pgaccess"
	"github.com/supabase/pgaccess/pgerrors"
)

// topicState tracks every consumer registered for one channel, plus the
// lifecycle of the single physical LISTEN backing them.
type topicState struct {
	name  string
	log   *slog.Logger
	grace time.Duration

	mu         sync.Mutex
	consumers  []*consumer // registration order
	unlisten   pgaccess.UnlistenFunc
	graceTimer *time.Timer
	onEmptyExpired func() // invoked once the grace window elapses with no new subscriber
}

func newTopicState(name string, log *slog.Logger, grace time.Duration) *topicState {
	return &topicState{name: name, log: log, grace: grace}
}

// deliver fans a notification out to every registered consumer, in
// registration order.
func (t *topicState) deliver(payload string) {
	t.mu.Lock()
	consumers := make([]*consumer, len(t.consumers))
	copy(consumers, t.consumers)
	t.mu.Unlock()

	for _, c := range consumers {
		c.push(payload)
	}
}

// onConnError is the subscriber's on_error callback for Pool.Listen: spec
// §4.7 requires connection errors to reach the caller without failing any
// consumer stream.
func (t *topicState) onConnError(err error) {
	t.log.Warn("listen connection error, reconnecting", "topic", t.name, "error", err)
}

func (t *topicState) removeConsumer(c *consumer) {
	t.mu.Lock()
	for i, existing := range t.consumers {
		if existing == c {
			t.consumers = append(t.consumers[:i], t.consumers[i+1:]...)
			break
		}
	}
	empty := len(t.consumers) == 0
	t.mu.Unlock()

	if empty {
		t.scheduleTeardown()
	}
}

func (t *topicState) scheduleTeardown() {
	t.mu.Lock()
	if len(t.consumers) != 0 {
		t.mu.Unlock()
		return
	}
	if t.graceTimer != nil {
		t.graceTimer.Stop()
	}
	t.graceTimer = time.AfterFunc(t.grace, func() {
		t.mu.Lock()
		stillEmpty := len(t.consumers) == 0
		unlisten := t.unlisten
		if stillEmpty {
			t.unlisten = nil
			t.graceTimer = nil
		}
		t.mu.Unlock()

		if !stillEmpty || unlisten == nil {
			return
		}
		if err := unlisten(); err != nil {
			t.log.Warn("unlisten failed", "topic", t.name, "error", err)
		}
		if t.onEmptyExpired != nil {
			t.onEmptyExpired()
		}
	})
	t.mu.Unlock()
}

// releaseAll finishes every consumer and tears down the LISTEN immediately
// (no grace window — the subscriber itself is going away).
func (t *topicState) releaseAll() {
	t.mu.Lock()
	if t.graceTimer != nil {
		t.graceTimer.Stop()
		t.graceTimer = nil
	}
	consumers := t.consumers
	t.consumers = nil
	unlisten := t.unlisten
	t.unlisten = nil
	t.mu.Unlock()

	for _, c := range consumers {
		c.finish(nil)
	}
	if unlisten != nil {
		if err := unlisten(); err != nil {
			t.log.Warn("unlisten failed during release", "topic", t.name, "error", err)
		}
	}
}

// Subscriber is the LISTEN/NOTIFY fan-out layer over a pgaccess.Pool.
type Subscriber struct {
	pool pgaccess.Pool
	log  *slog.Logger
	testMode bool

	mu       sync.Mutex
	topics   map[string]*topicState
	released bool
}

// Option configures a Subscriber at construction.
type Option func(*Subscriber)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Subscriber) {
		if l != nil {
			s.log = l
		}
	}
}

// New wraps pool in a LISTEN/NOTIFY fan-out Subscriber.
func New(pool pgaccess.Pool, opts ...Option) *Subscriber {
	s := &Subscriber{
		pool:     pool,
		log:      slog.Default(),
		testMode: pgaccess.IsTestMode(),
		topics:   map[string]*topicState{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe returns a Stream of payloads for topic. The first Subscribe for
// a topic opens the underlying LISTEN via Pool.Listen; later ones for the
// same topic attach to the existing one.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (Stream, error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil, pgerrors.ErrSubscriberReleased
	}
	t, ok := s.topics[topic]
	if !ok {
		t = newTopicState(topic, s.log, pgaccess.ListenConnectionGraceWindow(s.testMode))
		t.onEmptyExpired = func() {
			s.mu.Lock()
			if cur, ok := s.topics[topic]; ok && cur == t {
				delete(s.topics, topic)
			}
			s.mu.Unlock()
		}
		s.topics[topic] = t
	}
	s.mu.Unlock()

	c := newConsumer(t)

	t.mu.Lock()
	needsListen := len(t.consumers) == 0 && t.unlisten == nil
	if t.graceTimer != nil {
		t.graceTimer.Stop()
		t.graceTimer = nil
	}
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()

	if needsListen {
		unlisten, err := s.pool.Listen(ctx, topic, t.deliver, t.onConnError)
		if err != nil {
			t.removeConsumer(c)
			return nil, err
		}
		t.mu.Lock()
		t.unlisten = unlisten
		t.mu.Unlock()
	}

	return c, nil
}

// Release marks the subscriber dead, finishes every outstanding stream,
// tears down every LISTEN, and rejects future Subscribe calls. A second
// call returns pgerrors.ErrSubscriberReleased.
func (s *Subscriber) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return pgerrors.ErrSubscriberReleased
	}
	s.released = true
	topics := make([]*topicState, 0, len(s.topics))
	for _, t := range s.topics {
		topics = append(topics, t)
	}
	s.topics = map[string]*topicState{}
	s.mu.Unlock()

	for _, t := range topics {
		t.releaseAll()
	}
	return nil
}
