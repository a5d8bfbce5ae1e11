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

package subscriber

import (
	"container/list"
	"context"
	"sync"
)

// Stream is one consumer's view of a topic's notification payloads.
type Stream interface {
	// Next blocks until a payload is available, the stream is finished
	// (ok=false, err=nil unless the subscriber was released with an error),
	// or ctx is cancelled.
	Next(ctx context.Context) (payload string, ok bool, err error)

	// Close marks the stream finished, resolving any parked Next call with
	// ok=false, and detaches it from its topic. If it was the topic's last
	// consumer, the topic's LISTEN is torn down after the grace window.
	Close() error
}

type waiterResult struct {
	payload string
	ok      bool
	err     error
}

// consumer is one subscriber's handle to a topic's notification stream.
// Invariant: backlog is non-empty only if waiters is empty and
// vice versa — push only ever appends to one of the two.
type consumer struct {
	topic *topicState

	mu       sync.Mutex
	backlog  *list.List // of string
	waiters  *list.List // of chan waiterResult
	finished bool
	finishErr error
}

func newConsumer(t *topicState) *consumer {
	return &consumer{
		topic:   t,
		backlog: list.New(),
		waiters: list.New(),
	}
}

// push delivers a payload to this consumer: resolves the head parked
// waiter if one exists, else appends to the backlog.
func (c *consumer) push(payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	if front := c.waiters.Front(); front != nil {
		c.waiters.Remove(front)
		ch := front.Value.(chan waiterResult)
		ch <- waiterResult{payload: payload, ok: true}
		return
	}
	c.backlog.PushBack(payload)
}

// finish marks the stream done and resolves every parked waiter with done.
func (c *consumer) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.finished = true
	c.finishErr = err
	for e := c.waiters.Front(); e != nil; e = e.Next() {
		ch := e.Value.(chan waiterResult)
		ch <- waiterResult{ok: false, err: err}
	}
	c.waiters.Init()
}

func (c *consumer) Next(ctx context.Context) (string, bool, error) {
	c.mu.Lock()
	if front := c.backlog.Front(); front != nil {
		c.backlog.Remove(front)
		payload := front.Value.(string)
		c.mu.Unlock()
		return payload, true, nil
	}
	if c.finished {
		err := c.finishErr
		c.mu.Unlock()
		return "", false, err
	}

	ch := make(chan waiterResult, 1)
	elem := c.waiters.PushBack(ch)
	c.mu.Unlock()

	select {
	case res := <-ch:
		return res.payload, res.ok, res.err
	case <-ctx.Done():
		c.mu.Lock()
		c.waiters.Remove(elem)
		c.mu.Unlock()
		return "", false, ctx.Err()
	}
}

func (c *consumer) Close() error {
	c.finish(nil)
	c.topic.removeConsumer(c)
	return nil
}
