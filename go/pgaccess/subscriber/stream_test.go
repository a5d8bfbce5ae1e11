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
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerNextReturnsBacklogBeforeBlocking(t *testing.T) {
	top := newTopicState("t1", slog.Default(), time.Second)
	c := newConsumer(top)

	c.push("a")
	c.push("b")

	payload, ok, err := c.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", payload)

	payload, ok, err = c.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", payload)
}

func TestConsumerNextParksThenResolvesOnPush(t *testing.T) {
	top := newTopicState("t1", slog.Default(), time.Second)
	c := newConsumer(top)

	result := make(chan string, 1)
	go func() {
		payload, ok, err := c.Next(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		result <- payload
	}()

	time.Sleep(10 * time.Millisecond)
	c.push("hello")

	select {
	case payload := <-result:
		assert.Equal(t, "hello", payload)
	case <-time.After(time.Second):
		t.Fatal("Next never resolved")
	}
}

func TestConsumerCloseResolvesParkedWaitersWithDone(t *testing.T) {
	top := newTopicState("t1", slog.Default(), time.Second)
	c := newConsumer(top)
	top.consumers = []*consumer{c}

	result := make(chan bool, 1)
	go func() {
		_, ok, err := c.Next(context.Background())
		require.NoError(t, err)
		result <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next never resolved after Close")
	}
}

func TestConsumerNextHonorsContextCancellation(t *testing.T) {
	top := newTopicState("t1", slog.Default(), time.Second)
	c := newConsumer(top)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok, err := c.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConsumerPushAfterFinishIsDropped(t *testing.T) {
	top := newTopicState("t1", slog.Default(), time.Second)
	c := newConsumer(top)
	top.consumers = []*consumer{c}

	require.NoError(t, c.Close())
	c.push("too late")

	_, ok, err := c.Next(context.Background())
	assert.False(t, ok)
	assert.NoError(t, err)
}
