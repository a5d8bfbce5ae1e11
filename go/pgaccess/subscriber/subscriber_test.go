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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supabase/pgaccess"
	"github.com/supabase/pgaccess/pgerrors"
)

// fakePool is a minimal pgaccess.Pool whose Listen counts LISTEN/UNLISTEN
// calls per channel and lets the test deliver notifications directly.
type fakePool struct {
	mu         sync.Mutex
	listens    map[string]int
	unlistens  map[string]int
	onNotify   map[string]func(string)
}

func newFakePool() *fakePool {
	return &fakePool{listens: map[string]int{}, unlistens: map[string]int{}, onNotify: map[string]func(string){}}
}

func (p *fakePool) WithPgClient(ctx context.Context, settings map[string]string, fn func(context.Context, pgaccess.Client) (any, error)) (any, error) {
	panic("not used by these tests")
}

func (p *fakePool) WithSuperuserPgClient(ctx context.Context, settings map[string]string, fn func(context.Context, pgaccess.Client) (any, error)) (any, error) {
	panic("not used by these tests")
}

func (p *fakePool) Listen(ctx context.Context, channel string, onNotify func(string), onError func(error)) (pgaccess.UnlistenFunc, error) {
	p.mu.Lock()
	p.listens[channel]++
	p.onNotify[channel] = onNotify
	p.mu.Unlock()

	return func() error {
		p.mu.Lock()
		p.unlistens[channel]++
		p.mu.Unlock()
		return nil
	}, nil
}

func (p *fakePool) PoolSize() int    { return 1 }
func (p *fakePool) Release() error   { return nil }

func (p *fakePool) notify(channel, payload string) {
	p.mu.Lock()
	fn := p.onNotify[channel]
	p.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

func TestSubscribeIssuesExactlyOneListenForMultipleConsumers(t *testing.T) {
	pool := newFakePool()
	sub := New(pool)

	s1, err := sub.Subscribe(context.Background(), "ch1")
	require.NoError(t, err)
	s2, err := sub.Subscribe(context.Background(), "ch1")
	require.NoError(t, err)

	pool.mu.Lock()
	assert.Equal(t, 1, pool.listens["ch1"])
	pool.mu.Unlock()

	pool.notify("ch1", "hello")

	for _, s := range []Stream{s1, s2} {
		payload, ok, err := s.Next(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "hello", payload)
	}
}

func TestCloseLastConsumerTearsDownListenAfterGraceWindow(t *testing.T) {
	pool := newFakePool()
	sub := New(pool)
	sub.testMode = true // 500ms grace window instead of 5s

	s1, err := sub.Subscribe(context.Background(), "ch1")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	pool.mu.Lock()
	assert.Equal(t, 0, pool.unlistens["ch1"])
	pool.mu.Unlock()

	assert.Eventually(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return pool.unlistens["ch1"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResubscribeWithinGraceWindowReusesListen(t *testing.T) {
	pool := newFakePool()
	sub := New(pool)
	sub.testMode = true

	s1, err := sub.Subscribe(context.Background(), "ch1")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := sub.Subscribe(context.Background(), "ch1")
	require.NoError(t, err)
	defer s2.Close()

	pool.mu.Lock()
	assert.Equal(t, 1, pool.listens["ch1"])
	pool.mu.Unlock()

	time.Sleep(700 * time.Millisecond)
	pool.mu.Lock()
	assert.Equal(t, 0, pool.unlistens["ch1"])
	pool.mu.Unlock()
}

func TestReleaseFinishesStreamsAndUnlistensEverything(t *testing.T) {
	pool := newFakePool()
	sub := New(pool)

	s1, err := sub.Subscribe(context.Background(), "ch1")
	require.NoError(t, err)
	s2, err := sub.Subscribe(context.Background(), "ch2")
	require.NoError(t, err)

	require.NoError(t, sub.Release())

	for _, s := range []Stream{s1, s2} {
		_, ok, err := s.Next(context.Background())
		assert.False(t, ok)
		assert.NoError(t, err)
	}

	pool.mu.Lock()
	assert.Equal(t, 1, pool.unlistens["ch1"])
	assert.Equal(t, 1, pool.unlistens["ch2"])
	pool.mu.Unlock()

	_, err = sub.Subscribe(context.Background(), "ch3")
	assert.ErrorIs(t, err, pgerrors.ErrSubscriberReleased)
}

func TestReleaseTwiceFails(t *testing.T) {
	sub := New(newFakePool())
	require.NoError(t, sub.Release())
	assert.ErrorIs(t, sub.Release(), pgerrors.ErrSubscriberReleased)
}

func TestNotificationDeliveredToEveryConsumer(t *testing.T) {
	pool := newFakePool()
	sub := New(pool)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	streams := make([]Stream, 3)
	for i := range streams {
		s, err := sub.Subscribe(context.Background(), "ch1")
		require.NoError(t, err)
		streams[i] = s
	}

	for i, s := range streams {
		wg.Add(1)
		go func(i int, s Stream) {
			defer wg.Done()
			_, ok, err := s.Next(context.Background())
			require.NoError(t, err)
			require.True(t, ok)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i, s)
	}

	time.Sleep(10 * time.Millisecond)
	pool.notify("ch1", "x")
	wg.Wait()

	assert.ElementsMatch(t, []int{0, 1, 2}, order)
}
