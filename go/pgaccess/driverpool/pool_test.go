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

package driverpool

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supabase/pgaccess"
	"github.com/supabase/pgaccess/pgerrors"
)

// testDSN skips rather than fakes a database/sql + lib/pq round trip,
// since lib/pq's own wire handling (simple vs extended protocol selection,
// startup parameters) is exactly what these tests need to exercise
// faithfully.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("skipping test that requires database (set PG_TEST_DSN to enable)")
	}
	return dsn
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	pool, err := New(pgaccess.Config{DriverPool: &pgaccess.DriverPoolConfig{DSN: testDSN(t), MaxOpenConns: 2}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Release() })
	return pool.(*Pool)
}

func TestWithPgClientQueryRoundTrip(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	result, err := pool.WithPgClient(ctx, nil, func(ctx context.Context, c pgaccess.Client) (any, error) {
		rows, err := c.Query(ctx, "SELECT 1")
		require.NoError(t, err)
		require.True(t, rows.Next())
		var v int64
		require.NoError(t, rows.Scan(&v))
		return v, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result)
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	boom := assert.AnError
	_, err := pool.WithPgClient(ctx, nil, func(ctx context.Context, c pgaccess.Client) (any, error) {
		return c.WithTransaction(ctx, func(ctx context.Context, c pgaccess.Client) (any, error) {
			_, qerr := c.Query(ctx, "SELECT 1")
			require.NoError(t, qerr)
			return nil, boom
		})
	})
	assert.ErrorIs(t, err, boom)
}

func TestWithPgClientAppliesTransactionLocalSettings(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	result, err := pool.WithPgClient(ctx, map[string]string{"application_name": "pgaccess-driverpool-test"}, func(ctx context.Context, c pgaccess.Client) (any, error) {
		rows, err := c.Query(ctx, "SHOW application_name")
		require.NoError(t, err)
		require.True(t, rows.Next())
		var v string
		require.NoError(t, rows.Scan(&v))
		return v, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "pgaccess-driverpool-test", result)
}

func TestListenDeliversNotification(t *testing.T) {
	pool := newTestPool(t)

	received := make(chan string, 1)
	unlisten, err := pool.Listen(context.Background(), "pgaccess_driverpool_test", func(payload string) {
		received <- payload
	}, func(error) {})
	require.NoError(t, err)
	defer unlisten()

	time.Sleep(100 * time.Millisecond)

	_, err = pool.WithPgClient(context.Background(), nil, func(ctx context.Context, c pgaccess.Client) (any, error) {
		_, err := c.Query(ctx, "SELECT pg_notify('pgaccess_driverpool_test', 'hello')")
		return nil, err
	})
	require.NoError(t, err)

	select {
	case payload := <-received:
		assert.Equal(t, "hello", payload)
	case <-time.After(5 * time.Second):
		t.Fatal("did not receive notification")
	}
}

func TestUnlistenCalledTwiceIsANoOp(t *testing.T) {
	pool := newTestPool(t)

	unlisten, err := pool.Listen(context.Background(), "pgaccess_driverpool_test_twice", func(string) {}, func(error) {})
	require.NoError(t, err)

	require.NoError(t, unlisten())
	assert.NotPanics(t, func() { _ = unlisten() })
}

func TestListenOverPrebuiltDBIsNotSupported(t *testing.T) {
	dsn := testDSN(t)
	_ = dsn // prebuilt path needs a *sql.DB opened from the same DSN

	base, err := New(pgaccess.Config{DriverPool: &pgaccess.DriverPoolConfig{DSN: dsn}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Release() })

	prebuiltPool, err := New(pgaccess.Config{DriverPool: &pgaccess.DriverPoolConfig{Prebuilt: base.(*Pool).db}})
	require.NoError(t, err)

	_, err = prebuiltPool.Listen(context.Background(), "events", func(string) {}, func(error) {})
	assert.ErrorIs(t, err, pgerrors.ErrNotSupported)
}

func TestReleaseTwiceReturnsErrDoubleRelease(t *testing.T) {
	pool := newTestPool(t)
	require.NoError(t, pool.Release())
	assert.ErrorIs(t, pool.Release(), pgerrors.ErrDoubleRelease)
}

func TestPoolSizeReflectsMaxOpenConns(t *testing.T) {
	pool := newTestPool(t)
	assert.Equal(t, 2, pool.PoolSize())
}

func TestNewRequiresDSNOrPrebuilt(t *testing.T) {
	_, err := New(pgaccess.Config{DriverPool: &pgaccess.DriverPoolConfig{}})
	assert.Error(t, err)
}

func TestNewRequiresDriverPoolConfig(t *testing.T) {
	_, err := New(pgaccess.Config{})
	assert.Error(t, err)
}
