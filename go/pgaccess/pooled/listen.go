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

package pooled

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supabase/pgaccess"
	"github.com/supabase/pgaccess/internal/retry"
	"github.com/supabase/pgaccess/pgerrors"
	"github.com/supabase/pgaccess/subscriber"
)

// transport adapts an Acquire'd *pgxpool.Conn to subscriber.Transport.
// pgx.Conn already implements LISTEN/NOTIFY natively (WaitForNotification),
// unlike the driverpool and embedded backends, so this is a thin wrapper
// rather than a hand-rolled protocol client.
type transport struct {
	acquired *pgxpool.Conn

	// closeOnce guards against a double Release: the unlisten func returned
	// by Listen and the background RunListenLoop goroutine (woken by that
	// same unlisten's cancel) can both reach Close on the same transport,
	// and pgxpool.Conn.Release panics on a second call.
	closeOnce sync.Once
}

func (t *transport) Listen(ctx context.Context, channel string) error {
	_, err := t.acquired.Exec(ctx, "LISTEN "+subscriber.EscapeChannel(channel))
	return err
}

func (t *transport) WaitForNotification(ctx context.Context) (string, error) {
	n, err := t.acquired.Conn().WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

func (t *transport) Close() error {
	t.closeOnce.Do(t.acquired.Release)
	return nil
}

// Listen implements pgaccess.Pool. It dedicates one Acquire'd connection to
// this channel, the way the driverpool and embedded backends each dedicate
// a connection of their own rather than sharing the query path's pool. The
// first connect-and-LISTEN attempt runs synchronously so a failure (bad
// channel name, pool exhaustion, …) is returned from Listen itself; only
// later reconnects run in the background.
func (p *Pool) Listen(ctx context.Context, channel string, onNotify func(string), onError func(error)) (pgaccess.UnlistenFunc, error) {
	var mu sync.Mutex
	var current subscriber.Transport

	connect := func(ctx context.Context) (subscriber.Transport, error) {
		acquired, err := p.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		t := &transport{acquired: acquired}
		mu.Lock()
		current = t
		mu.Unlock()
		return t, nil
	}

	conn, err := subscriber.ConnectAndListen(ctx, channel, connect)
	if err != nil {
		return nil, &pgerrors.ListenError{Channel: channel, Inner: err}
	}
	mu.Lock()
	current = conn
	mu.Unlock()

	listenCtx, cancel := context.WithCancel(context.Background())
	backoff := retry.New(1*time.Second, 30*time.Second)

	go subscriber.RunListenLoop(listenCtx, channel, conn, connect, onNotify, onError, backoff)

	return func() error {
		cancel()
		mu.Lock()
		t := current
		mu.Unlock()
		if t != nil {
			return t.Close()
		}
		return nil
	}, nil
}
