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

package embedded

import (
	"context"
	"sync"
	"time"

	"github.com/supabase/pgaccess"
	"github.com/supabase/pgaccess/embedded/wireconn"
	"github.com/supabase/pgaccess/internal/retry"
	"github.com/supabase/pgaccess/pgerrors"
	"github.com/supabase/pgaccess/subscriber"
)

// Listen implements pgaccess.Pool. It dedicates a fresh *wireconn.Conn to
// this one channel — separate from the pool's single query connection —
// so a consumer blocked in WaitForNotification never contends with
// execMu. A pool built over a caller-supplied *wireconn.Conn (no DSN to
// redial from) cannot dedicate a second connection and reports
// ErrNotSupported. The first connect-and-LISTEN attempt runs synchronously
// so a failure is returned from Listen itself; only later reconnects run
// in the background.
func (p *Pool) Listen(ctx context.Context, channel string, onNotify func(string), onError func(error)) (pgaccess.UnlistenFunc, error) {
	if !p.ownsDriver {
		return nil, pgerrors.ErrNotSupported
	}

	var mu sync.Mutex
	var current subscriber.Transport

	connect := func(ctx context.Context) (subscriber.Transport, error) {
		conn, err := wireconn.Connect(ctx, p.dialCfg)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		current = conn
		mu.Unlock()
		return conn, nil
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
