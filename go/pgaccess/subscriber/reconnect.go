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

	"github.com/supabase/pgaccess/internal/retry"
)

// Transport is the minimal dedicated-connection contract a backend's LISTEN
// support drives: issue LISTEN for one channel, read the next notification,
// and close. A backend's Listen implementation supplies a connect function
// that dials this out of a fresh physical connection on every reconnect.
type Transport interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (payload string, err error)
	Close() error
}

// ConnectAndListen performs one connect-and-LISTEN attempt synchronously.
// Callers use it to obtain the transport RunListenLoop then drives, so an
// initial-connection failure is returned to the Listen caller directly
// rather than only surfacing later through onError.
func ConnectAndListen(ctx context.Context, channel string, connect func(ctx context.Context) (Transport, error)) (Transport, error) {
	conn, err := connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.Listen(ctx, channel); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// RunListenLoop drives WaitForNotification on conn — already connected and
// LISTENing, normally via ConnectAndListen — until ctx is cancelled. On any
// connection error after that it calls onError and reconnects with
// exponential backoff (min(1000·2^n, 30000) ms) via connect/Listen;
// reconnect errors never stop the loop or reach onNotify's caller as a
// failure — the listener keeps buffering waiters.
func RunListenLoop(
	ctx context.Context,
	channel string,
	conn Transport,
	connect func(ctx context.Context) (Transport, error),
	onNotify func(payload string),
	onError func(error),
	backoff *retry.Backoff,
) {
	for ctx.Err() == nil {
		if conn == nil {
			if err := backoff.StartAttempt(ctx); err != nil {
				return
			}

			c, err := connect(ctx)
			if err != nil {
				onError(err)
				continue
			}

			if err := c.Listen(ctx, channel); err != nil {
				onError(err)
				c.Close()
				continue
			}
			backoff.Reset()
			conn = c
		}

		for {
			payload, err := conn.WaitForNotification(ctx)
			if err != nil {
				conn.Close()
				conn = nil
				if ctx.Err() != nil {
					return
				}
				onError(err)
				break
			}
			onNotify(payload)
		}
	}
}
