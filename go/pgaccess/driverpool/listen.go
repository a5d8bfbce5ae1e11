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
	"errors"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/supabase/pgaccess"
	"github.com/supabase/pgaccess/pgerrors"
)

var errPossibleMissedNotifications = errors.New("pgaccess/driverpool: reconnected; notifications sent while disconnected may have been missed")

// Listen implements pgaccess.Pool over lib/pq's own pq.Listener, which
// already owns a dedicated connection and its own exponential-backoff
// reconnect loop — there is no reason to layer subscriber.RunListenLoop's
// generic reconnect driver (used by pooled and embedded, whose transports
// have no such thing built in) on top of it. A pool built over a caller-
// supplied *sql.DB has no DSN of its own to open a second connection with,
// so it reports ErrNotSupported the way embedded does for a Prebuilt conn.
func (p *Pool) Listen(ctx context.Context, channel string, onNotify func(string), onError func(error)) (pgaccess.UnlistenFunc, error) {
	if !p.ownsDriver {
		return nil, pgerrors.ErrNotSupported
	}

	listener := pq.NewListener(p.dsn, 1*time.Second, 30*time.Second, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			onError(err)
		}
	})

	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, &pgerrors.ListenError{Channel: channel, Inner: err}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				if n == nil {
					// pq sends a nil notification after a silent reconnect
					// to signal that notifications may have been missed
					// while disconnected; there is nothing to replay, so
					// this is just a diagnostic opportunity.
					onError(errPossibleMissedNotifications)
					continue
				}
				onNotify(n.Extra)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var unlistenOnce sync.Once
	return func() error {
		var closeErr error
		unlistenOnce.Do(func() {
			close(done)
			_ = listener.Unlisten(channel)
			closeErr = listener.Close()
		})
		return closeErr
	}, nil
}
