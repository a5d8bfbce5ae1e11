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

package wireconn

import (
	"context"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/supabase/pgaccess/subscriber"
)

// Listen implements subscriber.Transport: it issues LISTEN for channel on
// this connection. A Conn used for listening is expected to do nothing
// else — the embedded backend dedicates one connection per subscriber.Transport
// the way the pooled backend dedicates one Acquire'd connection and
// driverpool's pq.Listener holds a connection of its own, rather than
// interleave LISTEN with statement execution.
func (c *Conn) Listen(ctx context.Context, channel string) error {
	return c.Exec(ctx, "LISTEN "+subscriber.EscapeChannel(channel))
}

// WaitForNotification implements subscriber.Transport. It returns a
// notification already buffered by a prior runSimpleQuery call (the
// LISTEN command's own round-trip can observe one interleaved with its
// ReadyForQuery), otherwise blocks until one arrives or ctx is cancelled —
// cancellation closes the connection to unblock the in-flight read.
func (c *Conn) WaitForNotification(ctx context.Context) (string, error) {
	if n, ok := c.popPending(); ok {
		return n.payload, nil
	}

	type result struct {
		payload string
		err     error
	}
	done := make(chan result, 1)

	go func() {
		for {
			msg, err := c.fe.Receive()
			if err != nil {
				done <- result{err: err}
				return
			}
			switch m := msg.(type) {
			case *pgproto3.NotificationResponse:
				done <- result{payload: m.Payload}
				return
			case *pgproto3.ErrorResponse:
				done <- result{err: diagnosticFromError(m)}
				return
			case *pgproto3.ParameterStatus:
				c.serverParams[m.Name] = m.Value
			default:
				// ReadyForQuery can arrive here too, from the LISTEN Exec
				// that preceded this call; everything but a notification or
				// error is ignored on a connection dedicated to listening.
			}
		}
	}()

	select {
	case r := <-done:
		return r.payload, r.err
	case <-ctx.Done():
		_ = c.Close()
		return "", ctx.Err()
	}
}

// deliverNotification buffers a NotificationResponse observed by
// runSimpleQuery (rather than WaitForNotification's own read loop) so
// WaitForNotification can still return it instead of losing it.
func (c *Conn) deliverNotification(m *pgproto3.NotificationResponse) {
	c.pendingMu.Lock()
	c.pending = append(c.pending, notification{channel: m.Channel, payload: m.Payload})
	c.pendingMu.Unlock()
}

func (c *Conn) popPending() (notification, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if len(c.pending) == 0 {
		return notification{}, false
	}
	n := c.pending[0]
	c.pending = c.pending[1:]
	return n, true
}
