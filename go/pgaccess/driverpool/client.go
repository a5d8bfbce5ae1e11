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
	"database/sql"

	"github.com/supabase/pgaccess"
	"github.com/supabase/pgaccess/envelope"
	"github.com/supabase/pgaccess/opqueue"
)

// client is the pgaccess.Client handed to a WithPgClient callback. Every
// operation is queued (unconditionally, for this backend), not just
// WithTransaction: database/sql gives no guarantee that a caller won't
// stash this Client and call it from a second goroutine, and c.conn is one
// dedicated *sql.Conn, so Query/QueryNamed need the same serialization as
// WithTransaction to stay safe under that usage.
type client struct {
	pool   *Pool
	conn   *sql.Conn
	handle *pgaccess.ConnHandle
	state  *envelope.State
	queue  opqueue.Queue
}

func (c *client) Query(ctx context.Context, sql string, args ...any) (pgaccess.Rows, error) {
	res, err := c.queue.Do(ctx, func(ctx context.Context) (any, error) {
		return c.pool.lru.Execute(ctx, c.handle, "", sql, args, execOn(c.conn), false)
	})
	if err != nil {
		return nil, err
	}
	return res.(pgaccess.Result).Rows, nil
}

func (c *client) QueryNamed(ctx context.Context, name, sql string, args ...any) (pgaccess.Rows, error) {
	res, err := c.queue.Do(ctx, func(ctx context.Context) (any, error) {
		return c.pool.lru.Execute(ctx, c.handle, name, sql, args, execOn(c.conn), false)
	})
	if err != nil {
		return nil, err
	}
	return res.(pgaccess.Result).Rows, nil
}

func (c *client) WithTransaction(ctx context.Context, fn func(context.Context, pgaccess.Client) (any, error)) (any, error) {
	return c.queue.Do(ctx, func(ctx context.Context) (any, error) {
		return c.state.WithTransaction(ctx, func(ctx context.Context) (any, error) {
			return fn(ctx, c)
		})
	})
}
