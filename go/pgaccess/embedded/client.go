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

	"github.com/supabase/pgaccess"
	"github.com/supabase/pgaccess/envelope"
	"github.com/supabase/pgaccess/opqueue"
)

// client is the pgaccess.Client handed to a WithPgClient callback. It is
// only valid for the duration of that call — the connection it wraps is
// released (well, since this backend has only one, simply unlocked) when
// the callback returns.
type client struct {
	pool  *Pool
	state *envelope.State

	// queue serializes every operation (unconditionally, for this
	// backend): the single underlying wireconn connection speaks the
	// simple query protocol over one socket, so two sibling Query calls,
	// or a Query concurrent with a WithTransaction, must never interleave
	// their requests and responses on the wire.
	queue opqueue.Queue
}

func (c *client) Query(ctx context.Context, sql string, args ...any) (pgaccess.Rows, error) {
	res, err := c.queue.Do(ctx, func(ctx context.Context) (any, error) {
		return c.pool.lru.Execute(ctx, c.pool.handle, "", sql, args, c.pool.executor(), false)
	})
	if err != nil {
		return nil, err
	}
	return res.(pgaccess.Result).Rows, nil
}

func (c *client) QueryNamed(ctx context.Context, name, sql string, args ...any) (pgaccess.Rows, error) {
	res, err := c.queue.Do(ctx, func(ctx context.Context) (any, error) {
		return c.pool.lru.Execute(ctx, c.pool.handle, name, sql, args, c.pool.executor(), false)
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
