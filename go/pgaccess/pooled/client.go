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

	"github.com/jackc/pgx/v5"

	"github.com/supabase/pgaccess"
	"github.com/supabase/pgaccess/envelope"
)

// client is the pgaccess.Client handed to a WithPgClient callback. Unlike
// driverpool and embedded, this backend does not route WithTransaction
// through an opqueue.Queue: the acquired *pgx.Conn is exclusive to this one
// WithPgClient call for its whole duration, so there is no second caller
// that could ever share this client concurrently.
type client struct {
	pool  *Pool
	conn  *pgx.Conn
	state *envelope.State
}

func (c *client) Query(ctx context.Context, sql string, args ...any) (pgaccess.Rows, error) {
	res, err := c.pool.lru.Execute(ctx, c.pool.handleFor(c.conn), "", sql, args, execOn(c.conn), false)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

func (c *client) QueryNamed(ctx context.Context, name, sql string, args ...any) (pgaccess.Rows, error) {
	res, err := c.pool.lru.Execute(ctx, c.pool.handleFor(c.conn), name, sql, args, execOn(c.conn), false)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

func (c *client) WithTransaction(ctx context.Context, fn func(context.Context, pgaccess.Client) (any, error)) (any, error) {
	return c.state.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx, c)
	})
}
