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
)

// txDriver adapts a *pgx.Conn to envelope.TxDriver. envelope issues its own
// BEGIN/SAVEPOINT/COMMIT/ROLLBACK text rather than using pgx.Tx, so the
// driver only needs a plain Exec/QueryRow round-trip, not pgx's own
// transaction type.
type txDriver struct {
	conn *pgx.Conn
}

func (d *txDriver) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := d.conn.Exec(ctx, sql, args...)
	return err
}

func (d *txDriver) QueryScalar(ctx context.Context, sql string, args ...any) (*string, error) {
	row := d.conn.QueryRow(ctx, sql, args...)
	var v *string
	if err := row.Scan(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// execOn adapts a *pgx.Conn to lrucache.Executor, for use both by the LRU
// manager's ordinary query path and by BeforeClose's own teardown DEALLOCATEs.
func execOn(conn *pgx.Conn) func(ctx context.Context, sql string, args []any, arrayMode bool) (pgaccess.Rows, int64, error) {
	return func(ctx context.Context, sql string, args []any, arrayMode bool) (pgaccess.Rows, int64, error) {
		rows, err := conn.Query(ctx, sql, args...)
		if err != nil {
			return nil, 0, err
		}
		return materialize(rows, arrayMode)
	}
}
