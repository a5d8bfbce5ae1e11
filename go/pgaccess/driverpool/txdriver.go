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
)

// txDriver adapts a *sql.Conn to envelope.TxDriver. As in the pooled
// backend, envelope issues its own BEGIN/SAVEPOINT/COMMIT text, so this
// needs only a plain Exec/QueryRow round-trip over the checked-out
// connection, not database/sql's own *sql.Tx.
type txDriver struct {
	conn *sql.Conn
}

func (d *txDriver) Exec(ctx context.Context, query string, args ...any) error {
	_, err := d.conn.ExecContext(ctx, query, args...)
	return err
}

func (d *txDriver) QueryScalar(ctx context.Context, query string, args ...any) (*string, error) {
	row := d.conn.QueryRowContext(ctx, query, args...)
	var v *string
	if err := row.Scan(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// execOn adapts a *sql.Conn to lrucache.Executor.
func execOn(conn *sql.Conn) func(ctx context.Context, sql string, args []any, arrayMode bool) (pgaccess.Rows, int64, error) {
	return func(ctx context.Context, sqlText string, args []any, arrayMode bool) (pgaccess.Rows, int64, error) {
		rows, err := conn.QueryContext(ctx, sqlText, args...)
		if err != nil {
			return nil, 0, err
		}
		return materialize(rows, arrayMode)
	}
}
