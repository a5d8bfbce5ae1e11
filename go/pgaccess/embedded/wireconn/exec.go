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
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/supabase/pgaccess"
)

// runSimpleQuery sends sql over the simple query sub-protocol and buffers
// the resulting rows. A statement text may contain several ;-separated
// statements; only the last RowDescription/CommandComplete pair's row
// count is kept, matching what a single logical call site here ever
// issues (this layer never sends compound statements of its own).
func (c *Conn) runSimpleQuery(ctx context.Context, sql string) (*Rows, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("wireconn: connection is closed")
	}

	c.fe.Send(&pgproto3.Query{String: sql})
	if err := c.fe.Flush(); err != nil {
		return nil, fmt.Errorf("wireconn: send query: %w", err)
	}

	var rows *Rows
	var queryErr error

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := c.fe.Receive()
		if err != nil {
			return nil, fmt.Errorf("wireconn: receive: %w", err)
		}

		switch m := msg.(type) {
		case *pgproto3.RowDescription:
			rows = newRows(m.Fields)
		case *pgproto3.DataRow:
			if rows == nil {
				rows = newRows(nil)
			}
			rows.addRow(m.Values)
		case *pgproto3.CommandComplete:
			if rows == nil {
				rows = newRows(nil)
			}
			rows.rowCount = parseRowCount(m.CommandTag)
		case *pgproto3.EmptyQueryResponse:
			if rows == nil {
				rows = newRows(nil)
			}
		case *pgproto3.ErrorResponse:
			queryErr = diagnosticFromError(m)
		case *pgproto3.ParameterStatus:
			c.serverParams[m.Name] = m.Value
		case *pgproto3.NotificationResponse:
			c.deliverNotification(m)
		case *pgproto3.ReadyForQuery:
			c.txStatus = m.TxStatus
			if queryErr != nil {
				return nil, queryErr
			}
			if rows == nil {
				rows = newRows(nil)
			}
			return rows, nil
		default:
			// NoticeResponse and anything else is not actionable here.
		}
	}
}

// parseRowCount extracts the row count from a CommandComplete tag such as
// "SELECT 3", "UPDATE 1", or "INSERT 0 1". PREPARE/DEALLOCATE/BEGIN-style
// tags carry no count and report 0.
func parseRowCount(tag []byte) int64 {
	fields := strings.Fields(string(tag))
	if len(fields) == 0 {
		return 0
	}
	last := fields[len(fields)-1]
	n, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Exec implements envelope.TxDriver.
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := c.runSimpleQuery(ctx, inlineArgs(sql, args))
	return err
}

// QueryScalar implements envelope.TxDriver: it runs sql and returns the
// first row's first column, or nil if the result set is empty or the
// value is SQL NULL.
func (c *Conn) QueryScalar(ctx context.Context, sql string, args ...any) (*string, error) {
	rows, err := c.runSimpleQuery(ctx, inlineArgs(sql, args))
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		return nil, nil
	}
	var value *string
	if err := rows.Scan(&value); err != nil {
		return nil, err
	}
	return value, nil
}

// Query runs sql and returns the full row set, for pgaccess.Client.Query's
// unnamed/uncached path.
func (c *Conn) Query(ctx context.Context, sql string, args ...any) (pgaccess.Rows, error) {
	rows, err := c.runSimpleQuery(ctx, inlineArgs(sql, args))
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Execute adapts Conn to lrucache.Executor: it inlines args into sql
// (PREPARE/EXECUTE/DEALLOCATE text the LRU manager builds, plus any
// short-circuited $N-parameterized text) and runs it as a simple query.
// arrayMode discards the field names newRows collected off the wire once
// the row count is known, for a caller that only wants Scan's positional
// values — see Rows.Columns.
func (c *Conn) Execute(ctx context.Context, sql string, args []any, arrayMode bool) (pgaccess.Rows, int64, error) {
	rows, err := c.runSimpleQuery(ctx, inlineArgs(sql, args))
	if err != nil {
		return nil, 0, err
	}
	if arrayMode {
		rows.columns = nil
	}
	return rows, rows.RowCount(), nil
}
