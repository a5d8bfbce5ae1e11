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
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"
)

// Rows buffers one simple-query result set. The simple query sub-protocol
// sends every DataRow before CommandComplete, so there is no benefit to
// streaming — pgaccess.Rows' Next/Scan/Close shape is implemented over an
// already-complete slice.
type Rows struct {
	columns  []string
	values   [][][]byte
	idx      int
	rowCount int64
}

func newRows(fields []pgproto3.FieldDescription) *Rows {
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = string(f.Name)
	}
	return &Rows{columns: cols, idx: -1}
}

func (r *Rows) addRow(values [][]byte) {
	// DataRow values are only valid for the duration of the Receive call
	// that produced them; pgproto3 reuses its internal buffer, so they must
	// be copied before being retained here.
	copied := make([][]byte, len(values))
	for i, v := range values {
		if v != nil {
			copied[i] = append([]byte(nil), v...)
		}
	}
	r.values = append(r.values, copied)
}

// Next advances to the next row. It follows database/sql's convention:
// call it before the first Scan.
func (r *Rows) Next() bool {
	if r.idx+1 >= len(r.values) {
		return false
	}
	r.idx++
	return true
}

// Scan copies the current row's columns into dest, in column order.
func (r *Rows) Scan(dest ...any) error {
	if r.idx < 0 || r.idx >= len(r.values) {
		return fmt.Errorf("wireconn: Scan called without a valid row")
	}
	row := r.values[r.idx]
	if len(dest) != len(row) {
		return fmt.Errorf("wireconn: Scan got %d destinations for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return fmt.Errorf("wireconn: column %d (%s): %w", i, r.columns[i], err)
		}
	}
	return nil
}

// Err always returns nil: the result set is fully buffered by the time
// Rows is constructed, so there is no later I/O error to surface.
func (r *Rows) Err() error { return nil }

// Close is a no-op; nothing about Rows holds a connection open.
func (r *Rows) Close() error { return nil }

// RowCount is the row count reported by the server's CommandComplete tag.
func (r *Rows) RowCount() int64 { return r.rowCount }

// Columns reports the result set's field names in positional order, or nil
// if the query ran in array mode (see Conn.Execute).
func (r *Rows) Columns() []string { return r.columns }

// assign converts one raw wire value (text-format bytes, or nil for SQL
// NULL) into dest. It covers the destination types this layer's callers
// actually use; anything else is reported as unsupported rather than
// silently truncated.
func assign(dest any, raw []byte) error {
	switch d := dest.(type) {
	case *any:
		if raw == nil {
			*d = nil
		} else {
			*d = string(raw)
		}
		return nil
	case *string:
		*d = string(raw)
		return nil
	case **string:
		if raw == nil {
			*d = nil
			return nil
		}
		s := string(raw)
		*d = &s
		return nil
	case *[]byte:
		*d = raw
		return nil
	case *bool:
		if raw == nil {
			return nil
		}
		v, err := strconv.ParseBool(string(raw))
		if err != nil {
			return err
		}
		*d = v
		return nil
	case *int64:
		if raw == nil {
			return nil
		}
		v, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return err
		}
		*d = v
		return nil
	case *int:
		if raw == nil {
			return nil
		}
		v, err := strconv.Atoi(string(raw))
		if err != nil {
			return err
		}
		*d = v
		return nil
	case *float64:
		if raw == nil {
			return nil
		}
		v, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return err
		}
		*d = v
		return nil
	case *time.Time:
		if raw == nil {
			return nil
		}
		v, err := parseTimestamp(string(raw))
		if err != nil {
			return err
		}
		*d = v
		return nil
	default:
		return fmt.Errorf("unsupported scan destination %T", dest)
	}
}

// parseTimestamp tries the timestamp layouts Postgres' text output format
// actually produces for timestamptz/timestamp columns.
func parseTimestamp(s string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05.999999-07",
		"2006-01-02 15:04:05-07",
		time.RFC3339Nano,
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
