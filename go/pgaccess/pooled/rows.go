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
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"

	"github.com/supabase/pgaccess"
)

// Rows is a fully materialized result set. pgx.Rows only knows its
// CommandTag's row count once every row has been read and the rows closed,
// and lrucache.Executor needs that count alongside the row set rather than
// after it — so every query here is drained into memory the same way
// wireconn's Rows is, instead of streamed lazily.
type Rows struct {
	columns []string
	values  [][]any
	idx     int
}

// materialize drains rows into memory. arrayMode selects whether the
// resulting Rows retains column names for Columns(): false keeps them (the
// default, object-shaped result), true discards them once row count is
// known — the caller only wants Scan's positional values and skips the
// name bookkeeping.
func materialize(rows pgx.Rows, arrayMode bool) (*Rows, int64, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var values [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, 0, err
		}
		values = append(values, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	tag := rows.CommandTag()
	rowCount := tag.RowsAffected()
	if rowCount == 0 && len(values) > 0 {
		rowCount = int64(len(values))
	}

	if arrayMode {
		columns = nil
	}
	return &Rows{columns: columns, values: values}, rowCount, nil
}

// Columns reports the result set's field names in positional order, or nil
// if the query ran in array mode (see materialize).
func (r *Rows) Columns() []string { return r.columns }

func (r *Rows) Next() bool {
	if r.idx >= len(r.values) {
		return false
	}
	r.idx++
	return true
}

// Scan copies row values into dest. pgx has already decoded every column
// into its native Go type (time.Time, string, int64, ...), so this is a
// plain assignment rather than the text-parsing Scan wireconn's Rows needs —
// the one exception is *any, which just receives the value untouched.
func (r *Rows) Scan(dest ...any) error {
	row := r.values[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("pgaccess/pooled: Scan got %d destinations for %d columns", len(dest), len(row))
	}
	for i, raw := range row {
		if err := assign(dest[i], raw); err != nil {
			return fmt.Errorf("pgaccess/pooled: column %d: %w", i, err)
		}
	}
	return nil
}

func assign(dest, raw any) error {
	if a, ok := dest.(*any); ok {
		*a = raw
		return nil
	}
	if raw == nil {
		return nil
	}

	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("destination must be a non-nil pointer, got %T", dest)
	}
	elem := dv.Elem()
	rv := reflect.ValueOf(raw)

	if elem.Kind() == reflect.Ptr {
		if elem.Type().Elem() != rv.Type() {
			return fmt.Errorf("cannot assign %T into %T", raw, dest)
		}
		p := reflect.New(rv.Type())
		p.Elem().Set(rv)
		elem.Set(p)
		return nil
	}

	if rv.Type().AssignableTo(elem.Type()) {
		elem.Set(rv)
		return nil
	}
	if rv.Type().ConvertibleTo(elem.Type()) {
		elem.Set(rv.Convert(elem.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T into %T", raw, dest)
}

func (r *Rows) Err() error   { return nil }
func (r *Rows) Close() error { return nil }

var _ pgaccess.Rows = (*Rows)(nil)
