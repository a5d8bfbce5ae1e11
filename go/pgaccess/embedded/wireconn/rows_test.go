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
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fields(names ...string) []pgproto3.FieldDescription {
	fds := make([]pgproto3.FieldDescription, len(names))
	for i, n := range names {
		fds[i] = pgproto3.FieldDescription{Name: []byte(n)}
	}
	return fds
}

func TestRowsNextAndScanIterateInOrder(t *testing.T) {
	r := newRows(fields("id", "name"))
	r.addRow([][]byte{[]byte("1"), []byte("alice")})
	r.addRow([][]byte{[]byte("2"), []byte("bob")})

	var id int
	var name string

	require.True(t, r.Next())
	require.NoError(t, r.Scan(&id, &name))
	assert.Equal(t, 1, id)
	assert.Equal(t, "alice", name)

	require.True(t, r.Next())
	require.NoError(t, r.Scan(&id, &name))
	assert.Equal(t, 2, id)
	assert.Equal(t, "bob", name)

	assert.False(t, r.Next())
	assert.NoError(t, r.Err())
	assert.NoError(t, r.Close())
}

func TestRowsColumnsReportsFieldNames(t *testing.T) {
	r := newRows(fields("id", "name"))
	assert.Equal(t, []string{"id", "name"}, r.Columns())
}

func TestRowsScanBeforeNextFails(t *testing.T) {
	r := newRows(fields("id"))
	r.addRow([][]byte{[]byte("1")})
	var id int
	err := r.Scan(&id)
	assert.Error(t, err)
}

func TestRowsScanWrongDestinationCountFails(t *testing.T) {
	r := newRows(fields("id", "name"))
	r.addRow([][]byte{[]byte("1"), []byte("alice")})
	require.True(t, r.Next())
	var id int
	err := r.Scan(&id)
	assert.Error(t, err)
}

func TestRowsAddRowCopiesValues(t *testing.T) {
	r := newRows(fields("v"))
	buf := []byte("mutate-me")
	r.addRow([][]byte{buf})
	buf[0] = 'X'

	require.True(t, r.Next())
	var s string
	require.NoError(t, r.Scan(&s))
	assert.Equal(t, "mutate-me", s)
}

func TestRowsAddRowPreservesNullColumns(t *testing.T) {
	r := newRows(fields("v"))
	r.addRow([][]byte{nil})
	require.True(t, r.Next())

	var sp *string
	require.NoError(t, r.Scan(&sp))
	assert.Nil(t, sp)
}

func TestAssignAny(t *testing.T) {
	var dest any
	require.NoError(t, assign(&dest, []byte("hello")))
	assert.Equal(t, "hello", dest)

	require.NoError(t, assign(&dest, nil))
	assert.Nil(t, dest)
}

func TestAssignString(t *testing.T) {
	var dest string
	require.NoError(t, assign(&dest, []byte("hello")))
	assert.Equal(t, "hello", dest)
}

func TestAssignStringPointer(t *testing.T) {
	var dest *string
	require.NoError(t, assign(&dest, []byte("hi")))
	require.NotNil(t, dest)
	assert.Equal(t, "hi", *dest)

	dest = nil
	require.NoError(t, assign(&dest, nil))
	assert.Nil(t, dest)
}

func TestAssignBytes(t *testing.T) {
	var dest []byte
	require.NoError(t, assign(&dest, []byte("raw")))
	assert.Equal(t, []byte("raw"), dest)
}

func TestAssignBool(t *testing.T) {
	var dest bool
	require.NoError(t, assign(&dest, []byte("t")))
	assert.True(t, dest)

	require.NoError(t, assign(&dest, []byte("false")))
	assert.False(t, dest)

	assert.Error(t, assign(&dest, []byte("not-a-bool")))
}

func TestAssignInt64AndInt(t *testing.T) {
	var i64 int64
	require.NoError(t, assign(&i64, []byte("9223372036854775807")))
	assert.Equal(t, int64(9223372036854775807), i64)

	var i int
	require.NoError(t, assign(&i, []byte("42")))
	assert.Equal(t, 42, i)

	assert.Error(t, assign(&i, []byte("not-an-int")))
}

func TestAssignFloat64(t *testing.T) {
	var f float64
	require.NoError(t, assign(&f, []byte("3.14")))
	assert.InDelta(t, 3.14, f, 0.0001)
}

func TestAssignNilRawLeavesNumericZeroValue(t *testing.T) {
	var i int
	require.NoError(t, assign(&i, nil))
	assert.Equal(t, 0, i)
}

func TestAssignUnsupportedDestination(t *testing.T) {
	var dest chan int
	err := assign(&dest, []byte("x"))
	assert.Error(t, err)
}

func TestAssignTimeParsesEachSupportedLayout(t *testing.T) {
	cases := []string{
		"2024-01-02 15:04:05.123456-07",
		"2024-01-02 15:04:05-07",
		"2024-01-02T15:04:05.123456789Z",
	}
	for _, s := range cases {
		var ts time.Time
		require.NoError(t, assign(&ts, []byte(s)), "layout for %q", s)
		assert.False(t, ts.IsZero())
	}
}

func TestAssignTimeRejectsUnparseableValue(t *testing.T) {
	var ts time.Time
	assert.Error(t, assign(&ts, []byte("not-a-timestamp")))
}
