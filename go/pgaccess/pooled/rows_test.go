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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowsNextAndScanIterateInOrder(t *testing.T) {
	r := &Rows{columns: []string{"id", "name"}, values: [][]any{
		{int64(1), "alice"},
		{int64(2), "bob"},
	}}

	var id int64
	var name string

	require.True(t, r.Next())
	require.NoError(t, r.Scan(&id, &name))
	assert.Equal(t, int64(1), id)
	assert.Equal(t, "alice", name)

	require.True(t, r.Next())
	require.NoError(t, r.Scan(&id, &name))
	assert.Equal(t, int64(2), id)
	assert.Equal(t, "bob", name)

	assert.False(t, r.Next())
}

func TestRowsColumnsReportsFieldNames(t *testing.T) {
	r := &Rows{columns: []string{"id", "name"}}
	assert.Equal(t, []string{"id", "name"}, r.Columns())
}

func TestRowsScanWrongDestinationCountFails(t *testing.T) {
	r := &Rows{values: [][]any{{int64(1), "alice"}}}
	require.True(t, r.Next())
	var id int64
	assert.Error(t, r.Scan(&id))
}

func TestAssignAny(t *testing.T) {
	var dest any
	require.NoError(t, assign(&dest, int64(42)))
	assert.Equal(t, int64(42), dest)
}

func TestAssignNilLeavesDestinationUntouched(t *testing.T) {
	dest := "unchanged"
	require.NoError(t, assign(&dest, nil))
	assert.Equal(t, "unchanged", dest)
}

func TestAssignDirectType(t *testing.T) {
	var dest string
	require.NoError(t, assign(&dest, "alice"))
	assert.Equal(t, "alice", dest)
}

func TestAssignPointerToType(t *testing.T) {
	var dest *string
	require.NoError(t, assign(&dest, "alice"))
	require.NotNil(t, dest)
	assert.Equal(t, "alice", *dest)
}

func TestAssignConvertibleType(t *testing.T) {
	var dest int64
	require.NoError(t, assign(&dest, int32(7)))
	assert.Equal(t, int64(7), dest)
}

func TestAssignTimeValue(t *testing.T) {
	now := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	var dest time.Time
	require.NoError(t, assign(&dest, now))
	assert.True(t, dest.Equal(now))
}

func TestAssignRejectsNonPointerDestination(t *testing.T) {
	assert.Error(t, assign("not a pointer", "x"))
}

func TestAssignRejectsMismatchedType(t *testing.T) {
	var dest int
	assert.Error(t, assign(&dest, []byte("not an int")))
}

func TestAssignRejectsMismatchedPointerElemType(t *testing.T) {
	var dest *int
	assert.Error(t, assign(&dest, "a string"))
}
