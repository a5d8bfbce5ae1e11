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

package pgaccess

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreparedStatementCacheSizeDefaultsWhenUnset(t *testing.T) {
	assert.Equal(t, DefaultPreparedStatementCacheSize, PreparedStatementCacheSize())
}

func TestPreparedStatementCacheSizeReadsEnv(t *testing.T) {
	t.Setenv("PG_PREPARED_STATEMENT_CACHE_SIZE", "42")
	assert.Equal(t, 42, PreparedStatementCacheSize())
}

func TestPreparedStatementCacheSizeZeroDisablesCache(t *testing.T) {
	t.Setenv("PG_PREPARED_STATEMENT_CACHE_SIZE", "0")
	assert.Equal(t, 0, PreparedStatementCacheSize())
}

func TestPreparedStatementCacheSizeFallsBackOnMalformedValue(t *testing.T) {
	t.Setenv("PG_PREPARED_STATEMENT_CACHE_SIZE", "not-a-number")
	assert.Equal(t, DefaultPreparedStatementCacheSize, PreparedStatementCacheSize())
}

func TestPreparedStatementCacheSizeFallsBackOnNegativeValue(t *testing.T) {
	t.Setenv("PG_PREPARED_STATEMENT_CACHE_SIZE", "-1")
	assert.Equal(t, DefaultPreparedStatementCacheSize, PreparedStatementCacheSize())
}

func TestIsTestModeTrueOnlyForExactMatch(t *testing.T) {
	t.Setenv("NODE_ENV", "test")
	assert.True(t, IsTestMode())

	t.Setenv("NODE_ENV", "testing")
	assert.False(t, IsTestMode())

	t.Setenv("NODE_ENV", "")
	assert.False(t, IsTestMode())
}
