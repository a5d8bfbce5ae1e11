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
	"os"
	"strconv"
)

// DefaultPreparedStatementCacheSize is used when
// PG_PREPARED_STATEMENT_CACHE_SIZE is unset or malformed.
const DefaultPreparedStatementCacheSize = 100

// PreparedStatementCacheSize reads PG_PREPARED_STATEMENT_CACHE_SIZE
// (integer >= 0; 0 disables the LRU manager entirely). Matches the
// teacher's own direct os.Getenv convention (servenv.go's MTTEST check)
// rather than pulling in a flag-registration framework for a library with
// no CLI of its own.
func PreparedStatementCacheSize() int {
	raw, ok := os.LookupEnv("PG_PREPARED_STATEMENT_CACHE_SIZE")
	if !ok {
		return DefaultPreparedStatementCacheSize
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return DefaultPreparedStatementCacheSize
	}
	return n
}

// IsTestMode reports whether NODE_ENV is exactly "test", the signal used
// to shorten the subscriber's listen ref-count grace window in tests.
func IsTestMode() bool {
	return os.Getenv("NODE_ENV") == "test"
}
