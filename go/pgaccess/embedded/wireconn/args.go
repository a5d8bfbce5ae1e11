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
	"regexp"
	"strconv"

	"github.com/supabase/pgaccess/lrucache"
)

var positionalParam = regexp.MustCompile(`\$(\d+)`)

// inlineArgs substitutes every "$N" placeholder in sql with args[N-1]
// formatted as a SQL literal. The embedded connection speaks Postgres'
// simple query sub-protocol only — there is no Parse/Bind/Execute
// round-trip to bind wire parameters against — so every caller-supplied
// argument anywhere in this backend ends up inlined the same way the LRU
// cache already inlines EXECUTE arguments.
func inlineArgs(sql string, args []any) string {
	if len(args) == 0 {
		return sql
	}
	return positionalParam.ReplaceAllStringFunc(sql, func(tok string) string {
		n, err := strconv.Atoi(tok[1:])
		if err != nil || n < 1 || n > len(args) {
			return tok
		}
		return lrucache.FormatLiteral(args[n-1])
	})
}
