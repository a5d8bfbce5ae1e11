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

package lrucache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatLiteral inline-formats a Go value as SQL text for EXECUTE {name}(…).
// Named prepared statements in this layer are
// invoked with their arguments inlined, not bound as wire-protocol
// parameters, because none of the three backends expose a parameterized
// EXECUTE for an ad-hoc prepared name. The embedded backend's wireconn
// package reuses this for the same reason: it speaks the simple query
// protocol only, so every argument has to be part of the SQL text.
func FormatLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return quoteString(val)
	case time.Time:
		return quoteString(val.Format(time.RFC3339Nano))
	case []any:
		elems := make([]string, len(val))
		for i, e := range val {
			elems[i] = FormatLiteral(e)
		}
		return "ARRAY[" + strings.Join(elems, ", ") + "]"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32, float64:
		return strconv.FormatFloat(toFloat64(val), 'g', -1, 64)
	default:
		// Any other object is encoded as a jsonb literal, per the table's
		// catch-all row.
		b, err := json.Marshal(val)
		if err != nil {
			return quoteString(fmt.Sprintf("%v", val))
		}
		return quoteString(string(b)) + "::jsonb"
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func toFloat64(v any) float64 {
	switch f := v.(type) {
	case float32:
		return float64(f)
	case float64:
		return f
	}
	return 0
}

// FormatArgs formats a full argument list for EXECUTE {name}(arg1, arg2, …).
func FormatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = FormatLiteral(a)
	}
	return strings.Join(parts, ", ")
}
