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

package envelope

import (
	"fmt"
	"strconv"
	"strings"
)

// SetConfigSQL applies every (key, value) pair in one round-trip via
// json_array_elements, rather than one SET per key. local=true makes the
// change transaction-local (pooled, driverpool); local=false makes it
// session-level, for backends that restore the previous value manually
// (embedded) on exit.
const SetConfigSQL = `SELECT set_config(el->>0, el->>1, $2) FROM json_array_elements($1::json) el`

// CurrentSettingSQL probes the current value of a setting before it is
// overwritten, so embedded's session-level apply can restore it afterward.
// The second argument to current_setting is "missing_ok" — true means
// return NULL instead of raising when the setting is unset.
const CurrentSettingSQL = `SELECT current_setting($1, true) as value`

const (
	BeginSQL    = "BEGIN"
	CommitSQL   = "COMMIT"
	RollbackSQL = "ROLLBACK"
)

// SavepointName returns the savepoint name for entering level n+1 from level
// n. Level 0 with preExisting uses the fixed name "tx"; every
// other nested level names itself after the level it is leaving, "tx{N}".
func SavepointName(fromLevel int, preExisting bool) string {
	if fromLevel == 0 && preExisting {
		return "tx"
	}
	return "tx" + strconv.Itoa(fromLevel)
}

func SavepointSQL(name string) string        { return "SAVEPOINT " + quoteIdent(name) }
func ReleaseSavepointSQL(name string) string  { return "RELEASE SAVEPOINT " + quoteIdent(name) }
func RollbackToSavepointSQL(name string) string {
	return "ROLLBACK TO SAVEPOINT " + quoteIdent(name)
}

// quoteIdent double-quotes an identifier used as a savepoint name. Savepoint
// names minted by SavepointName are always "tx" or "tx{N}" so this never
// actually needs escaping, but the helper exists so the identifier path
// goes through one place rather than being interpolated ad hoc.
func quoteIdent(name string) string {
	if !strings.ContainsAny(name, `" `) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ResetSettingSQL restores a single setting to a captured prior value, or
// RESET when the captured value was NULL (the setting was previously unset).
// The key in RESET is always double-quoted.
func ResetSettingSQL(key string, previous *string) string {
	if previous == nil {
		return fmt.Sprintf(`RESET %s`, quoteSettingKey(key))
	}
	return fmt.Sprintf(`SELECT set_config(%s, %s, false)`, quoteLiteral(key), quoteLiteral(*previous))
}

// quoteSettingKey double-quotes a setting name, doubling any embedded
// quotes, matching RESET's "{escaped_key}" form verbatim.
func quoteSettingKey(key string) string {
	return `"` + strings.ReplaceAll(key, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
