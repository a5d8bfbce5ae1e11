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

package subscriber

import "strings"

// EscapeChannel quotes a channel name for use in LISTEN/UNLISTEN, doubling
// any embedded double quotes, producing the `LISTEN "{escaped_channel}"`
// form. Shared by every backend's Listen implementation so the quoting
// rule lives in exactly one place.
func EscapeChannel(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
