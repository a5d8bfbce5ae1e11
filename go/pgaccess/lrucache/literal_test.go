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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatLiteralNil(t *testing.T) {
	assert.Equal(t, "NULL", FormatLiteral(nil))
}

func TestFormatLiteralBool(t *testing.T) {
	assert.Equal(t, "TRUE", FormatLiteral(true))
	assert.Equal(t, "FALSE", FormatLiteral(false))
}

func TestFormatLiteralString(t *testing.T) {
	assert.Equal(t, `'hello'`, FormatLiteral("hello"))
}

func TestFormatLiteralStringEscapesQuotes(t *testing.T) {
	assert.Equal(t, `'o''brien'`, FormatLiteral("o'brien"))
}

func TestFormatLiteralTime(t *testing.T) {
	ts := time.Date(2026, 8, 6, 12, 30, 0, 0, time.UTC)
	got := FormatLiteral(ts)
	assert.Equal(t, "'"+ts.Format(time.RFC3339Nano)+"'", got)
}

func TestFormatLiteralIntegers(t *testing.T) {
	assert.Equal(t, "42", FormatLiteral(42))
	assert.Equal(t, "42", FormatLiteral(int64(42)))
	assert.Equal(t, "42", FormatLiteral(uint8(42)))
}

func TestFormatLiteralFloat(t *testing.T) {
	assert.Equal(t, "3.14", FormatLiteral(3.14))
}

func TestFormatLiteralSlice(t *testing.T) {
	got := FormatLiteral([]any{1, "a", nil})
	assert.Equal(t, `ARRAY[1, 'a', NULL]`, got)
}

func TestFormatLiteralFallsBackToJSONB(t *testing.T) {
	got := FormatLiteral(map[string]int{"a": 1})
	assert.Equal(t, `'{"a":1}'::jsonb`, got)
}

func TestFormatArgsJoinsWithCommas(t *testing.T) {
	got := FormatArgs([]any{1, "a", nil, true})
	assert.Equal(t, `1, 'a', NULL, TRUE`, got)
}

func TestFormatArgsEmpty(t *testing.T) {
	assert.Equal(t, "", FormatArgs(nil))
}
