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

package pgerrors

import (
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/stretchr/testify/assert"
)

func TestIsDoesNotExistNilError(t *testing.T) {
	assert.False(t, IsDoesNotExist(nil))
}

func TestIsDoesNotExistMatchesInvalidSQLStatementNameCode(t *testing.T) {
	diag := &PgDiagnostic{MessageType: 'E', Severity: "ERROR", Code: pgerrcode.InvalidSQLStatementName, Message: "prepared statement does not exist"}
	assert.True(t, IsDoesNotExist(diag))
}

func TestIsDoesNotExistMatchesUndefinedObjectCode(t *testing.T) {
	diag := &PgDiagnostic{MessageType: 'E', Severity: "ERROR", Code: pgerrcode.UndefinedObject, Message: "unrecognized configuration parameter"}
	assert.True(t, IsDoesNotExist(diag))
}

func TestIsDoesNotExistFallsBackToMessageSubstring(t *testing.T) {
	diag := &PgDiagnostic{MessageType: 'E', Severity: "ERROR", Code: "42601", Message: `relation "foo" does not exist`}
	assert.True(t, IsDoesNotExist(diag))
}

func TestIsDoesNotExistFalseWhenNeitherCodeNorMessageMatch(t *testing.T) {
	diag := &PgDiagnostic{MessageType: 'E', Severity: "ERROR", Code: "23505", Message: "duplicate key value violates unique constraint"}
	assert.False(t, IsDoesNotExist(diag))
}

func TestIsDoesNotExistMatchesWrappedDiagnostic(t *testing.T) {
	diag := &PgDiagnostic{MessageType: 'E', Severity: "ERROR", Code: pgerrcode.InvalidSQLStatementName, Message: "gone"}
	wrapped := &QueryError{SQL: "EXECUTE s1", Inner: diag}
	assert.True(t, IsDoesNotExist(wrapped))
}

func TestIsDoesNotExistFallsBackToPlainErrorString(t *testing.T) {
	err := errors.New(`pq: prepared statement "s1" does not exist`)
	assert.True(t, IsDoesNotExist(err))
}

func TestIsDoesNotExistFalseForUnrelatedPlainError(t *testing.T) {
	assert.False(t, IsDoesNotExist(errors.New("connection refused")))
}

func TestDriverLoadErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &DriverLoadError{Dependency: "github.com/lib/pq", Inner: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "github.com/lib/pq")
}

func TestQueryErrorIncludesSQLWhenPresent(t *testing.T) {
	err := &QueryError{SQL: "SELECT 1", Inner: errors.New("boom")}
	assert.Contains(t, err.Error(), "SELECT 1")
}

func TestQueryErrorOmitsSQLWhenAbsent(t *testing.T) {
	err := &QueryError{Inner: errors.New("boom")}
	assert.NotContains(t, err.Error(), "sql:")
}

func TestTransactionErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &TransactionError{Op: "commit", Inner: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "commit")
}

func TestPreparedStatementLossUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &PreparedStatementLoss{Name: "s1", Inner: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "s1")
}

func TestListenErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &ListenError{Channel: "events", Inner: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "events")
}

func TestConfigurationErrorMessage(t *testing.T) {
	err := &ConfigurationError{Reason: "missing DSN"}
	assert.Equal(t, "pgaccess: configuration error: missing DSN", err.Error())
}

func TestPgDiagnosticClassificationHelpers(t *testing.T) {
	d := &PgDiagnostic{MessageType: 'E', Severity: "ERROR", Code: "23505", Message: "duplicate key"}
	assert.True(t, d.IsError())
	assert.False(t, d.IsNotice())
	assert.Equal(t, "23505", d.SQLSTATE())
	assert.Equal(t, "23", d.SQLSTATEClass())
	assert.True(t, d.IsClass("23"))
	assert.False(t, d.IsFatal())
}

func TestPgDiagnosticIsFatalForFatalAndPanic(t *testing.T) {
	assert.True(t, (&PgDiagnostic{Severity: "FATAL"}).IsFatal())
	assert.True(t, (&PgDiagnostic{Severity: "PANIC"}).IsFatal())
	assert.False(t, (&PgDiagnostic{Severity: "ERROR"}).IsFatal())
}

func TestPgDiagnosticErrorFormat(t *testing.T) {
	d := &PgDiagnostic{Severity: "ERROR", Message: "duplicate key", Code: "23505"}
	assert.Equal(t, "ERROR: duplicate key", d.Error())
	assert.Equal(t, "ERROR: duplicate key (SQLSTATE 23505)", d.FullError())
}

func TestPgDiagnosticNilReceiverErrorFormats(t *testing.T) {
	var d *PgDiagnostic
	assert.Equal(t, "ERROR: unknown error", d.Error())
	assert.Equal(t, "ERROR: unknown error (SQLSTATE 00000)", d.FullError())
}

func TestPgDiagnosticValidateReportsEachMissingField(t *testing.T) {
	d := &PgDiagnostic{}
	err := d.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "MessageType")
	assert.Contains(t, err.Error(), "Severity")
	assert.Contains(t, err.Error(), "Code")
	assert.Contains(t, err.Error(), "Message")
}

func TestPgDiagnosticValidatePassesForWellFormedDiagnostic(t *testing.T) {
	d := &PgDiagnostic{MessageType: 'E', Severity: "ERROR", Code: "23505", Message: "duplicate key"}
	assert.NoError(t, d.Validate())
}

func TestPgDiagnosticValidateNilReceiver(t *testing.T) {
	var d *PgDiagnostic
	assert.EqualError(t, d.Validate(), "diagnostic is nil")
}
