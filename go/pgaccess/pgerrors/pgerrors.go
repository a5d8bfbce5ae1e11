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

// Package pgerrors defines the typed error taxonomy shared by every
// pgaccess backend: configuration failures, query/transaction failures,
// prepared-statement loss, and subscriber/pool lifecycle violations.
package pgerrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
)

// Sentinel lifecycle errors. Backends and the subscriber compare against
// these with errors.Is; they carry no payload of their own.
var (
	ErrNotSupported      = errors.New("pgaccess: operation not supported by this backend")
	ErrDoubleRelease     = errors.New("pgaccess: pool already released")
	ErrPoolReleased      = errors.New("pgaccess: pool has been released")
	ErrSubscriberReleased = errors.New("pgaccess: subscriber has been released")
)

// ConfigurationError is raised before any I/O when a Config is missing a
// required field (no DSN and no pre-built driver handle).
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("pgaccess: configuration error: %s", e.Reason)
}

// DriverLoadError is raised when an optional backend dependency could not
// be initialized. Message names the missing dependency so the caller can
// act on it without inspecting Unwrap().
type DriverLoadError struct {
	Dependency string
	Inner      error
}

func (e *DriverLoadError) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("pgaccess: failed to load driver %q: %v", e.Dependency, e.Inner)
	}
	return fmt.Sprintf("pgaccess: driver %q is not available", e.Dependency)
}

func (e *DriverLoadError) Unwrap() error { return e.Inner }

// QueryError wraps a backend-native error with the SQL text that produced
// it, when the backend makes that text available.
type QueryError struct {
	SQL   string
	Inner error
}

func (e *QueryError) Error() string {
	if e.SQL == "" {
		return fmt.Sprintf("pgaccess: query failed: %v", e.Inner)
	}
	return fmt.Sprintf("pgaccess: query failed: %v (sql: %s)", e.Inner, e.SQL)
}

func (e *QueryError) Unwrap() error { return e.Inner }

// TransactionError is raised when entering a transaction or savepoint, or
// committing or releasing one, fails; Inner is that failure and Op names the
// step. A callback's own error is returned unchanged after the rollback, not
// wrapped in a TransactionError. Rollback failures are logged and never
// returned; the envelope does not set RollbackErr, so it stays nil.
type TransactionError struct {
	Op          string // "begin", "commit", "savepoint", "release"
	Inner       error
	RollbackErr error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("pgaccess: transaction %s failed: %v", e.Op, e.Inner)
}

func (e *TransactionError) Unwrap() error { return e.Inner }

// PreparedStatementLoss indicates the server reported the named prepared
// statement missing (a "does not exist" class error). The LRU manager
// recovers from this internally with one retry; it is exported so a
// recovery attempt that still fails can report the original cause.
type PreparedStatementLoss struct {
	Name  string
	Inner error
}

func (e *PreparedStatementLoss) Error() string {
	return fmt.Sprintf("pgaccess: prepared statement %q no longer exists: %v", e.Name, e.Inner)
}

func (e *PreparedStatementLoss) Unwrap() error { return e.Inner }

// ListenError carries the channel name and underlying cause for a failed
// LISTEN attempt. Listen returns it when the initial connect-and-LISTEN
// attempt fails. Errors from later reconnect attempts reach Pool.Listen's
// on_error callback as the underlying error, not wrapped in a ListenError.
type ListenError struct {
	Channel string
	Inner   error
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("pgaccess: listen on channel %q failed: %v", e.Channel, e.Inner)
}

func (e *ListenError) Unwrap() error { return e.Inner }

// IsDoesNotExist reports whether err represents PostgreSQL's "does not
// exist" error class, the signal the LRU manager uses to detect
// server-side prepared-statement loss. It checks the wrapped error chain
// for a *PgDiagnostic's SQL state first (InvalidSQLStatementName covers a
// dropped PREPARE; UndefinedObject covers a few servers that instead
// report a generic missing-object code for the same condition), then
// falls back to substring matching for backends that only expose a
// flattened error string (lib/pq, database/sql).
func IsDoesNotExist(err error) bool {
	if err == nil {
		return false
	}
	var diag *PgDiagnostic
	if errors.As(err, &diag) {
		switch diag.Code {
		case pgerrcode.InvalidSQLStatementName, pgerrcode.UndefinedObject:
			return true
		}
		return strings.Contains(diag.Message, "does not exist")
	}
	return strings.Contains(err.Error(), "does not exist")
}
