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
	"fmt"
	"strings"
)

// PgDiagnostic represents a PostgreSQL diagnostic message (error or notice).
// PostgreSQL uses the same wire format for both ErrorResponse ('E') and
// NoticeResponse ('N'), differentiated by MessageType. The embedded backend
// builds these directly off the wire. The pooled and driverpool backends do
// not build them: their errors are the drivers' own (*pgconn.PgError,
// *pq.Error).
type PgDiagnostic struct {
	// MessageType is the PostgreSQL protocol message type byte: 'E' for
	// ErrorResponse, 'N' for NoticeResponse.
	MessageType      byte
	Severity         string
	Code             string
	Message          string
	Detail           string
	Hint             string
	Position         int32
	InternalPosition int32
	InternalQuery    string
	Where            string
	Schema           string
	Table            string
	Column           string
	DataType         string
	Constraint       string
}

// IsError returns true if this diagnostic represents an error.
func (d *PgDiagnostic) IsError() bool {
	return d.MessageType == 'E'
}

// IsNotice returns true if this diagnostic represents a notice.
func (d *PgDiagnostic) IsNotice() bool {
	return d.MessageType == 'N'
}

// SQLSTATE returns the PostgreSQL SQLSTATE error code. Alias for Code.
func (d *PgDiagnostic) SQLSTATE() string {
	return d.Code
}

// SQLSTATEClass returns the first 2 characters of the SQLSTATE code, which
// identifies the error class ("42" = syntax/access error, "23" = integrity
// constraint violation, etc). Returns "" if Code is shorter than 2 chars.
func (d *PgDiagnostic) SQLSTATEClass() string {
	if len(d.Code) < 2 {
		return ""
	}
	return d.Code[:2]
}

// IsClass returns true if the SQLSTATE code belongs to the given class.
func (d *PgDiagnostic) IsClass(class string) bool {
	return d.SQLSTATEClass() == class
}

// IsFatal returns true if the severity is FATAL or PANIC. ERROR severity is
// not fatal — the session can continue.
func (d *PgDiagnostic) IsFatal() bool {
	return d.Severity == "FATAL" || d.Severity == "PANIC"
}

// Error implements the error interface, in PostgreSQL's native
// "SEVERITY: message" format. Use FullError to include the SQLSTATE code.
func (d *PgDiagnostic) Error() string {
	if d == nil {
		return "ERROR: unknown error"
	}
	return d.Severity + ": " + d.Message
}

// FullError returns "SEVERITY: message (SQLSTATE code)".
func (d *PgDiagnostic) FullError() string {
	if d == nil {
		return "ERROR: unknown error (SQLSTATE 00000)"
	}
	return d.Severity + ": " + d.Message + " (SQLSTATE " + d.Code + ")"
}

// Validate checks that the fields required by the PostgreSQL protocol are
// present. This is lenient — callers should log a warning on failure
// rather than discard the diagnostic, since a malformed but mostly-usable
// diagnostic is still more useful to a caller than nothing.
func (d *PgDiagnostic) Validate() error {
	if d == nil {
		return errors.New("diagnostic is nil")
	}

	var issues []string

	if d.MessageType != 'E' && d.MessageType != 'N' {
		if d.MessageType == 0 {
			issues = append(issues, "MessageType is unset: must be 'E' or 'N'")
		} else {
			issues = append(issues, fmt.Sprintf("invalid MessageType %q: must be 'E' or 'N'", d.MessageType))
		}
	}
	if d.Severity == "" {
		issues = append(issues, "Severity is empty")
	}
	if d.Code == "" {
		issues = append(issues, "Code (SQLSTATE) is empty")
	}
	if d.Message == "" {
		issues = append(issues, "Message is empty")
	}

	if len(issues) > 0 {
		return fmt.Errorf("invalid PgDiagnostic: %s", strings.Join(issues, "; "))
	}
	return nil
}
