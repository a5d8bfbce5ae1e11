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

// Package envelope implements the session-settings and nested-transaction
// state machine shared by every pgaccess backend. Each backend supplies a
// TxDriver over its own native connection/tx handle; envelope owns the SQL
// sequencing so the commit/rollback/restore logic is written, and tested,
// exactly once.
package envelope

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/supabase/pgaccess/pgerrors"
)

// TxDriver is the minimal surface envelope needs from a backend connection:
// run a statement, or run a statement that returns a single nullable text
// value. Backends implement this over a *pgx.Conn, a *sql.Conn, or a
// wireconn.Conn; envelope issues the BEGIN/SAVEPOINT statements itself.
type TxDriver interface {
	Exec(ctx context.Context, sql string, args ...any) error
	QueryScalar(ctx context.Context, sql string, args ...any) (*string, error)
}

// State tracks one PgClient's nested-transaction level across a chain of
// WithTransaction calls. A State is created once per WithPgClient
// invocation and never escapes it.
type State struct {
	tx          TxDriver
	log         *slog.Logger
	Level       int
	PreExisting bool
}

// NewState creates transaction-nesting state for a fresh PgClient. preExisting
// indicates the connection was already inside a transaction before this
// client acquired it — it forces savepoint use at the L0->L1 boundary rather
// than a real BEGIN.
func NewState(tx TxDriver, preExisting bool, log *slog.Logger) *State {
	if log == nil {
		log = slog.Default()
	}
	return &State{tx: tx, log: log, PreExisting: preExisting}
}

// exitFunc commits/releases on a nil callErr, or rolls back (logging any
// rollback failure, never returning it) on a non-nil callErr — in both
// cases restoring s.Level to what it was before Enter.
type exitFunc func(ctx context.Context, callErr error) error

// Enter begins a new nesting level: a real BEGIN at L0->L1 (unless the
// connection was already inside a transaction, in which case it uses a
// SAVEPOINT named "tx"), and a SAVEPOINT "tx{N}" for every deeper level.
// The returned exit function must be called exactly once to leave the level
// it entered.
func (s *State) Enter(ctx context.Context) (exitFunc, error) {
	fromLevel := s.Level

	if fromLevel == 0 && !s.PreExisting {
		if err := s.tx.Exec(ctx, BeginSQL); err != nil {
			return nil, &pgerrors.TransactionError{Op: "begin", Inner: err}
		}
		s.Level = 1
		return func(ctx context.Context, callErr error) error {
			defer func() { s.Level = fromLevel }()
			if callErr != nil {
				if rbErr := s.tx.Exec(ctx, RollbackSQL); rbErr != nil {
					s.log.Warn("rollback after error failed", "error", rbErr, "original_error", callErr)
				}
				return callErr
			}
			if err := s.tx.Exec(ctx, CommitSQL); err != nil {
				return &pgerrors.TransactionError{Op: "commit", Inner: err}
			}
			return nil
		}, nil
	}

	name := SavepointName(fromLevel, s.PreExisting)
	if err := s.tx.Exec(ctx, SavepointSQL(name)); err != nil {
		return nil, &pgerrors.TransactionError{Op: "savepoint", Inner: err}
	}
	s.Level = fromLevel + 1
	return func(ctx context.Context, callErr error) error {
		defer func() { s.Level = fromLevel }()
		if callErr != nil {
			if rbErr := s.tx.Exec(ctx, RollbackToSavepointSQL(name)); rbErr != nil {
				s.log.Warn("rollback to savepoint failed", "savepoint", name, "error", rbErr, "original_error", callErr)
			}
			return callErr
		}
		if err := s.tx.Exec(ctx, ReleaseSavepointSQL(name)); err != nil {
			return &pgerrors.TransactionError{Op: "release", Inner: err}
		}
		return nil
	}, nil
}

// WithTransaction runs fn inside one additional nesting level, committing
// or releasing the savepoint on success and rolling back on error. Every
// call is queued through the caller's per-client serialization slot before
// WithTransaction is invoked, so that every call is queued unconditionally
// — that queuing happens in the opqueue-wrapped client, not here.
func (s *State) WithTransaction(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	exit, err := s.Enter(ctx)
	if err != nil {
		return nil, err
	}

	result, callErr := fn(ctx)

	if finalErr := exit(ctx, callErr); finalErr != nil {
		return nil, finalErr
	}
	return result, nil
}

// Run is the top-level WithPgClient envelope: when settings is
// non-empty it enters one transaction level, applies settings, runs fn, and
// commits/rolls back. local controls whether settings are applied
// transaction-locally (pooled, driverpool — restored for free by the
// ROLLBACK/COMMIT boundary) or session-level with an explicit capture/restore
// round-trip (embedded, whose one long-lived connection has no transaction
// boundary to rely on for this).
func Run(ctx context.Context, settings map[string]string, state *State, local bool, fn func(context.Context) (any, error)) (any, error) {
	if len(settings) == 0 {
		return fn(ctx)
	}

	exit, err := state.Enter(ctx)
	if err != nil {
		return nil, err
	}

	var restore func(context.Context) error
	if local {
		if err := applySettings(ctx, state.tx, settings, true); err != nil {
			_ = exit(ctx, err)
			return nil, &pgerrors.QueryError{SQL: SetConfigSQL, Inner: err}
		}
	} else {
		restore, err = captureAndApply(ctx, state.tx, settings)
		if err != nil {
			_ = exit(ctx, err)
			return nil, &pgerrors.QueryError{SQL: SetConfigSQL, Inner: err}
		}
	}

	result, callErr := fn(ctx)

	if restore != nil {
		if rErr := restore(ctx); rErr != nil {
			state.log.Warn("failed to restore session settings", "error", rErr)
		}
	}

	if finalErr := exit(ctx, callErr); finalErr != nil {
		return nil, finalErr
	}
	return result, nil
}

// applySettings issues the settings-apply SQL in one round-trip.
func applySettings(ctx context.Context, tx TxDriver, settings map[string]string, local bool) error {
	pairs, err := settingsJSON(settings)
	if err != nil {
		return err
	}
	return tx.Exec(ctx, SetConfigSQL, pairs, local)
}

// captureAndApply probes the current value of every touched setting (so it
// can be restored later), then applies the new values session-level.
func captureAndApply(ctx context.Context, tx TxDriver, settings map[string]string) (func(context.Context) error, error) {
	keys := sortedKeys(settings)
	previous := make(map[string]*string, len(keys))
	for _, k := range keys {
		v, err := tx.QueryScalar(ctx, CurrentSettingSQL, k)
		if err != nil {
			return nil, err
		}
		previous[k] = v
	}

	if err := applySettings(ctx, tx, settings, false); err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		for _, k := range keys {
			if err := tx.Exec(ctx, ResetSettingSQL(k, previous[k])); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// settingsJSON encodes settings as a JSON array of [key, value] pairs, in
// sorted key order for deterministic SQL across runs. It returns a string,
// not []byte: lrucache.FormatLiteral has no []byte case, and a []byte
// argument would fall through to its default branch and get base64-encoded
// instead of inlined as the JSON text the embedded backend's SQL expects.
func settingsJSON(settings map[string]string) (string, error) {
	keys := sortedKeys(settings)
	pairs := make([][2]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]string{k, settings[k]})
	}
	b, err := json.Marshal(pairs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
