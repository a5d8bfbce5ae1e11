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

// Package pgaccess gives query planners and builders one client surface —
// Query, WithTransaction, WithPgClient, Listen — across three backends with
// very different connection, transaction, and prepared-statement semantics:
// a pooled connection (pooled), a single driver instance owning its own
// internal pool (driverpool), and a single long-lived connection (embedded).
//
// Backend packages register themselves on import, the way database/sql
// drivers do:
//
//	import (
//	    "github.com/supabase/pgaccess"
//	    _ "github.com/supabase/pgaccess/pooled"
//	)
//
//	pool, err := pgaccess.New(pgaccess.Config{Pooled: &pgaccess.PooledConfig{DSN: dsn}})
package pgaccess

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/supabase/pgaccess/pgerrors"
)

// Rows is the row-set returned by Query. It follows database/sql's
// Next/Scan/Close shape so callers can iterate without this package
// needing to know the row's structure. Columns reports field names in
// positional order, or nil when the backend executed the query in array
// mode and discarded them (see lrucache.Executor's arrayMode parameter).
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() []string
	Err() error
	Close() error
}

// Result is what named, LRU-cached queries return: the row set plus the
// row count the backend reported for the statement.
type Result struct {
	Rows     Rows
	RowCount int64
}

// Client is a scoped handle to a single logical connection, valid only
// inside a WithPgClient callback (or a WithTransaction nested therein).
type Client interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryNamed(ctx context.Context, name, sql string, args ...any) (Rows, error)
	WithTransaction(ctx context.Context, fn func(context.Context, Client) (any, error)) (any, error)
}

// UnlistenFunc detaches a Listen subscription. Calling it more than once is
// a no-op; unlisten failures are swallowed.
type UnlistenFunc func() error

// Pool is the top-level handle every backend implements.
type Pool interface {
	// WithPgClient acquires a connection, optionally installs session
	// settings inside a transaction, and invokes fn with a Client scoped to
	// that connection. Errors from fn propagate unchanged after rollback.
	WithPgClient(ctx context.Context, settings map[string]string, fn func(context.Context, Client) (any, error)) (any, error)

	// WithSuperuserPgClient behaves exactly like WithPgClient but connects
	// using the config's superuser DSN when one was supplied, falling back
	// to the regular DSN otherwise.
	WithSuperuserPgClient(ctx context.Context, settings map[string]string, fn func(context.Context, Client) (any, error)) (any, error)

	// Listen subscribes to a channel. Backends that cannot support LISTEN
	// return pgerrors.ErrNotSupported.
	Listen(ctx context.Context, channel string, onNotify func(payload string), onError func(error)) (UnlistenFunc, error)

	// PoolSize reports the configured maximum connection count; single
	// connection backends report 1.
	PoolSize() int

	// Release tears down owned resources. A second call returns
	// pgerrors.ErrDoubleRelease. A pool constructed over a caller-supplied
	// driver handle leaves that handle open.
	Release() error
}

// PooledConfig configures the pgxpool-backed backend.
type PooledConfig struct {
	DSN           string
	SuperuserDSN  string
	MaxConns      int32 // default 10 when unset
	Prebuilt      any   // *pgxpool.Pool, already open; ownsDriver=false
	Logger        *slog.Logger
}

// DriverPoolConfig configures the database/sql + lib/pq backed backend.
type DriverPoolConfig struct {
	DSN          string
	SuperuserDSN string
	MaxOpenConns int // default 10 when unset
	Prebuilt     any // *sql.DB, already open; ownsDriver=false
	Logger       *slog.Logger
}

// EmbeddedConfig configures the single-connection wire-protocol backend.
type EmbeddedConfig struct {
	DSN      string
	DataDir  string // passed through verbatim to the underlying engine
	Prebuilt any    // *wireconn.Conn, already connected; ownsDriver=false
	Logger   *slog.Logger
}

// Config is a tagged union over the three backend configuration shapes:
// exactly one of Pooled, DriverPool, Embedded must be non-nil.
type Config struct {
	Pooled     *PooledConfig
	DriverPool *DriverPoolConfig
	Embedded   *EmbeddedConfig
}

// Constructor builds a Pool from a Config whose matching variant field is
// set. Backend packages call Register with their own Constructor in an
// init() function.
type Constructor func(Config) (Pool, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register makes a backend constructor available to New. Backend packages
// call this from init(); it panics on a duplicate name, which can only
// happen from a programming error (the same backend package imported
// under two different names never happens, and no caller should ever call
// Register directly).
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("pgaccess: backend %q already registered", name))
	}
	registry[name] = ctor
}

// New picks the constructor for whichever Config variant is set and
// returns the resulting Pool. The backend package for that variant must
// have been imported (for its init-time Register call) or New returns a
// DriverLoadError naming it.
func New(cfg Config) (Pool, error) {
	switch {
	case cfg.Pooled != nil:
		return build("pooled", cfg)
	case cfg.DriverPool != nil:
		return build("driverpool", cfg)
	case cfg.Embedded != nil:
		return build("embedded", cfg)
	default:
		return nil, &pgerrors.ConfigurationError{Reason: "Config must set exactly one of Pooled, DriverPool, or Embedded"}
	}
}

func build(name string, cfg Config) (Pool, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &pgerrors.DriverLoadError{Dependency: "github.com/supabase/pgaccess/" + name}
	}
	return ctor(cfg)
}

// ConnHandle identifies one connection's prepared-statement state to the
// LRU manager (lrucache.Manager.Execute's connKey argument, spec
// §4.4's object-keyed branch). pooled mints one per physical connection,
// embedded one for its single connection, and driverpool a fresh one for
// each WithPgClient call; equality is by pointer identity, so two
// handles are the "same connection" iff they are the same *ConnHandle.
type ConnHandle struct{}

// NewConnHandle mints a fresh connection identity.
func NewConnHandle() *ConnHandle { return &ConnHandle{} }

// DefaultMaxConns is the connection cap pooled and driverpool fall back to
// when the caller's config leaves it at zero — database/sql's own default
// is "unlimited", but PoolSize must report an actual number, so both
// backends pin a default rather than propagate "unlimited".
const DefaultMaxConns = 10

// ListenConnectionGraceWindow returns how long a backend holds a dedicated
// LISTEN connection open after its last consumer detaches, in case a new
// Subscribe for the same topic arrives immediately after.
// NODE_ENV=test shortens it for tests.
func ListenConnectionGraceWindow(testMode bool) time.Duration {
	if testMode {
		return 500 * time.Millisecond
	}
	return 5000 * time.Millisecond
}
