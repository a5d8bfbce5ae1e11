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

// Package embedded is the single-connection pgaccess backend: exactly one
// long-lived *wireconn.Conn for the pool's entire lifetime, guarded by an
// exclusive-execution mutex. It stands in for an in-process PostgreSQL
// engine — there is no separate connection pool to acquire from, so every
// WithPgClient call runs against the same physical connection, and session
// settings are applied session-level with explicit capture/restore rather
// than relying on a transaction boundary that belongs to someone else's
// pooled connection.
package embedded

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/supabase/pgaccess"
	"github.com/supabase/pgaccess/embedded/wireconn"
	"github.com/supabase/pgaccess/envelope"
	"github.com/supabase/pgaccess/lrucache"
	"github.com/supabase/pgaccess/pgerrors"
)

func init() {
	pgaccess.Register("embedded", New)
}

// Pool is the embedded backend's pgaccess.Pool implementation.
type Pool struct {
	dialCfg    wireconn.Config
	ownsDriver bool
	dataDir    string
	log        *slog.Logger

	// execMu is this driver's exclusive-execution primitive: held
	// for the entire duration of a WithPgClient call, including every
	// nested WithTransaction and Query it makes, so no other caller's
	// statement can interleave on the single physical connection.
	execMu sync.Mutex
	conn   *wireconn.Conn

	handle *pgaccess.ConnHandle
	lru    *lrucache.Manager

	relMu    sync.Mutex
	released bool
}

// New constructs the embedded backend from cfg.Embedded. It does no I/O: a
// DSN that does not parse is rejected here with a ConfigurationError, and
// the physical connection is dialed lazily on the first WithPgClient call,
// so an unreachable server surfaces there.
func New(cfg pgaccess.Config) (pgaccess.Pool, error) {
	ec := cfg.Embedded
	if ec == nil {
		return nil, &pgerrors.ConfigurationError{Reason: "embedded backend requires Config.Embedded"}
	}

	log := ec.Logger
	if log == nil {
		log = slog.Default()
	}

	p := &Pool{
		dataDir: ec.DataDir,
		log:     log,
		handle:  pgaccess.NewConnHandle(),
		lru:     lrucache.New(pgaccess.PreparedStatementCacheSize(), lrucache.WithLogger(log)),
	}

	if prebuilt, ok := ec.Prebuilt.(*wireconn.Conn); ok && prebuilt != nil {
		p.conn = prebuilt
		p.ownsDriver = false
		return p, nil
	}

	if ec.DSN == "" {
		return nil, &pgerrors.ConfigurationError{Reason: "EmbeddedConfig.DSN is required when Prebuilt is not set"}
	}
	dialCfg, err := parseDSN(ec.DSN)
	if err != nil {
		return nil, &pgerrors.ConfigurationError{Reason: err.Error()}
	}
	p.dialCfg = dialCfg
	p.ownsDriver = true
	return p, nil
}

// parseDSN reuses pgx's own connection-string parser rather than hand-
// rolling one: pgconn.ParseConfig already understands every DSN/URL form
// Postgres clients accept (key=value, postgres://, libpq environment
// fallbacks), and pgx is already this module's dependency for the pooled
// backend.
func parseDSN(dsn string) (wireconn.Config, error) {
	cfg, err := pgconn.ParseConfig(dsn)
	if err != nil {
		return wireconn.Config{}, fmt.Errorf("parse DSN: %w", err)
	}
	return wireconn.Config{
		Host:        cfg.Host,
		Port:        int(cfg.Port),
		User:        cfg.User,
		Password:    cfg.Password,
		Database:    cfg.Database,
		DialTimeout: cfg.ConnectTimeout,
	}, nil
}

// withConn runs fn against the single physical connection, connecting it
// first if this is the first call (or a previous connect attempt failed —
// unlike a sync.Once, a failed dial does not permanently wedge the pool).
func (p *Pool) withConn(ctx context.Context, fn func(context.Context, *wireconn.Conn) (any, error)) (any, error) {
	p.execMu.Lock()
	defer p.execMu.Unlock()

	p.relMu.Lock()
	released := p.released
	p.relMu.Unlock()
	if released {
		return nil, pgerrors.ErrPoolReleased
	}

	if p.conn == nil {
		conn, err := wireconn.Connect(ctx, p.dialCfg)
		if err != nil {
			return nil, fmt.Errorf("pgaccess/embedded: connect: %w", err)
		}
		p.conn = conn
	}

	return fn(ctx, p.conn)
}

func (p *Pool) executor() lrucache.Executor {
	return func(ctx context.Context, sql string, args []any, arrayMode bool) (pgaccess.Rows, int64, error) {
		return p.conn.Execute(ctx, sql, args, arrayMode)
	}
}

// WithPgClient implements pgaccess.Pool.
func (p *Pool) WithPgClient(ctx context.Context, settings map[string]string, fn func(context.Context, pgaccess.Client) (any, error)) (any, error) {
	return p.withConn(ctx, func(ctx context.Context, conn *wireconn.Conn) (any, error) {
		state := envelope.NewState(conn, false, p.log)
		c := &client{pool: p, state: state}
		return envelope.Run(ctx, settings, state, false, func(ctx context.Context) (any, error) {
			return fn(ctx, c)
		})
	})
}

// WithSuperuserPgClient behaves identically to WithPgClient: the embedded
// backend has exactly one physical connection and EmbeddedConfig carries
// no separate superuser DSN to connect with instead.
func (p *Pool) WithSuperuserPgClient(ctx context.Context, settings map[string]string, fn func(context.Context, pgaccess.Client) (any, error)) (any, error) {
	return p.WithPgClient(ctx, settings, fn)
}

// PoolSize reports the literal 1 — there is exactly one physical
// connection for this backend's entire lifetime.
func (p *Pool) PoolSize() int { return 1 }

// Release tears down the LRU manager's cache entries and, if this pool
// dialed its own connection, closes it. A pool built over a caller-
// supplied *wireconn.Conn leaves that connection open.
func (p *Pool) Release() error {
	p.relMu.Lock()
	if p.released {
		p.relMu.Unlock()
		return pgerrors.ErrDoubleRelease
	}
	p.released = true
	p.relMu.Unlock()

	p.execMu.Lock()
	defer p.execMu.Unlock()

	if p.conn == nil {
		return nil
	}

	p.lru.CleanupConnection(context.Background(), p.handle, p.executor())

	if p.ownsDriver {
		return p.conn.Close()
	}
	return nil
}
