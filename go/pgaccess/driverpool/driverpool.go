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

// Package driverpool is the database/sql-backed pgaccess backend: the
// driver owns its own internal connection pool, and this package only
// borrows one *sql.Conn per WithPgClient call, rather than pooling
// connections itself.
package driverpool

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync/atomic"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/supabase/pgaccess"
	"github.com/supabase/pgaccess/envelope"
	"github.com/supabase/pgaccess/lrucache"
	"github.com/supabase/pgaccess/pgerrors"
)

func init() {
	pgaccess.Register("driverpool", New)
}

// Pool is the driverpool backend's pgaccess.Pool implementation.
type Pool struct {
	db           *sql.DB
	superuserDB  *sql.DB // nil unless DriverPoolConfig.SuperuserDSN was set
	dsn          string  // kept for Listen, which needs its own dedicated *sql.Conn worth of pq.Listener
	ownsDriver   bool
	log          *slog.Logger
	lru          *lrucache.Manager

	released atomic.Bool
}

// New constructs the driverpool backend from cfg.DriverPool.
func New(cfg pgaccess.Config) (pgaccess.Pool, error) {
	dc := cfg.DriverPool
	if dc == nil {
		return nil, &pgerrors.ConfigurationError{Reason: "driverpool backend requires Config.DriverPool"}
	}

	log := dc.Logger
	if log == nil {
		log = slog.Default()
	}

	p := &Pool{
		log: log,
		lru: lrucache.New(pgaccess.PreparedStatementCacheSize(), lrucache.WithLogger(log)),
	}

	if prebuilt, ok := dc.Prebuilt.(*sql.DB); ok && prebuilt != nil {
		p.db = prebuilt
		p.ownsDriver = false
		return p, nil
	}

	if dc.DSN == "" {
		return nil, &pgerrors.ConfigurationError{Reason: "DriverPoolConfig.DSN is required when Prebuilt is not set"}
	}

	db, err := sql.Open("postgres", dc.DSN)
	if err != nil {
		return nil, &pgerrors.DriverLoadError{Dependency: "github.com/lib/pq", Inner: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &pgerrors.DriverLoadError{Dependency: "github.com/lib/pq", Inner: err}
	}

	maxOpen := dc.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = pgaccess.DefaultMaxConns
	}
	db.SetMaxOpenConns(maxOpen)

	p.db = db
	p.dsn = dc.DSN
	p.ownsDriver = true

	if dc.SuperuserDSN != "" {
		suDB, err := sql.Open("postgres", dc.SuperuserDSN)
		if err != nil {
			db.Close()
			return nil, &pgerrors.DriverLoadError{Dependency: "github.com/lib/pq", Inner: err}
		}
		suDB.SetMaxOpenConns(maxOpen)
		p.superuserDB = suDB
	}

	return p, nil
}

func (p *Pool) withAcquired(ctx context.Context, db *sql.DB, settings map[string]string, fn func(context.Context, pgaccess.Client) (any, error)) (any, error) {
	if p.released.Load() {
		return nil, pgerrors.ErrPoolReleased
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	handle := pgaccess.NewConnHandle()
	driver := &txDriver{conn: conn}
	state := envelope.NewState(driver, false, p.log)
	c := &client{pool: p, conn: conn, handle: handle, state: state}

	result, err := envelope.Run(ctx, settings, state, true, func(ctx context.Context) (any, error) {
		return fn(ctx, c)
	})

	// This *sql.Conn's underlying physical connection is about to be
	// returned to database/sql's own pool and may back a completely
	// different logical session next time it is checked out, so its
	// PREPAREd statements have to be forgotten now rather than left for the
	// LRU manager's "does not exist" recovery to discover piecemeal.
	p.lru.CleanupConnection(context.Background(), handle, execOn(conn))

	return result, err
}

// WithPgClient implements pgaccess.Pool.
func (p *Pool) WithPgClient(ctx context.Context, settings map[string]string, fn func(context.Context, pgaccess.Client) (any, error)) (any, error) {
	return p.withAcquired(ctx, p.db, settings, fn)
}

// WithSuperuserPgClient implements pgaccess.Pool.
func (p *Pool) WithSuperuserPgClient(ctx context.Context, settings map[string]string, fn func(context.Context, pgaccess.Client) (any, error)) (any, error) {
	db := p.db
	if p.superuserDB != nil {
		db = p.superuserDB
	}
	return p.withAcquired(ctx, db, settings, fn)
}

// PoolSize implements pgaccess.Pool.
func (p *Pool) PoolSize() int {
	stats := p.db.Stats()
	return stats.MaxOpenConnections
}

// Release implements pgaccess.Pool. database/sql's own Close can report
// EPIPE while flushing lib/pq's termination message on an already-broken
// socket — that failure carries no information the caller can act on, so
// it is logged and swallowed.
func (p *Pool) Release() error {
	if !p.released.CompareAndSwap(false, true) {
		return pgerrors.ErrDoubleRelease
	}

	if !p.ownsDriver {
		return nil
	}
	if p.superuserDB != nil {
		if err := p.superuserDB.Close(); err != nil && !errors.Is(err, syscall.EPIPE) {
			p.log.Warn("failed to close superuser pool", "error", err)
		}
	}
	if err := p.db.Close(); err != nil && !errors.Is(err, syscall.EPIPE) {
		return err
	}
	return nil
}
