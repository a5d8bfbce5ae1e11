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

// Package pooled is the pgxpool-backed pgaccess backend: a real connection
// pool, acquired-per-call, with settings applied transaction-locally so the
// COMMIT/ROLLBACK boundary restores them for free.
package pooled

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supabase/pgaccess"
	"github.com/supabase/pgaccess/envelope"
	"github.com/supabase/pgaccess/lrucache"
	"github.com/supabase/pgaccess/pgerrors"
)

func init() {
	pgaccess.Register("pooled", New)
}

// Pool is the pooled backend's pgaccess.Pool implementation.
type Pool struct {
	pool          *pgxpool.Pool
	superuserPool *pgxpool.Pool // nil unless PooledConfig.SuperuserDSN was set
	ownsDriver    bool
	log           *slog.Logger

	lru *lrucache.Manager

	handlesMu sync.Mutex
	handles   map[*pgx.Conn]*pgaccess.ConnHandle

	relMu    sync.Mutex
	released bool
}

// New constructs the pooled backend from cfg.Pooled.
func New(cfg pgaccess.Config) (pgaccess.Pool, error) {
	pc := cfg.Pooled
	if pc == nil {
		return nil, &pgerrors.ConfigurationError{Reason: "pooled backend requires Config.Pooled"}
	}

	log := pc.Logger
	if log == nil {
		log = slog.Default()
	}

	p := &Pool{
		log:     log,
		lru:     lrucache.New(pgaccess.PreparedStatementCacheSize(), lrucache.WithLogger(log)),
		handles: map[*pgx.Conn]*pgaccess.ConnHandle{},
	}

	if prebuilt, ok := pc.Prebuilt.(*pgxpool.Pool); ok && prebuilt != nil {
		p.pool = prebuilt
		p.ownsDriver = false
		return p, nil
	}

	if pc.DSN == "" {
		return nil, &pgerrors.ConfigurationError{Reason: "PooledConfig.DSN is required when Prebuilt is not set"}
	}

	poolCfg, err := pgxpool.ParseConfig(pc.DSN)
	if err != nil {
		return nil, &pgerrors.ConfigurationError{Reason: err.Error()}
	}
	maxConns := pc.MaxConns
	if maxConns <= 0 {
		maxConns = int32(pgaccess.DefaultMaxConns)
	}
	poolCfg.MaxConns = maxConns
	p.installHooks(poolCfg)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, &pgerrors.DriverLoadError{Dependency: "github.com/jackc/pgx/v5/pgxpool", Inner: err}
	}
	p.pool = pool
	p.ownsDriver = true

	if pc.SuperuserDSN != "" {
		suCfg, err := pgxpool.ParseConfig(pc.SuperuserDSN)
		if err != nil {
			pool.Close()
			return nil, &pgerrors.ConfigurationError{Reason: err.Error()}
		}
		suCfg.MaxConns = maxConns
		p.installHooks(suCfg)
		suPool, err := pgxpool.NewWithConfig(context.Background(), suCfg)
		if err != nil {
			pool.Close()
			return nil, &pgerrors.DriverLoadError{Dependency: "github.com/jackc/pgx/v5/pgxpool", Inner: err}
		}
		p.superuserPool = suPool
	}

	return p, nil
}

// installHooks mints a *pgaccess.ConnHandle for every physical connection
// pgxpool opens (AfterConnect) and cleans up that connection's live
// prepared statements before pgxpool actually closes it (BeforeClose) —
// a teardown hook that runs when a pooled connection is discarded rather
// than reused.
func (p *Pool) installHooks(cfg *pgxpool.Config) {
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		p.handlesMu.Lock()
		p.handles[conn] = pgaccess.NewConnHandle()
		p.handlesMu.Unlock()
		return nil
	}
	cfg.BeforeClose = func(conn *pgx.Conn) {
		p.handlesMu.Lock()
		handle, ok := p.handles[conn]
		delete(p.handles, conn)
		p.handlesMu.Unlock()
		if !ok {
			return
		}
		p.lru.CleanupConnection(context.Background(), handle, execOn(conn))
	}
}

func (p *Pool) handleFor(conn *pgx.Conn) *pgaccess.ConnHandle {
	p.handlesMu.Lock()
	defer p.handlesMu.Unlock()
	if h, ok := p.handles[conn]; ok {
		return h
	}
	// A pool built over a Prebuilt *pgxpool.Pool never ran our AfterConnect
	// hook for connections it opened before we wrapped it, so mint a handle
	// lazily the first time we see one.
	h := pgaccess.NewConnHandle()
	p.handles[conn] = h
	return h
}

func (p *Pool) withAcquired(ctx context.Context, pool *pgxpool.Pool, settings map[string]string, fn func(context.Context, pgaccess.Client) (any, error)) (any, error) {
	p.relMu.Lock()
	released := p.released
	p.relMu.Unlock()
	if released {
		return nil, pgerrors.ErrPoolReleased
	}

	acquired, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer acquired.Release()

	conn := acquired.Conn()
	driver := &txDriver{conn: conn}
	state := envelope.NewState(driver, false, p.log)
	c := &client{pool: p, conn: conn, state: state}

	return envelope.Run(ctx, settings, state, true, func(ctx context.Context) (any, error) {
		return fn(ctx, c)
	})
}

// WithPgClient implements pgaccess.Pool.
func (p *Pool) WithPgClient(ctx context.Context, settings map[string]string, fn func(context.Context, pgaccess.Client) (any, error)) (any, error) {
	return p.withAcquired(ctx, p.pool, settings, fn)
}

// WithSuperuserPgClient implements pgaccess.Pool: it acquires from the
// superuser pool when PooledConfig.SuperuserDSN was set, otherwise falls
// back to the regular pool.
func (p *Pool) WithSuperuserPgClient(ctx context.Context, settings map[string]string, fn func(context.Context, pgaccess.Client) (any, error)) (any, error) {
	pool := p.pool
	if p.superuserPool != nil {
		pool = p.superuserPool
	}
	return p.withAcquired(ctx, pool, settings, fn)
}

// PoolSize implements pgaccess.Pool.
func (p *Pool) PoolSize() int {
	return int(p.pool.Config().MaxConns)
}

// Release implements pgaccess.Pool.
func (p *Pool) Release() error {
	p.relMu.Lock()
	if p.released {
		p.relMu.Unlock()
		return pgerrors.ErrDoubleRelease
	}
	p.released = true
	p.relMu.Unlock()

	if !p.ownsDriver {
		return nil
	}
	if p.superuserPool != nil {
		p.superuserPool.Close()
	}
	p.pool.Close()
	return nil
}
