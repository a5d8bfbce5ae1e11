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

// Package lrucache implements the bounded, per-connection cache of
// server-side PREPAREd statements that sits above backends with no native
// statement cache: lookup/prepare/evict/execute, recovery from server-side
// statement loss, and a weak-vs-strong client-key split.
package lrucache

import (
	"container/list"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/supabase/pgaccess/pgerrors"

	"github.com/supabase/pgaccess"
)

// digestHexLen is the width of the cache key: the first 16 hex characters
// (64 bits) of an MD5 digest. The resulting collision risk is accepted
// rather than widening it; keeping it a named constant lets a future
// config knob change it without touching call sites.
const digestHexLen = 16

// stringKeyCap bounds the process-global string-keyed table: entries are
// tracked strongly, with an eviction guard that drops the oldest when the
// strong table exceeds 100 entries.
const stringKeyCap = 100

const namePrefix = "pgstmt"

// Executor runs a single SQL statement against one physical connection and
// reports the row set plus the backend's row-count command tag. arrayMode
// tells the backend's row materialization whether the caller wants
// column-name metadata attached to the result: true asks for bare
// positional rows (column names dropped, for a caller that will only
// Scan positionally), false asks the
// backend to retain field names so pgaccess.Rows.Columns() can answer.
// PREPARE/DEALLOCATE calls have no result set and ignore it.
type Executor func(ctx context.Context, sql string, args []any, arrayMode bool) (pgaccess.Rows, int64, error)

type entry struct {
	key        string
	name       string
	text       string
	paramCount int
}

// connState is the per-connection bookkeeping: a bounded LRU of prepared
// statements plus a monotonic counter for minting unique statement names.
type connState struct {
	mu      sync.Mutex
	order   *list.List // front = most recently used; Value is *entry
	byKey   map[string]*list.Element
	full    map[string]*entry
	counter uint64
}

func newConnState() *connState {
	return &connState{
		order: list.New(),
		byKey: map[string]*list.Element{},
		full:  map[string]*entry{},
	}
}

// Manager is the LRU prepared-statement cache. The zero value is not
// usable; construct with New.
type Manager struct {
	id      string
	maxSize int
	log     *slog.Logger

	objectStates sync.Map // *pgaccess.ConnHandle -> *connState

	mu           sync.Mutex
	stringStates map[string]*connState
	stringOrder  *list.List // front = most recently used string key
	stringElems  map[string]*list.Element
}

var managerSeq atomic.Uint64

// Option configures a Manager at construction.
type Option func(*Manager)

// WithLogger overrides the logger used for eviction/recovery diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// New creates a Manager bounded to maxSize live prepared statements per
// connection. maxSize <= 0 disables caching: every call short-circuits to
// direct execution (PG_PREPARED_STATEMENT_CACHE_SIZE=0).
func New(maxSize int, opts ...Option) *Manager {
	m := &Manager{
		id:           strconv.FormatUint(managerSeq.Add(1), 10),
		maxSize:      maxSize,
		log:          slog.Default(),
		stringStates: map[string]*connState{},
		stringOrder:  list.New(),
		stringElems:  map[string]*list.Element{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Execute runs a query through the prepared-statement cache. connKey is either a
// *pgaccess.ConnHandle (object-keyed, one state per physical connection) or
// a string (string-keyed, strongly tracked and capped at 100 entries).
// arrayMode reaches the backend's Executor on every row-returning call, so
// its materialize step can decide whether to attach column-name metadata
// (see the Executor doc comment) — the LRU manager itself has no row-shape
// opinion, it just keeps arrayMode flowing to the same exec call the cache
// hit, cache miss, and PREPARE-failure-fallback paths all end at.
func (m *Manager) Execute(ctx context.Context, connKey any, name, text string, args []any, exec Executor, arrayMode bool) (pgaccess.Result, error) {
	return m.executeInternal(ctx, connKey, name, text, args, exec, arrayMode, false)
}

func (m *Manager) executeInternal(ctx context.Context, connKey any, name, text string, args []any, exec Executor, arrayMode, retried bool) (pgaccess.Result, error) {
	if m.shortCircuit(name, args) || m.maxSize <= 0 {
		rows, n, err := exec(ctx, text, args, arrayMode)
		if err != nil {
			return pgaccess.Result{}, &pgerrors.QueryError{SQL: text, Inner: err}
		}
		return pgaccess.Result{Rows: rows, RowCount: n}, nil
	}

	state := m.stateFor(connKey)
	key := digest(text, len(args))

	e, ok := m.lookup(state, key)
	if !ok {
		var err error
		e, err = m.prepare(ctx, state, key, text, len(args), exec)
		if err != nil {
			// PREPARE failures downgrade to direct execution; they are
			// never fatal to the query.
			rows, n, dErr := exec(ctx, text, args, arrayMode)
			if dErr != nil {
				return pgaccess.Result{}, &pgerrors.QueryError{SQL: text, Inner: dErr}
			}
			return pgaccess.Result{Rows: rows, RowCount: n}, nil
		}
		m.evictOne(ctx, state, exec)
	}

	rows, n, err := m.execute(ctx, e, args, exec, arrayMode)
	if err != nil {
		if pgerrors.IsDoesNotExist(err) {
			if !retried {
				return m.recoverOnce(ctx, state, key, connKey, name, text, args, exec, arrayMode)
			}
			// The retry itself hit the same "does not exist" error: the
			// server dropped the statement a second time (a mid-session
			// DISCARD, or a pooler that recycled the underlying connection).
			// Surface that as PreparedStatementLoss rather than a generic
			// QueryError, since the caller's EXECUTE never ran.
			return pgaccess.Result{}, &pgerrors.PreparedStatementLoss{Name: e.name, Inner: err}
		}
		return pgaccess.Result{}, &pgerrors.QueryError{SQL: text, Inner: err}
	}
	return pgaccess.Result{Rows: rows, RowCount: n}, nil
}

// shortCircuit reports whether a query is not a candidate for caching at
// all: an unnamed query, or one with no values to bind.
func (m *Manager) shortCircuit(name string, args []any) bool {
	return name == "" || len(args) == 0
}

func digest(text string, paramCount int) string {
	sum := md5.Sum([]byte(text + ":" + strconv.Itoa(paramCount)))
	return hex.EncodeToString(sum[:])[:digestHexLen]
}

func (m *Manager) lookup(state *connState, key string) (*entry, bool) {
	state.mu.Lock()
	defer state.mu.Unlock()
	elem, ok := state.byKey[key]
	if !ok {
		return nil, false
	}
	state.order.MoveToFront(elem)
	return elem.Value.(*entry), true
}

func (m *Manager) prepare(ctx context.Context, state *connState, key, text string, paramCount int, exec Executor) (*entry, error) {
	state.mu.Lock()
	counter := state.counter
	state.counter++
	state.mu.Unlock()

	name := fmt.Sprintf("%s_%s_%d", namePrefix, m.id, counter)
	if _, _, err := exec(ctx, "PREPARE "+name+" AS "+text, nil, false); err != nil {
		return nil, err
	}

	e := &entry{key: key, name: name, text: text, paramCount: paramCount}
	state.mu.Lock()
	elem := state.order.PushFront(e)
	state.byKey[key] = elem
	state.full[key] = e
	state.mu.Unlock()
	return e, nil
}

// evictOne drops the least-recently-used entry once the connection's live
// statement count exceeds maxSize, issuing exactly one DEALLOCATE. Because
// eviction here is synchronous with insertion, the bounded order/byKey map
// and the full map never diverge in this implementation, unlike an
// implementation that evicts lazily and lets the full map transiently
// exceed the LRU bound.
func (m *Manager) evictOne(ctx context.Context, state *connState, exec Executor) {
	state.mu.Lock()
	if state.order.Len() <= m.maxSize {
		state.mu.Unlock()
		return
	}
	back := state.order.Back()
	victim := back.Value.(*entry)
	state.order.Remove(back)
	delete(state.byKey, victim.key)
	delete(state.full, victim.key)
	state.mu.Unlock()

	if _, _, err := exec(ctx, "DEALLOCATE "+victim.name, nil, false); err != nil {
		m.log.Warn("failed to deallocate evicted prepared statement", "name", victim.name, "error", err)
	}
}

func (m *Manager) execute(ctx context.Context, e *entry, args []any, exec Executor, arrayMode bool) (pgaccess.Rows, int64, error) {
	sql := "EXECUTE " + e.name + "(" + FormatArgs(args) + ")"
	return exec(ctx, sql, nil, arrayMode)
}

// recoverOnce handles a server-reported "does not
// exist" error: drop the stale entry and retry exactly once from the top.
// retried=true on the recursive call prevents an infinite loop if the
// server keeps dropping the statement.
func (m *Manager) recoverOnce(ctx context.Context, state *connState, key string, connKey any, name, text string, args []any, exec Executor, arrayMode bool) (pgaccess.Result, error) {
	state.mu.Lock()
	if elem, ok := state.byKey[key]; ok {
		state.order.Remove(elem)
		delete(state.byKey, key)
		delete(state.full, key)
	}
	state.mu.Unlock()
	return m.executeInternal(ctx, connKey, name, text, args, exec, arrayMode, true)
}

func (m *Manager) stateFor(connKey any) *connState {
	switch k := connKey.(type) {
	case *pgaccess.ConnHandle:
		if v, ok := m.objectStates.Load(k); ok {
			return v.(*connState)
		}
		actual, _ := m.objectStates.LoadOrStore(k, newConnState())
		return actual.(*connState)
	case string:
		return m.stringStateFor(k)
	default:
		panic(fmt.Sprintf("lrucache: unsupported client key type %T", connKey))
	}
}

func (m *Manager) stringStateFor(key string) *connState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stringStates[key]; ok {
		if el, ok := m.stringElems[key]; ok {
			m.stringOrder.MoveToFront(el)
		}
		return s
	}

	s := newConnState()
	m.stringStates[key] = s
	m.stringElems[key] = m.stringOrder.PushFront(key)

	if len(m.stringStates) > stringKeyCap {
		oldest := m.stringOrder.Back()
		oldestKey := oldest.Value.(string)
		m.stringOrder.Remove(oldest)
		delete(m.stringElems, oldestKey)
		delete(m.stringStates, oldestKey)
	}

	return s
}

// CleanupConnection issues DEALLOCATE for every live statement on connKey
// (logging, not raising, on failure) and drops its state.
func (m *Manager) CleanupConnection(ctx context.Context, connKey any, exec Executor) {
	state := m.removeState(connKey)
	if state == nil {
		return
	}
	state.mu.Lock()
	entries := make([]*entry, 0, len(state.full))
	for _, e := range state.full {
		entries = append(entries, e)
	}
	state.mu.Unlock()

	for _, e := range entries {
		if _, _, err := exec(ctx, "DEALLOCATE "+e.name, nil, false); err != nil {
			m.log.Warn("failed to deallocate prepared statement during cleanup", "name", e.name, "error", err)
		}
	}
}

// CleanupAll runs CleanupConnection for every string-keyed state. Object-keyed
// state is only removed by its own CleanupConnection call — see DESIGN.md's
// notes on pooled-connection lifecycle for why.
func (m *Manager) CleanupAll(ctx context.Context, execFor func(connKey string) Executor) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.stringStates))
	for k := range m.stringStates {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, k := range keys {
		m.CleanupConnection(ctx, k, execFor(k))
	}
}

func (m *Manager) removeState(connKey any) *connState {
	switch k := connKey.(type) {
	case *pgaccess.ConnHandle:
		v, ok := m.objectStates.LoadAndDelete(k)
		if !ok {
			return nil
		}
		return v.(*connState)
	case string:
		m.mu.Lock()
		defer m.mu.Unlock()
		s, ok := m.stringStates[k]
		if !ok {
			return nil
		}
		delete(m.stringStates, k)
		if el, ok := m.stringElems[k]; ok {
			m.stringOrder.Remove(el)
			delete(m.stringElems, k)
		}
		return s
	default:
		return nil
	}
}

// Stats reports cache occupancy. Only the string-keyed table can be
// enumerated — the object-keyed table has no iteration primitive by
// design; Stats mirrors that gap rather than inventing one.
type Stats struct {
	StringKeyedConnections  int
	TotalPreparedStatements int
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, s := range m.stringStates {
		s.mu.Lock()
		total += len(s.full)
		s.mu.Unlock()
	}
	return Stats{StringKeyedConnections: len(m.stringStates), TotalPreparedStatements: total}
}
