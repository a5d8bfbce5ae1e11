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

// Package wireconn is a single PostgreSQL wire-protocol connection for the
// embedded backend: dial, authenticate, run statements over the simple
// query sub-protocol, and stream LISTEN/NOTIFY. It frames messages with
// pgx's pgproto3 package rather than hand-rolling byte layout, but owns its
// own connection lifecycle, authentication, and row handling — the three
// backends' wire client never had a row type that didn't route through
// generated query/AST packages out of scope here (see DESIGN.md).
package wireconn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/supabase/pgaccess/pgerrors"
)

// connBufferSize is a named sizing constant that nothing in this package
// reads: pgproto3 does its own internal chunked buffering, and the dial and
// read/write path use no explicit buffer size.
const connBufferSize = 16 * 1024

// Config holds the parameters needed to open and authenticate a connection.
type Config struct {
	Host        string
	Port        int
	SocketFile  string
	User        string
	Password    string
	Database    string
	Parameters  map[string]string
	DialTimeout time.Duration
}

// Conn is a single, non-multiplexed connection to a PostgreSQL server. It
// is not safe for concurrent use — the embedded backend serializes access
// to it with its own exclusive-execution mutex, so Conn itself does no
// locking of its own beyond what's needed to make Close safe to call
// from another goroutine while a query is in flight.
type Conn struct {
	netConn net.Conn
	fe      *pgproto3.Frontend

	processID uint32
	secretKey uint32

	serverParams map[string]string
	txStatus     byte

	closed atomic.Bool

	pendingMu  sync.Mutex
	pending    []notification
}

// notification is one buffered NotificationResponse, held until
// WaitForNotification picks it up. Needed because the server can deliver a
// notification interleaved with an ordinary command's response (here, the
// LISTEN command's own ReadyForQuery), not only while idle.
type notification struct {
	channel string
	payload string
}

// Connect dials the server and runs the startup/authentication handshake.
func Connect(ctx context.Context, cfg Config) (*Conn, error) {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}

	var netConn net.Conn
	var err error
	if cfg.SocketFile != "" {
		netConn, err = dialer.DialContext(ctx, "unix", cfg.SocketFile)
		if err != nil {
			return nil, fmt.Errorf("wireconn: dial unix socket %s: %w", cfg.SocketFile, err)
		}
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		netConn, err = dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("wireconn: dial %s: %w", addr, err)
		}
	}

	c := &Conn{
		netConn:      netConn,
		fe:           pgproto3.NewFrontend(netConn, netConn),
		serverParams: make(map[string]string),
	}

	if err := c.startup(ctx, cfg); err != nil {
		_ = netConn.Close()
		return nil, fmt.Errorf("wireconn: startup: %w", err)
	}
	return c, nil
}

func (c *Conn) startup(ctx context.Context, cfg Config) error {
	params := map[string]string{
		"user":     cfg.User,
		"database": cfg.Database,
	}
	for k, v := range cfg.Parameters {
		params[k] = v
	}

	c.fe.Send(&pgproto3.StartupMessage{ProtocolVersion: pgproto3.ProtocolVersionNumber, Parameters: params})
	if err := c.fe.Flush(); err != nil {
		return fmt.Errorf("send startup message: %w", err)
	}

	if err := c.authenticate(ctx, cfg); err != nil {
		return err
	}

	for {
		msg, err := c.fe.Receive()
		if err != nil {
			return fmt.Errorf("receive after auth: %w", err)
		}
		switch m := msg.(type) {
		case *pgproto3.ParameterStatus:
			c.serverParams[m.Name] = m.Value
		case *pgproto3.BackendKeyData:
			c.processID = m.ProcessID
			c.secretKey = m.SecretKey
		case *pgproto3.ReadyForQuery:
			c.txStatus = m.TxStatus
			return nil
		case *pgproto3.ErrorResponse:
			return diagnosticFromError(m)
		default:
			// NoticeResponse and anything else encountered before the first
			// ReadyForQuery is ignorable at startup.
		}
	}
}

// Close terminates the connection. Safe to call more than once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.fe.Send(&pgproto3.Terminate{})
	_ = c.fe.Flush()
	return c.netConn.Close()
}

// IsClosed reports whether Close has already run.
func (c *Conn) IsClosed() bool { return c.closed.Load() }

// ProcessID returns the backend process ID reported at startup.
func (c *Conn) ProcessID() uint32 { return c.processID }

// ServerParams returns the GUC values the server reported during startup.
func (c *Conn) ServerParams() map[string]string { return c.serverParams }

// TxStatus returns the most recently observed transaction status byte
// ('I' idle, 'T' in transaction, 'E' failed transaction).
func (c *Conn) TxStatus() byte { return c.txStatus }

func diagnosticFromError(m *pgproto3.ErrorResponse) error {
	return &pgerrors.PgDiagnostic{
		MessageType:      'E',
		Severity:         m.Severity,
		Code:             m.Code,
		Message:          m.Message,
		Detail:           m.Detail,
		Hint:             m.Hint,
		Position:         m.Position,
		InternalPosition: m.InternalPosition,
		InternalQuery:    m.InternalQuery,
		Where:            m.Where,
		Schema:           m.SchemaName,
		Table:            m.TableName,
		Column:           m.ColumnName,
		DataType:         m.DataTypeName,
		Constraint:       m.ConstraintName,
	}
}
