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

package wireconn

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/jackc/pgx/v5/pgproto3"
)

// authenticate drives the authentication sub-exchange that follows the
// startup message. It supports trust, cleartext password, MD5 password,
// and SCRAM-SHA-256 — every mechanism a self-hosted or container Postgres
// realistically presents.
func (c *Conn) authenticate(ctx context.Context, cfg Config) error {
	for {
		msg, err := c.fe.Receive()
		if err != nil {
			return fmt.Errorf("receive auth message: %w", err)
		}

		switch m := msg.(type) {
		case *pgproto3.AuthenticationOk:
			return nil

		case *pgproto3.AuthenticationCleartextPassword:
			c.fe.Send(&pgproto3.PasswordMessage{Password: cfg.Password})
			if err := c.fe.Flush(); err != nil {
				return fmt.Errorf("send cleartext password: %w", err)
			}

		case *pgproto3.AuthenticationMD5Password:
			c.fe.Send(&pgproto3.PasswordMessage{Password: md5Password(cfg.User, cfg.Password, m.Salt)})
			if err := c.fe.Flush(); err != nil {
				return fmt.Errorf("send md5 password: %w", err)
			}

		case *pgproto3.AuthenticationSASL:
			return c.scramAuthenticate(cfg, m)

		case *pgproto3.ErrorResponse:
			return diagnosticFromError(m)

		default:
			// AuthenticationKerberosV5, AuthenticationSCMCredential, and other
			// mechanisms nobody in this stack's target deployments uses are
			// deliberately left unhandled; the loop falls through and the
			// next Receive will surface whatever the server does instead.
		}
	}
}

// md5Password implements PostgreSQL's MD5 challenge response:
// "md5" + md5hex(md5hex(password+user) + salt).
func md5Password(user, password string, salt [4]byte) string {
	inner := md5Hex([]byte(password + user))
	outer := md5Hex(append([]byte(inner), salt[:]...))
	return "md5" + outer
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
