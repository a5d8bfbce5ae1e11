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
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/xdg-go/stringprep"
	"golang.org/x/crypto/pbkdf2"
)

const scramSHA256Mechanism = "SCRAM-SHA-256"

// scramAuthenticate drives the client side of RFC 5802 SCRAM-SHA-256 in
// response to an AuthenticationSASL challenge. Channel binding is not
// offered ("n,,"): this connection never runs over a TLS session whose
// binding data Conn has access to.
func (c *Conn) scramAuthenticate(cfg Config, m *pgproto3.AuthenticationSASL) error {
	if !slices.Contains(m.AuthMechanisms, scramSHA256Mechanism) {
		return fmt.Errorf("wireconn: server does not offer %s, only %v", scramSHA256Mechanism, m.AuthMechanisms)
	}

	clientNonce, err := scramNonce()
	if err != nil {
		return fmt.Errorf("scram: generate client nonce: %w", err)
	}
	clientFirstBare := "n=,r=" + clientNonce
	clientFirst := "n,," + clientFirstBare

	c.fe.Send(&pgproto3.SASLInitialResponse{AuthMechanism: scramSHA256Mechanism, Data: []byte(clientFirst)})
	if err := c.fe.Flush(); err != nil {
		return fmt.Errorf("scram: send client-first-message: %w", err)
	}

	msg, err := c.fe.Receive()
	if err != nil {
		return fmt.Errorf("scram: receive server-first-message: %w", err)
	}
	cont, ok := msg.(*pgproto3.AuthenticationSASLContinue)
	if !ok {
		if e, ok := msg.(*pgproto3.ErrorResponse); ok {
			return diagnosticFromError(e)
		}
		return fmt.Errorf("scram: expected AuthenticationSASLContinue, got %T", msg)
	}

	serverFirst := string(cont.Data)
	serverNonce, salt, iterations, err := scramParseServerFirstMessage(serverFirst)
	if err != nil {
		return fmt.Errorf("scram: %w", err)
	}
	if !strings.HasPrefix(serverNonce, clientNonce) {
		return errors.New("scram: server nonce does not extend client nonce")
	}

	saltedPassword := scramSaltedPassword(cfg.Password, salt, iterations)
	clientKey := scramHMAC(saltedPassword, "Client Key")
	storedKeySum := sha256.Sum256(clientKey)
	storedKey := storedKeySum[:]

	clientFinalWithoutProof := "c=biws,r=" + serverNonce
	authMessage := clientFirstBare + "," + serverFirst + "," + clientFinalWithoutProof

	clientSignature := scramHMAC(storedKey, authMessage)
	clientProof, err := scramXOR(clientKey, clientSignature)
	if err != nil {
		return fmt.Errorf("scram: %w", err)
	}
	clientFinal := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)

	c.fe.Send(&pgproto3.SASLResponse{Data: []byte(clientFinal)})
	if err := c.fe.Flush(); err != nil {
		return fmt.Errorf("scram: send client-final-message: %w", err)
	}

	msg, err = c.fe.Receive()
	if err != nil {
		return fmt.Errorf("scram: receive server-final-message: %w", err)
	}
	final, ok := msg.(*pgproto3.AuthenticationSASLFinal)
	if !ok {
		if e, ok := msg.(*pgproto3.ErrorResponse); ok {
			return diagnosticFromError(e)
		}
		return fmt.Errorf("scram: expected AuthenticationSASLFinal, got %T", msg)
	}

	serverSignature, err := scramVerifyServerFinal(string(final.Data))
	if err != nil {
		return fmt.Errorf("scram: %w", err)
	}
	serverKey := scramHMAC(saltedPassword, "Server Key")
	expected := scramHMAC(serverKey, authMessage)
	if subtle.ConstantTimeCompare(expected, serverSignature) != 1 {
		return errors.New("scram: server signature mismatch, possible MITM")
	}

	msg, err = c.fe.Receive()
	if err != nil {
		return fmt.Errorf("scram: receive final AuthenticationOk: %w", err)
	}
	if _, ok := msg.(*pgproto3.AuthenticationOk); !ok {
		if e, ok := msg.(*pgproto3.ErrorResponse); ok {
			return diagnosticFromError(e)
		}
		return fmt.Errorf("scram: expected AuthenticationOk, got %T", msg)
	}
	return nil
}

// scramNonce returns a base64-encoded 18-byte client nonce, printable per
// RFC 5802's requirement that it contain no comma.
func scramNonce() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// scramParseServerFirstMessage parses "r=<nonce>,s=<salt>,i=<iterations>".
func scramParseServerFirstMessage(msg string) (nonce string, salt []byte, iterations int, err error) {
	for attr := range strings.SplitSeq(msg, ",") {
		switch {
		case strings.HasPrefix(attr, "r="):
			nonce = attr[2:]
		case strings.HasPrefix(attr, "s="):
			salt, err = base64.StdEncoding.DecodeString(attr[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("invalid salt: %w", err)
			}
		case strings.HasPrefix(attr, "i="):
			iterations, err = strconv.Atoi(attr[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("invalid iteration count: %w", err)
			}
		}
	}
	if nonce == "" || salt == nil || iterations == 0 {
		return "", nil, 0, fmt.Errorf("malformed server-first-message %q", msg)
	}
	return nonce, salt, iterations, nil
}

// scramVerifyServerFinal parses "v=<signature>" and returns the decoded
// signature bytes.
func scramVerifyServerFinal(msg string) ([]byte, error) {
	if !strings.HasPrefix(msg, "v=") {
		return nil, fmt.Errorf("malformed server-final-message %q", msg)
	}
	return base64.StdEncoding.DecodeString(msg[2:])
}

// scramSaltedPassword computes SaltedPassword = Hi(SASLprep(password), salt,
// iterations) via PBKDF2-HMAC-SHA-256. A password that fails SASLprep
// normalization is hashed as-is, matching PostgreSQL's lenient behavior.
func scramSaltedPassword(password string, salt []byte, iterations int) []byte {
	normalized, err := stringprep.SASLprep.Prepare(password)
	if err != nil {
		normalized = password
	}
	return pbkdf2.Key([]byte(normalized), salt, iterations, sha256.Size, sha256.New)
}

func scramHMAC(key []byte, message string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return h.Sum(nil)
}

func scramXOR(a, b []byte) ([]byte, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("xor length mismatch (%d vs %d)", len(a), len(b))
	}
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out, nil
}
