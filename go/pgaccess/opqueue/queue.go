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

// Package opqueue implements the per-client serialization slot: a chained
// "latest operation" reference that later callers wait on before running,
// preventing a setting-scoped operation from interleaving with another
// operation on the same logical connection.
package opqueue

import (
	"context"
	"sync/atomic"
)

// Queue serializes operations on one logical connection. The zero value is
// ready to use. It is a single atomic.Pointer chain: each Do call swaps in
// a fresh "done" channel for itself and waits on whatever channel the
// previous caller installed, so a chain of Do calls runs strictly one at a time
// without a held lock spanning the (possibly long, I/O-bound) operation.
type Queue struct {
	tail atomic.Pointer[chan struct{}]
}

// Do waits for any operation already queued to finish, then runs fn, then
// signals the next waiter. If ctx is cancelled while waiting for a prior
// operation to finish, fn does not run and ctx.Err() is returned.
//
// Do is re-entrant on the ctx it hands fn: a caller already holding this
// Queue's slot (e.g. WithTransaction's callback) can call Do again with
// that same ctx — directly, or through another op that queues on ctx — and
// runs fn immediately instead of queuing behind itself, which would
// deadlock forever waiting on a slot it can never close.
func (q *Queue) Do(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	if ctx.Value(q) != nil {
		return fn(ctx)
	}

	mySlot := make(chan struct{})
	prev := q.tail.Swap(&mySlot)

	if prev != nil {
		select {
		case <-*prev:
		case <-ctx.Done():
			// Pass the slot on only once the operation ahead has finished,
			// so a later caller never overtakes an operation still running.
			go func() {
				<-*prev
				close(mySlot)
			}()
			return nil, ctx.Err()
		}
	}

	defer close(mySlot)
	return fn(context.WithValue(ctx, q, true))
}
