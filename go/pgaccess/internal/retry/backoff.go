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

// Package retry implements exponential backoff with jitter for reconnect loops.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff manages exponential backoff state for retry loops.
// Use the iterator-style StartAttempt method to implement retry logic.
//
// Example usage:
//
//	b := retry.New(100*time.Millisecond, 30*time.Second)
//	for {
//	    if err := b.StartAttempt(ctx); err != nil {
//	        return err // Context cancelled or timed out
//	    }
//	    err := reconnect()
//	    if err == nil {
//	        return nil
//	    }
//	    // Will backoff before next attempt
//	}
type Backoff struct {
	cfg     backoffConfig
	attempt int
	timer   Timer
}

// Timer abstracts time.After so tests can inject a fake clock.
type Timer interface {
	After(d time.Duration) <-chan time.Time
}

type realTimer struct{}

func (realTimer) After(d time.Duration) <-chan time.Time { return time.After(d) }

// backoffConfig holds the configuration for backoff behavior.
type backoffConfig struct {
	// BaseDelay is the base delay for exponential backoff (delay = baseDelay x 2^attempt).
	// With Full Jitter, actual delays range from 0 to the computed delay.
	BaseDelay time.Duration

	// MaxDelay is the maximum delay between retry attempts.
	MaxDelay time.Duration

	// InitialDelay adds a delay before the first attempt (attempt 0).
	InitialDelay bool

	// backoff strategy for calculating delays between retries.
	backoff backoff
}

// Option is a functional option for configuring a Backoff.
type Option func(*backoffConfig)

// WithInitialDelay configures the backoff to add a delay before the first attempt.
func WithInitialDelay() Option {
	return func(c *backoffConfig) { c.InitialDelay = true }
}

// New creates a new Backoff with the given baseDelay and maxDelay, plus optional configuration.
// Panics if the parameters are invalid (represents a coding error).
func New(baseDelay, maxDelay time.Duration, opts ...Option) *Backoff {
	if baseDelay <= 0 {
		panic("retry: BaseDelay must be positive")
	}
	if maxDelay <= 0 {
		panic("retry: MaxDelay must be positive")
	}
	if baseDelay > maxDelay {
		panic("retry: BaseDelay cannot be greater than MaxDelay")
	}

	cfg := backoffConfig{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		backoff:   newExponentialFullJitterBackoff(baseDelay, maxDelay),
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &Backoff{
		cfg:   cfg,
		timer: realTimer{},
	}
}

// StartAttempt prepares for the next retry attempt by waiting for the backoff delay.
// On the first call (attempt 0), it returns immediately unless WithInitialDelay was configured.
func (b *Backoff) StartAttempt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	shouldWait := b.attempt > 0 || b.cfg.InitialDelay

	if shouldWait {
		delay := b.cfg.backoff.nextDelay()

		select {
		case <-b.timer.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.attempt++

	return nil
}

// Attempt returns the current attempt number (1-indexed after first StartAttempt call).
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset resets the backoff state to the initial delay.
//
// Use this once a connection has proven stable, so that a future failure
// starts from the minimum backoff rather than wherever the counter had
// climbed to.
func (b *Backoff) Reset() {
	b.cfg.backoff.reset()
}

// backoff calculates retry delays and manages backoff state.
type backoff interface {
	nextDelay() time.Duration
	reset()
}

// exponentialFullJitterBackoff implements exponential backoff with Full Jitter:
// sleep = random_between(0, min(cap, base * 2^attempt))
//
// Reference: https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
type exponentialFullJitterBackoff struct {
	baseDelay     time.Duration
	maxDelay      time.Duration
	rng           *rand.Rand
	disableJitter bool // for deterministic testing

	mu      sync.Mutex
	attempt int
}

func newExponentialFullJitterBackoff(baseDelay, maxDelay time.Duration) *exponentialFullJitterBackoff {
	return &exponentialFullJitterBackoff{
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(time.Now().UnixNano()))),
	}
}

func newExponentialBackoffNoJitter(baseDelay, maxDelay time.Duration) *exponentialFullJitterBackoff {
	return &exponentialFullJitterBackoff{
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
		disableJitter: true,
	}
}

func (e *exponentialFullJitterBackoff) nextDelay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	attempt := e.attempt
	if attempt > 62 {
		attempt = 62
	}

	multiplier := int64(1 << attempt)
	baseDelayInt := int64(e.baseDelay)

	var delay time.Duration
	if baseDelayInt > 0 && multiplier > math.MaxInt64/baseDelayInt {
		delay = e.maxDelay
	} else {
		delay = time.Duration(baseDelayInt * multiplier)
		if delay > e.maxDelay {
			delay = e.maxDelay
		}
	}

	if !e.disableJitter {
		delay = time.Duration(float64(delay) * e.rng.Float64())
	}

	e.attempt++

	return delay
}

func (e *exponentialFullJitterBackoff) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempt = 0
}
