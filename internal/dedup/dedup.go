// Copyright (c) 2026 John Earle
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

// Package dedup provides the exactly-once-per-key primitive: an atomic
// set-if-absent with expiry. The per-message processing lock and the daily
// bounce marker are both built on it, so concurrent deliveries of the same
// message, or concurrent bounce reports for the same address, never both
// take effect.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLockTTL bounds how long a crashed holder can block a key.
	DefaultLockTTL = 60 * time.Second

	// keyPrefix namespaces keys in the backing store.
	keyPrefix = "receiver:"
)

// ErrLockTimeout is returned when a lock could not be taken in time.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// Store is an atomic set-if-absent with expiry.
type Store interface {
	// SetNX sets key to value with ttl if key does not exist and reports
	// whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only if it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) error
}

// Filter tracks keys that have already been claimed.
type Filter struct {
	store       Store
	lockTTL     time.Duration
	lockWait    time.Duration
	pollInitial time.Duration
	pollMax     time.Duration
}

// Option configures a Filter.
type Option func(*Filter)

// WithLockWait sets how long Lock waits for a held key.
func WithLockWait(d time.Duration) Option {
	return func(f *Filter) { f.lockWait = d }
}

// WithLockTTL sets the expiry of lock keys.
func WithLockTTL(d time.Duration) Option {
	return func(f *Filter) { f.lockTTL = d }
}

// NewFilter creates a filter on store.
func NewFilter(store Store, opts ...Option) *Filter {
	f := &Filter{
		store:       store,
		lockTTL:     DefaultLockTTL,
		lockWait:    DefaultLockTTL,
		pollInitial: 10 * time.Millisecond,
		pollMax:     500 * time.Millisecond,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Once claims key for ttl and reports whether this caller was first.
func (f *Filter) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	set, err := f.store.SetNX(ctx, keyPrefix+key, "1", ttl)
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Forget releases a key claimed with Once so the next caller is first again.
func (f *Filter) Forget(ctx context.Context, key string) error {
	if err := f.store.CompareAndDelete(ctx, keyPrefix+key, "1"); err != nil {
		return fmt.Errorf("dedup release: %w", err)
	}
	return nil
}

// Lock takes an exclusive lock on key, polling with backoff until the lock
// wait elapses. The returned release func deletes the key only if this
// holder still owns it.
func (f *Filter) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := keyPrefix + "lock:" + key
	token := uuid.NewString()

	deadline := time.Now().Add(f.lockWait)
	delay := f.pollInitial
	for {
		set, err := f.store.SetNX(ctx, fullKey, token, f.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if set {
			break
		}
		if time.Now().Add(delay).After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		if delay *= 2; delay > f.pollMax {
			delay = f.pollMax
		}
	}

	release := func() {
		// Release must run even when the attempt's context is done.
		if err := f.store.CompareAndDelete(context.WithoutCancel(ctx), fullKey, token); err != nil {
			slog.Warn("failed to release lock", "key", key, "error", err)
		}
	}
	return release, nil
}
