// Copyright (c) 2026 Arka Systems
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

// Package runlock provides a Redis-backed mutual-exclusion guard so that
// two sync runs never process the same mailbox concurrently. The ledger's
// settlement-event uniqueness constraint keeps a lost race safe; the lock
// keeps it from happening.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed run can hold the lock. A sync
	// over a multi-week window finishes well inside this.
	DefaultTTL = 30 * time.Minute

	// keyPrefix namespaces lock keys in Redis.
	keyPrefix = "mailsync:run:"
)

// ErrHeld is returned when another run already holds the mailbox lock.
var ErrHeld = errors.New("sync already running for mailbox")

// releaseScript deletes the lock only if it still holds our token, so a
// run that outlived its TTL cannot release a successor's lock.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Lock guards sync runs for one mailbox.
type Lock struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLock creates a run lock backed by Redis.
func NewLock(rdb *redis.Client) *Lock {
	return &Lock{rdb: rdb, ttl: DefaultTTL}
}

// Acquire takes the mailbox lock, returning a release function on success
// and ErrHeld when another run has it.
func (l *Lock) Acquire(ctx context.Context, mailbox string) (release func(context.Context) error, err error) {
	key := keyPrefix + mailbox
	token := uuid.New().String()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("runlock SETNX: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("runlock release: %w", err)
		}
		return nil
	}, nil
}

// Ping checks the Redis connection.
func (l *Lock) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return l.rdb.Ping(ctx).Err()
}
