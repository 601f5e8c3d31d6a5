// Copyright 2024 The cutout.io Authors
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

package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"k8s.io/apimachinery/pkg/util/wait"
)

const DefaultLockExpiry = 30 * time.Second

var ErrLockHeld = errors.New("lock is held by another owner")

// Mutex is a redis backed lock shared by every replica using the same name.
type Mutex struct {
	name   string
	expiry time.Duration
	rs     *redsync.Redsync
}

func NewMutex(cli *redis.Client, name string, expiry time.Duration) *Mutex {
	if expiry <= 0 {
		expiry = DefaultLockExpiry
	}
	return &Mutex{
		name:   name,
		expiry: expiry,
		rs:     redsync.New(goredis.NewPool(cli)),
	}
}

func (c *Client) NewMutex(name string, expiry time.Duration) *Mutex {
	return NewMutex(c.Client, name, expiry)
}

// TryLock makes a single attempt and returns ErrLockHeld when another owner holds the lock.
func (m *Mutex) TryLock(ctx context.Context) (func(), error) {
	mutex := m.rs.NewMutex(m.name, redsync.WithExpiry(m.expiry), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		return nil, ErrLockHeld
	}
	return func() {
		// the lock may already have expired, nothing to do then
		_, _ = mutex.UnlockContext(context.Background())
	}, nil
}

// Hold blocks until the lock is acquired, then keeps extending it until ctx is done.
func (m *Mutex) Hold(ctx context.Context, onAcquired func(ctx context.Context)) error {
	mutex := m.rs.NewMutex(m.name, redsync.WithExpiry(m.expiry), redsync.WithTries(1))
	err := wait.PollUntilContextCancel(ctx, m.expiry/3, true, func(ctx context.Context) (bool, error) {
		return mutex.LockContext(ctx) == nil, nil
	})
	if err != nil {
		return err
	}
	defer func() {
		_, _ = mutex.UnlockContext(context.Background())
	}()

	heldctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		ticker := time.NewTicker(m.expiry / 3)
		defer ticker.Stop()
		for {
			select {
			case <-heldctx.Done():
				return
			case <-ticker.C:
				if ok, err := mutex.ExtendContext(heldctx); err != nil || !ok {
					// lost the lock, stop the holder
					return
				}
			}
		}
	}()
	onAcquired(heldctx)
	return nil
}
