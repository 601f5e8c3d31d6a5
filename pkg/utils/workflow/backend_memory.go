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

package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cutout.io/cutout/pkg/log"
	"github.com/google/uuid"
)

var _ Backend = &InmemoryBackend{}

const inmemoryQueueSize = 1024

type kv struct {
	key        string
	val        []byte
	createTime time.Time
	expireTime time.Time
}

func (v kv) expired(now time.Time) bool {
	return !v.expireTime.IsZero() && v.expireTime.Before(now)
}

// InmemoryBackend keeps queues and states in process memory, only servers and
// clients sharing the same instance see each other. Nothing is persisted.
type InmemoryBackend struct {
	db     map[string]kv
	dblock sync.RWMutex

	queuelock sync.Mutex
	queues    map[string]chan kv

	listenlock sync.RWMutex
	listeners  map[string]map[string]OnChangeFunc
}

func NewInmemoryBackend(ctx context.Context) *InmemoryBackend {
	backend := &InmemoryBackend{
		db:        make(map[string]kv),
		queues:    make(map[string]chan kv),
		listeners: make(map[string]map[string]OnChangeFunc),
	}
	go backend.run(ctx)
	return backend
}

func (t *InmemoryBackend) run(ctx context.Context) {
	log := log.FromContextOrDiscard(ctx).WithName("inmemorybackend")
	duration := 1 * time.Minute
	log.V(5).Info("start expire worker", "duration", duration)
	timer := time.NewTimer(duration)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			t.removeExpired(ctx)
			timer.Reset(duration)
		}
	}
}

func (t *InmemoryBackend) removeExpired(ctx context.Context) {
	log := log.FromContextOrDiscard(ctx)
	t.dblock.Lock()
	defer t.dblock.Unlock()

	now := time.Now()
	for k, v := range t.db {
		if v.expired(now) {
			log.V(5).Info("remove expired", "key", k)
			delete(t.db, k)
		}
	}
}

func (t *InmemoryBackend) queue(name string) chan kv {
	t.queuelock.Lock()
	defer t.queuelock.Unlock()
	q, ok := t.queues[name]
	if !ok {
		q = make(chan kv, inmemoryQueueSize)
		t.queues[name] = q
	}
	return q
}

func (t *InmemoryBackend) Del(ctx context.Context, key string) error {
	log.FromContextOrDiscard(ctx).V(5).Info("del", "key", key)
	t.dblock.Lock()
	defer t.dblock.Unlock()
	delete(t.db, key)
	return nil
}

func (t *InmemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	log.FromContextOrDiscard(ctx).V(5).Info("get", "key", key)
	t.dblock.RLock()
	defer t.dblock.RUnlock()
	v, ok := t.db[key]
	if !ok || v.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return v.val, nil
}

func (t *InmemoryBackend) List(ctx context.Context, keyprefix string) (map[string][]byte, error) {
	log.FromContextOrDiscard(ctx).V(5).Info("list", "keyprefix", keyprefix)
	ret := make(map[string][]byte)

	now := time.Now()
	t.dblock.RLock()
	defer t.dblock.RUnlock()
	for k, v := range t.db {
		if strings.HasPrefix(k, keyprefix) && !v.expired(now) {
			ret[k] = v.val
		}
	}
	return ret, nil
}

func (t *InmemoryBackend) Put(ctx context.Context, key string, val []byte, ttl ...time.Duration) error {
	log.FromContextOrDiscard(ctx).V(5).Info("put", "key", key, "val", string(val))
	item := kv{key: key, val: val, createTime: time.Now()}
	if len(ttl) > 0 && ttl[0] > 0 {
		item.expireTime = item.createTime.Add(ttl[0])
	}
	t.dblock.Lock()
	t.db[key] = item
	t.dblock.Unlock()
	return nil
}

func (t *InmemoryBackend) Pub(ctx context.Context, name string, key string, val []byte) error {
	log.FromContextOrDiscard(ctx).V(5).Info("pub", "name", name, "key", key)
	select {
	case t.queue(name) <- kv{key: key, val: val}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("queue %s is full", name)
	}
}

func (t *InmemoryBackend) Sub(ctx context.Context, name string, onchange OnChangeFunc, opts ...SubOption) error {
	options := &SubOptions{Concurrency: 1}
	for _, opt := range opts {
		opt(options)
	}
	log.FromContextOrDiscard(ctx).V(5).Info("sub", "name", name, "concurrency", options.Concurrency)

	q := t.queue(name)
	concurrency := make(chan struct{}, options.Concurrency)
	wg := sync.WaitGroup{}
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case concurrency <- struct{}{}:
		}
		select {
		case <-ctx.Done():
			return nil
		case item := <-q:
			wg.Add(1)
			go func() {
				defer func() {
					<-concurrency
					wg.Done()
				}()
				_ = onchange(ctx, item.key, item.val)
			}()
		}
	}
}

func (t *InmemoryBackend) Broadcast(ctx context.Context, channel string, val []byte) error {
	t.listenlock.RLock()
	fns := make([]OnChangeFunc, 0, len(t.listeners[channel]))
	for _, fn := range t.listeners[channel] {
		fns = append(fns, fn)
	}
	t.listenlock.RUnlock()
	for _, fn := range fns {
		_ = fn(ctx, channel, val)
	}
	return nil
}

func (t *InmemoryBackend) Listen(ctx context.Context, channel string, onmessage OnChangeFunc, opts ...ListenOption) error {
	options := newListenOptions(opts)
	uid := uuid.New().String()
	t.listenlock.Lock()
	if t.listeners[channel] == nil {
		t.listeners[channel] = map[string]OnChangeFunc{}
	}
	t.listeners[channel][uid] = onmessage
	t.listenlock.Unlock()
	options.OnSubscribed()
	defer func() {
		t.listenlock.Lock()
		delete(t.listeners[channel], uid)
		t.listenlock.Unlock()
	}()
	<-ctx.Done()
	return nil
}
