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
	"errors"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Backend stores workflow data. The queue distributes tasks to servers, the kv
// store keeps task and unit states, the broadcast channel carries control messages.

const (
	DefaultGroup = "workflow-group"
)

var ErrNotFound = errors.New("key not found")

type OnChangeFunc func(ctx context.Context, key string, val []byte) error

type Backend interface {
	// queue, every message is consumed by exactly one subscriber of the queue.
	Sub(ctx context.Context, name string, onchange OnChangeFunc, opts ...SubOption) error
	Pub(ctx context.Context, name string, key string, val []byte) error

	// broadcast, every message is delivered to all listeners of the channel.
	Broadcast(ctx context.Context, channel string, val []byte) error
	Listen(ctx context.Context, channel string, onmessage OnChangeFunc, opts ...ListenOption) error

	// kv store
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, val []byte, ttl ...time.Duration) error
	Del(ctx context.Context, key string) error
	List(ctx context.Context, keyprefix string) (map[string][]byte, error)
}

type RedisBackend struct {
	kvprefix      string
	steamprefix   string
	channelprefix string
	cli           *redis.Client
}

func NewRedisBackend(addr, username, password string) *RedisBackend {
	cli := redis.NewClient(&redis.Options{Addr: addr, Username: username, Password: password})
	return NewRedisBackendFromClient(cli)
}

func NewRedisBackendFromClient(c *redis.Client) *RedisBackend {
	return &RedisBackend{
		kvprefix:      "/workflow-store/",
		steamprefix:   "/workflow-queue/",
		channelprefix: "/workflow-channel/",
		cli:           c,
	}
}

type SubOptions struct {
	AutoACK     bool // ack the message even when onchange returns an error
	Concurrency int
	Block       time.Duration // max time a single read waits for new messages
}

type SubOption func(o *SubOptions)

func WithConcurrency(con int) SubOption {
	return func(o *SubOptions) { o.Concurrency = con }
}

func WithAutoACK(ack bool) SubOption {
	return func(o *SubOptions) { o.AutoACK = ack }
}

type ListenOptions struct {
	OnSubscribed func() // called once the listener receives messages
}

type ListenOption func(o *ListenOptions)

func WithOnSubscribed(fn func()) ListenOption {
	return func(o *ListenOptions) { o.OnSubscribed = fn }
}

func newListenOptions(opts []ListenOption) *ListenOptions {
	options := &ListenOptions{OnSubscribed: func() {}}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func (b *RedisBackend) Sub(ctx context.Context, name string, onchange OnChangeFunc, opts ...SubOption) error {
	options := &SubOptions{Concurrency: 1, Block: time.Second}
	for _, opt := range opts {
		opt(options)
	}

	keyprefix := b.steamprefix + name

	consumergroup := DefaultGroup
	// https://redis.io/commands/xgroup-create
	if err := b.cli.XGroupCreateMkStream(ctx, keyprefix, consumergroup, "0").Err(); err != nil {
		if !strings.Contains(err.Error(), "BUSYGROUP") && !strings.Contains(err.Error(), "exists") {
			return err
		}
	}
	consumer, _ := os.Hostname()

	concurrentchan := make(chan struct{}, options.Concurrency)

	// read pending messages of this consumer once at start, then only new ones.
	shouldconsumeunacked := true
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		ids := ">"
		if shouldconsumeunacked {
			shouldconsumeunacked = false
			ids = "0"
		}
		// https://redis.io/commands/XREADGROUP
		result, err := b.cli.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumergroup,
			Consumer: consumer,
			Streams:  []string{keyprefix, ids},
			Block:    options.Block,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return err
		}

		for _, msgs := range result {
			for _, msg := range msgs.Messages {
				for k, v := range msg.Values {
					val := []byte{}
					switch data := v.(type) {
					case string:
						val = []byte(data)
					case []byte:
						val = data
					}

					select {
					case <-ctx.Done():
						return nil
					case concurrentchan <- struct{}{}:
						go func(stream, id, k string, v []byte) {
							defer func() { <-concurrentchan }()
							if err := onchange(ctx, k, v); err != nil && !options.AutoACK {
								return
							}
							b.cli.XAck(context.Background(), stream, consumergroup, id)
						}(msgs.Stream, msg.ID, k, val)
					}
				}
			}
		}
	}
}

func (b *RedisBackend) Pub(ctx context.Context, name string, key string, val []byte) error {
	keyprefix := b.steamprefix + name
	return b.cli.XAdd(ctx, &redis.XAddArgs{
		Stream: keyprefix,
		Values: map[string]interface{}{key: val},
	}).Err()
}

func (b *RedisBackend) Broadcast(ctx context.Context, channel string, val []byte) error {
	return b.cli.Publish(ctx, b.channelprefix+channel, val).Err()
}

func (b *RedisBackend) Listen(ctx context.Context, channel string, onmessage OnChangeFunc, opts ...ListenOption) error {
	options := newListenOptions(opts)
	pubsub := b.cli.Subscribe(ctx, b.channelprefix+channel)
	defer pubsub.Close()
	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	options.OnSubscribed()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			_ = onmessage(ctx, channel, []byte(msg.Payload))
		}
	}
}

func (b *RedisBackend) Put(ctx context.Context, key string, val []byte, ttl ...time.Duration) error {
	var expiration time.Duration
	if len(ttl) > 0 {
		expiration = ttl[0]
	}
	return b.cli.Set(ctx, b.kvprefix+key, val, expiration).Err()
}

func (b *RedisBackend) Del(ctx context.Context, key string) error {
	return b.cli.Del(ctx, b.kvprefix+key).Err()
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.cli.Get(ctx, b.kvprefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return val, err
}

func (b *RedisBackend) List(ctx context.Context, keyprefix string) (map[string][]byte, error) {
	prefixedKey := b.kvprefix + keyprefix
	iter := b.cli.Scan(ctx, 0, prefixedKey+"*", 0).Iterator()

	list := map[string][]byte{}
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := b.cli.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// expired between scan and get
				continue
			}
			return nil, err
		}
		list[strings.TrimPrefix(key, b.kvprefix)] = val
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
