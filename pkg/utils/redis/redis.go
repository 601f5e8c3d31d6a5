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
	"fmt"

	"cutout.io/cutout/pkg/utils"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/pflag"
)

type Options struct {
	Addr     string `json:"addr,omitempty" description:"redis address"`
	Username string `json:"username,omitempty" description:"redis username"`
	Password string `json:"password,omitempty" description:"redis password"`
	DB       int    `json:"db,omitempty" description:"redis database index"`
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Addr, utils.JoinFlagName(prefix, "addr"), o.Addr, "redis address")
	fs.StringVar(&o.Username, utils.JoinFlagName(prefix, "username"), o.Username, "redis username")
	fs.StringVar(&o.Password, utils.JoinFlagName(prefix, "password"), o.Password, "redis password")
	fs.IntVar(&o.DB, utils.JoinFlagName(prefix, "db"), o.DB, "redis database index")
}

func (o *Options) ToDsn() string {
	if len(o.Password) == 0 {
		return fmt.Sprintf("redis://%s/%v", o.Addr, o.DB)
	}
	return fmt.Sprintf("redis://%s:%s@%s/%v", o.Username, o.Password, o.Addr, o.DB)
}

func NewDefaultOptions() *Options {
	return &Options{
		Addr:     "cutout-redis:6379",
		Password: "",
	}
}

type Client struct {
	*redis.Client
}

func NewClient(options *Options) (*Client, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     options.Addr,
		Username: options.Username,
		Password: options.Password,
		DB:       options.DB,
	})
	return &Client{Client: cli}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}
