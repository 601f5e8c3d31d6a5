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
	"encoding/json"
	"errors"
	"path"
	"sort"
	"time"

	"cutout.io/cutout/pkg/log"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	submitQueue    = "submit"
	controlChannel = "control"

	taskKeyPrefix    = "tasks/"
	stateKeyPrefix   = "states/"
	revokedKeyPrefix = "revoked/"
)

type Client struct {
	backend   Backend
	resultTTL time.Duration
}

func NewClientFromRedisClient(cli *redis.Client, options *Options) *Client {
	return NewClientFromBackend(NewRedisBackendFromClient(cli), options)
}

func NewClientFromBackend(backend Backend, options *Options) *Client {
	if options == nil {
		options = NewDefaultOptions()
	}
	return &Client{backend: backend, resultTTL: options.ResultTTL}
}

// SubmitTask freezes the task and publishes it. It returns the task ids of the
// units. No state is written for them; Status reads unknown ids as PENDING.
// The caller's step tree is left untouched and ids already set on units are
// kept.
func (c *Client) SubmitTask(ctx context.Context, task Task) ([]string, error) {
	if task.Name == "" {
		return nil, errors.New("empty task name")
	}
	task.Steps = cloneSteps(task.Steps)
	if task.OnError != nil {
		onerror := *task.OnError
		task.OnError = &onerror
	}
	task.CreationTimestamp = metav1.Now()
	if task.UID == "" {
		task.UID = uuid.New().String()
	}
	if task.Status == nil {
		task.Status = &TaskStatus{Status: TaskStatusPending}
	}
	ids := Freeze(&task)

	log.FromContextOrDiscard(ctx).V(5).Info("submit task", "name", task.Name, "uid", task.UID, "ids", ids)

	content, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	if err := c.backend.Put(ctx, taskKey(task.Group, task.Name, task.UID), content, c.resultTTL); err != nil {
		return nil, err
	}
	if err := c.backend.Pub(ctx, submitQueue, task.UID, content); err != nil {
		return nil, err
	}
	return ids, nil
}

// Status returns the state of the unit with task id. Unknown ids are PENDING.
func (c *Client) Status(ctx context.Context, id string) (TaskStatusCode, error) {
	state, err := c.UnitState(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TaskStatusPending, nil
		}
		return "", err
	}
	return state.Status.Status, nil
}

func (c *Client) UnitState(ctx context.Context, id string) (*UnitState, error) {
	val, err := c.backend.Get(ctx, stateKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	state := &UnitState{}
	if err := json.Unmarshal(val, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Terminate marks the unit revoked, so a server skips it when it gets there,
// and asks the server running it to stop.
func (c *Client) Terminate(ctx context.Context, id string, signal Signal) error {
	log.FromContextOrDiscard(ctx).Info("terminate", "id", id, "signal", signal)
	if err := c.backend.Put(ctx, revokedKeyPrefix+id, []byte(signal), c.resultTTL); err != nil {
		return err
	}
	content, err := json.Marshal(controlMessage{ID: id, Signal: signal})
	if err != nil {
		return err
	}
	return c.backend.Broadcast(ctx, controlChannel, content)
}

func (c *Client) ListTasks(ctx context.Context, group, name string) ([]Task, error) {
	keyprefix := taskKeyPrefix
	if group != "" || name != "" {
		keyprefix = taskKeyPrefix + path.Join(group, name) + "/"
	}

	kvs, err := c.backend.List(ctx, keyprefix)
	if err != nil {
		return nil, err
	}

	list := make([]Task, 0, len(kvs))
	for _, v := range kvs {
		task := Task{}
		if err := json.Unmarshal(v, &task); err != nil {
			continue
		}
		list = append(list, task)
	}

	sort.Slice(list, func(i, j int) bool {
		return !list[i].CreationTimestamp.Before(&list[j].CreationTimestamp)
	})
	return list, nil
}

func (c *Client) RemoveTask(ctx context.Context, group, name string, uid string) error {
	return c.backend.Del(ctx, taskKey(group, name, uid))
}

func taskKey(group, name, uid string) string {
	return taskKeyPrefix + path.Join(group, name, uid)
}
