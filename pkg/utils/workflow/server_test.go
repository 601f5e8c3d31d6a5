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
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *redis.Client {
	s := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: s.Addr()})
}

func testOptions() *Options {
	opts := NewDefaultOptions()
	opts.RetryInterval = 10 * time.Millisecond
	opts.StepTimeout = 10 * time.Second
	opts.RevokeCheckInterval = 20 * time.Millisecond
	return opts
}

func startServer(t *testing.T, backend Backend, funcs map[string]interface{}) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if backend == nil {
		backend = NewInmemoryBackend(ctx)
	}
	s := NewServerFromBackend(backend, testOptions())
	for name, fn := range funcs {
		require.NoError(t, s.Register(name, fn))
	}
	go s.Run(ctx)
	return s.NewClient()
}

func waitStatus(t *testing.T, cli *Client, id string, want TaskStatusCode) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := cli.Status(context.Background(), id)
		return err == nil && got == want
	}, 5*time.Second, 10*time.Millisecond, "task %s never reached %s", id, want)
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
	return nil
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.calls...)
}

func TestServer_Sequence(t *testing.T) {
	rec := &recorder{}
	cli := startServer(t, nil, map[string]interface{}{"record": rec.record})

	ids, err := cli.SubmitTask(context.Background(), Task{
		Name: "sequence",
		Steps: []Step{
			Unit("a", "record", "a"),
			Sequence("group", Unit("b", "record", "b"), Unit("c", "record", "c")),
		},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	for _, id := range ids {
		waitStatus(t, cli, id, TaskStatusSuccess)
	}
	assert.Equal(t, []string{"a", "b", "c"}, rec.list())
}

func TestServer_Parallel(t *testing.T) {
	wg := sync.WaitGroup{}
	wg.Add(2)
	// both branches have to be running at the same time to pass the barrier
	barrier := func(ctx context.Context) error {
		wg.Done()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	cli := startServer(t, nil, map[string]interface{}{"barrier": barrier})

	ids, err := cli.SubmitTask(context.Background(), Task{
		Name:  "parallel",
		Steps: []Step{Parallel("both", Unit("left", "barrier"), Unit("right", "barrier"))},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	waitStatus(t, cli, ids[0], TaskStatusSuccess)
	waitStatus(t, cli, ids[1], TaskStatusSuccess)
}

func TestServer_ErrorHandler(t *testing.T) {
	type handled struct {
		req   ErrorRequest
		jobID string
	}
	handledch := make(chan handled, 1)
	rec := &recorder{}
	cli := startServer(t, nil, map[string]interface{}{
		"record": rec.record,
		"fail": func(_ context.Context, name string) error {
			return errors.New("boom")
		},
		"handler": func(_ context.Context, req ErrorRequest, jobID string) error {
			handledch <- handled{req: req, jobID: jobID}
			return nil
		},
	})

	onerror := Unit("handler", "handler", "job-1")
	ids, err := cli.SubmitTask(context.Background(), Task{
		Name: "failing",
		Steps: []Step{
			Unit("first", "record", "first"),
			Unit("second", "fail", "second"),
			Unit("third", "record", "third"),
		},
		OnError: &onerror,
	})
	require.NoError(t, err)
	require.Len(t, ids, 3, "error handler is not part of the task ids")

	select {
	case got := <-handledch:
		assert.Equal(t, "job-1", got.jobID)
		assert.Equal(t, ids[1], got.req.TaskID)
		assert.Equal(t, "fail", got.req.Function)
		assert.Equal(t, "boom", got.req.Error)
		require.Len(t, got.req.Args, 1)
		assert.JSONEq(t, `"second"`, string(got.req.Args[0]))
	case <-time.After(5 * time.Second):
		t.Fatal("error handler not called")
	}
	waitStatus(t, cli, ids[1], TaskStatusFailure)
	status, err := cli.Status(context.Background(), ids[2])
	require.NoError(t, err)
	assert.Equal(t, TaskStatusPending, status)
	assert.Equal(t, []string{"first"}, rec.list())
}

func TestServer_Retry(t *testing.T) {
	attempts := 0
	mu := sync.Mutex{}
	cli := startServer(t, nil, map[string]interface{}{
		"flaky": func() error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 3 {
				return errors.New("not yet")
			}
			return nil
		},
	})
	ids, err := cli.SubmitTask(context.Background(), Task{
		Name:  "retry",
		Steps: []Step{Unit("flaky", "flaky").WithRetries(2)},
	})
	require.NoError(t, err)
	waitStatus(t, cli, ids[0], TaskStatusSuccess)

	state, err := cli.UnitState(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, 2, state.Status.Retries)
	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
}

func TestServer_Terminate(t *testing.T) {
	started := make(chan struct{})
	once := sync.Once{}
	handlerCalled := make(chan struct{}, 1)
	rec := &recorder{}
	cli := startServer(t, nil, map[string]interface{}{
		"block": func(ctx context.Context) error {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return ctx.Err()
		},
		"record": rec.record,
		"handler": func(_ context.Context, _ ErrorRequest) error {
			handlerCalled <- struct{}{}
			return nil
		},
	})

	onerror := Unit("handler", "handler")
	ids, err := cli.SubmitTask(context.Background(), Task{
		Name:    "terminate",
		Steps:   []Step{Unit("block", "block").WithID("job-1"), Unit("after", "record", "after")},
		OnError: &onerror,
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", ids[0])

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("step not started")
	}
	status, _ := cli.Status(context.Background(), "job-1")
	assert.True(t, status.IsActive())

	require.Eventually(t, func() bool {
		_ = cli.Terminate(context.Background(), "job-1", SignalKill)
		status, err := cli.Status(context.Background(), "job-1")
		return err == nil && status == TaskStatusRevoked
	}, 5*time.Second, 20*time.Millisecond)

	assert.Never(t, func() bool { return len(handlerCalled) > 0 }, 200*time.Millisecond, 20*time.Millisecond)
	assert.Empty(t, rec.list())
	after, _ := cli.Status(context.Background(), ids[1])
	assert.False(t, after.IsActive())
}

func TestServer_RevokedWhileRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := NewInmemoryBackend(ctx)

	started := make(chan struct{})
	once := sync.Once{}
	cli := startServer(t, backend, map[string]interface{}{
		"block": func(ctx context.Context) error {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return ctx.Err()
		},
	})
	_, err := cli.SubmitTask(ctx, Task{
		Name:  "revoked",
		Steps: []Step{Unit("block", "block").WithID("job-1")},
	})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("step not started")
	}
	// mark only, no control message reaches the server
	require.NoError(t, backend.Put(ctx, revokedKeyPrefix+"job-1", []byte(SignalKill), time.Minute))
	waitStatus(t, cli, "job-1", TaskStatusRevoked)
}

// slowListenBackend holds back the control subscription until released.
type slowListenBackend struct {
	Backend
	release chan struct{}
}

func (b *slowListenBackend) Listen(ctx context.Context, channel string, onmessage OnChangeFunc, opts ...ListenOption) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil
	}
	return b.Backend.Listen(ctx, channel, onmessage, opts...)
}

func TestServer_ConsumesAfterControlSubscribed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := &slowListenBackend{Backend: NewInmemoryBackend(ctx), release: make(chan struct{})}

	rec := &recorder{}
	cli := startServer(t, backend, map[string]interface{}{"record": rec.record})
	_, err := cli.SubmitTask(ctx, Task{
		Name:  "waiting",
		Steps: []Step{Unit("record", "record", "first").WithID("first")},
	})
	require.NoError(t, err)

	assert.Never(t, func() bool { return len(rec.list()) > 0 }, 200*time.Millisecond, 20*time.Millisecond)
	close(backend.release)
	waitStatus(t, cli, "first", TaskStatusSuccess)
	assert.Equal(t, []string{"first"}, rec.list())
}

func TestServer_TerminateBeforeStart(t *testing.T) {
	rec := &recorder{}
	cli := startServer(t, nil, map[string]interface{}{"record": rec.record})

	require.NoError(t, cli.Terminate(context.Background(), "fixed", SignalKill))
	_, err := cli.SubmitTask(context.Background(), Task{
		Name:  "skipped",
		Steps: []Step{Unit("fixed", "record", "fixed").WithID("fixed")},
	})
	require.NoError(t, err)
	waitStatus(t, cli, "fixed", TaskStatusRevoked)
	assert.Empty(t, rec.list())
}

func TestServer_Addtionals(t *testing.T) {
	got := make(chan string, 1)
	cli := startServer(t, nil, map[string]interface{}{
		"value": func(ctx context.Context) {
			got <- ValueFromContext(ctx, "job")
		},
	})
	_, err := cli.SubmitTask(context.Background(), Task{
		Name:       "values",
		Steps:      []Step{Unit("value", "value")},
		Addtionals: map[string]string{"job": "job-1"},
	})
	require.NoError(t, err)
	select {
	case v := <-got:
		assert.Equal(t, "job-1", v)
	case <-time.After(5 * time.Second):
		t.Fatal("step not called")
	}
}

func TestServer_RunRedis(t *testing.T) {
	rec := &recorder{}
	cli := startServer(t, NewRedisBackendFromClient(setupRedis(t)), map[string]interface{}{"record": rec.record})

	ids, err := cli.SubmitTask(context.Background(), Task{
		Name:  "redis",
		Steps: []Step{Unit("prepare", "record", "hello"), Unit("finished", "record", "up")},
	})
	require.NoError(t, err)
	waitStatus(t, cli, ids[1], TaskStatusSuccess)
	assert.Equal(t, []string{"hello", "up"}, rec.list())

	tasks, err := cli.ListTasks(context.Background(), "", "redis")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NotNil(t, tasks[0].Status)
	assert.Eventually(t, func() bool {
		tasks, _ := cli.ListTasks(context.Background(), "", "redis")
		return len(tasks) == 1 && tasks[0].Status.Status == TaskStatusSuccess
	}, 5*time.Second, 10*time.Millisecond)
}

type DemoArgs struct {
	Foo string `json:"foo,omitempty"`
}

var registeredfunc = map[string]interface{}{
	"inobj": func(_ context.Context, arg DemoArgs) error {
		if arg.Foo != "bar" {
			return errors.New("unexpected arg")
		}
		return nil
	},
	"inobjpointer": func(_ context.Context, arg *DemoArgs) error {
		if arg == nil || arg.Foo != "bar" {
			return errors.New("unexpected arg")
		}
		return nil
	},
	"now": func() string {
		return time.Now().String()
	},
	"variadic": func(a DemoArgs, s ...string) error {
		return nil
	},
	"arr": func(strs []string) int {
		return len(strs)
	},
	"panic": func() {
		panic("oops")
	},
}

func TestServer_execute(t *testing.T) {
	tests := []struct {
		name        string
		step        *jsonArgsStep
		wantResults []interface{}
		wantErr     bool
	}{
		{
			name: "object argument",
			step: &jsonArgsStep{Function: "inobj", Args: []json.RawMessage{json.RawMessage(`{"foo":"bar"}`)}},
		},
		{
			name: "pointer argument",
			step: &jsonArgsStep{Function: "inobjpointer", Args: []json.RawMessage{json.RawMessage(`{"foo":"bar"}`)}},
		},
		{
			name: "variadic",
			step: &jsonArgsStep{Function: "variadic", Args: []json.RawMessage{json.RawMessage(`{"foo":"bar"}`)}},
		},
		{
			name:        "results without error",
			step:        &jsonArgsStep{Function: "arr", Args: []json.RawMessage{json.RawMessage(`["a","b"]`)}},
			wantResults: []interface{}{2},
		},
		{
			name:    "bad argument",
			step:    &jsonArgsStep{Function: "arr", Args: []json.RawMessage{json.RawMessage(`{"a":1}`)}},
			wantErr: true,
		},
		{
			name:    "not registered",
			step:    &jsonArgsStep{Function: "missing"},
			wantErr: true,
		},
		{
			name:    "panic",
			step:    &jsonArgsStep{Function: "panic"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewServerFromBackend(nil, testOptions())
			n.registered = registeredfunc
			results, err := n.execute(context.Background(), tt.step)
			if (err != nil) != tt.wantErr {
				t.Errorf("Server.execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantResults != nil {
				assert.Equal(t, tt.wantResults, results)
			}
		})
	}
}
