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

package revoke

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cutout.io/cutout/pkg/cutout/config"
	cutouterrors "cutout.io/cutout/pkg/cutout/errors"
	"cutout.io/cutout/pkg/cutout/jobstate"
	"cutout.io/cutout/pkg/cutout/workflow"
	"cutout.io/cutout/pkg/jobstore"
	"cutout.io/cutout/pkg/models"
	"cutout.io/cutout/pkg/utils/objectstore"
	engine "cutout.io/cutout/pkg/utils/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type fakeBroker struct {
	mu         sync.Mutex
	statuses   map[string][]engine.TaskStatusCode
	errs       map[string]error
	lookups    int
	terminated []string
	submitted  []engine.Task
}

func (f *fakeBroker) Status(ctx context.Context, id string) (engine.TaskStatusCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if err := f.errs[id]; err != nil {
		return "", err
	}
	seq := f.statuses[id]
	if len(seq) == 0 {
		return engine.TaskStatusPending, nil
	}
	status := seq[0]
	if len(seq) > 1 {
		f.statuses[id] = seq[1:]
	}
	return status, nil
}

func (f *fakeBroker) Terminate(ctx context.Context, id string, signal engine.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, id)
	return nil
}

func (f *fakeBroker) SubmitTask(ctx context.Context, task engine.Task) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, task)
	return engine.TaskIDs(task), nil
}

func createJob(t *testing.T, store jobstore.JobStore, taskIDs ...string) *models.Job {
	job := &models.Job{Name: "test"}
	require.NoError(t, store.Create(context.Background(), job))
	ids := append([]string{"init"}, job.UUID)
	ids = append(ids, taskIDs...)
	require.NoError(t, store.SetTaskIDs(context.Background(), job.UUID, ids))
	return job
}

func TestController_Revoke(t *testing.T) {
	tests := []struct {
		name        string
		statuses    func(jobID string) map[string][]engine.TaskStatusCode
		errs        map[string]error
		options     *Options
		maxDuration time.Duration
		minLookups  int
	}{
		{
			name: "all finished returns at once",
			statuses: func(jobID string) map[string][]engine.TaskStatusCode {
				return map[string][]engine.TaskStatusCode{
					"init":     {engine.TaskStatusSuccess},
					jobID:      {engine.TaskStatusSuccess},
					"complete": {engine.TaskStatusSuccess},
				}
			},
			options:     &Options{Interval: time.Hour, Timeout: 2 * time.Hour},
			maxDuration: time.Second,
			minLookups:  3,
		},
		{
			name: "waits until tasks stop",
			statuses: func(jobID string) map[string][]engine.TaskStatusCode {
				return map[string][]engine.TaskStatusCode{
					"init":     {engine.TaskStatusSuccess},
					jobID:      {engine.TaskStatusStarted, engine.TaskStatusStarted, engine.TaskStatusRevoked},
					"complete": {engine.TaskStatusReceived, engine.TaskStatusRevoked},
				}
			},
			options:     &Options{Interval: 10 * time.Millisecond, Timeout: 5 * time.Second},
			maxDuration: 5 * time.Second,
			minLookups:  9,
		},
		{
			name: "timeout is not an error",
			statuses: func(jobID string) map[string][]engine.TaskStatusCode {
				return map[string][]engine.TaskStatusCode{jobID: {engine.TaskStatusRetry}}
			},
			options:     &Options{Interval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond},
			maxDuration: 5 * time.Second,
			minLookups:  6,
		},
		{
			name:        "lookup errors keep waiting",
			errs:        map[string]error{"complete": errors.New("broker unreachable")},
			options:     &Options{Interval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond},
			maxDuration: 5 * time.Second,
			minLookups:  6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := jobstore.NewMemoryStore()
			job := createJob(t, store, "complete")
			broker := &fakeBroker{statuses: map[string][]engine.TaskStatusCode{}, errs: tt.errs}
			if tt.statuses != nil {
				broker.statuses = tt.statuses(job.UUID)
			}
			c := NewController(store, broker, objectstore.NewMemoryStore(), tt.options)

			start := time.Now()
			require.NoError(t, c.Revoke(context.Background(), job.UUID))
			assert.Less(t, time.Since(start), tt.maxDuration)
			assert.GreaterOrEqual(t, broker.lookups, tt.minLookups)
			assert.Equal(t, []string{job.UUID, "init", "complete"}, broker.terminated)

			got, err := store.Get(context.Background(), job.UUID)
			require.NoError(t, err)
			assert.Equal(t, models.JobStatusPending, got.Status)
		})
	}
}

func TestController_RevokeMissingJob(t *testing.T) {
	c := NewController(jobstore.NewMemoryStore(), &fakeBroker{}, objectstore.NewMemoryStore(), nil)
	err := c.Revoke(context.Background(), "missing")
	assert.True(t, cutouterrors.IsNotFound(err))
}

func TestController_RevokeCancelled(t *testing.T) {
	store := jobstore.NewMemoryStore()
	job := createJob(t, store)
	broker := &fakeBroker{statuses: map[string][]engine.TaskStatusCode{job.UUID: {engine.TaskStatusStarted}}}
	c := NewController(store, broker, objectstore.NewMemoryStore(), &Options{Interval: 10 * time.Millisecond, Timeout: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Revoke(ctx, job.UUID), context.DeadlineExceeded)
}

func TestController_SubmitDeletion(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	job := createJob(t, store)
	broker := &fakeBroker{}
	c := NewController(store, broker, objectstore.NewMemoryStore(), nil)

	require.NoError(t, c.SubmitDeletion(ctx, job.UUID))
	require.Len(t, broker.submitted, 1)
	steps := broker.submitted[0].Steps
	require.Len(t, steps, 3)
	assert.Equal(t, []string{StepRevokeJob, StepDeleteJobFiles, StepDeleteJob}, []string{steps[0].Name, steps[1].Name, steps[2].Name})

	assert.True(t, cutouterrors.IsNotFound(c.SubmitDeletion(ctx, "missing")))
}

func startServer(t *testing.T, taskers ...interface{ ProvideFuntions() map[string]interface{} }) *engine.Server {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	opts := engine.NewDefaultOptions()
	opts.RetryInterval = 10 * time.Millisecond
	opts.RevokeCheckInterval = 20 * time.Millisecond
	server := engine.NewServerFromBackend(engine.NewInmemoryBackend(ctx), opts)
	for _, tasker := range taskers {
		for name, fn := range tasker.ProvideFuntions() {
			require.NoError(t, server.Register(name, fn))
		}
	}
	go server.Run(ctx)
	return server
}

func TestDeletionWorkflow(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	objects := objectstore.NewMemoryStore()
	job := &models.Job{Name: "test", TaskIDs: datatypes.JSON(`["a","b"]`)}
	require.NoError(t, store.Create(ctx, job))
	require.NoError(t, objects.Put(ctx, workflow.JobPrefix(job.UUID)+"config.yaml", strings.NewReader(""), 0))
	require.NoError(t, objects.Put(ctx, "jobs/other/config.yaml", strings.NewReader(""), 0))

	c := NewController(store, nil, objects, &Options{Interval: 10 * time.Millisecond, Timeout: time.Second})
	server := startServer(t, c)
	c.broker = server.NewClient()

	require.NoError(t, c.SubmitDeletion(ctx, job.UUID))
	require.Eventually(t, func() bool {
		_, err := store.Get(ctx, job.UUID)
		return errors.Is(err, jobstore.ErrNotFound)
	}, 5*time.Second, 10*time.Millisecond)

	left, err := objects.List(ctx, "jobs/")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "jobs/other/config.yaml", left[0].Key)
}

type blockingCutter struct {
	started chan struct{}
}

func (b *blockingCutter) Cut(ctx context.Context, jobID string, cfg config.Document) error {
	close(b.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestController_RevokeRunningWorkflow(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	objects := objectstore.NewMemoryStore()
	machine := jobstate.NewMachine(store)
	cutter := &blockingCutter{started: make(chan struct{})}

	tasker := workflow.NewTasker(store, machine, objects, cutter, &workflow.Options{ScratchDir: t.TempDir()})
	server := startServer(t, tasker)
	client := server.NewClient()

	job := &models.Job{Name: "test"}
	require.NoError(t, store.Create(ctx, job))
	require.NoError(t, workflow.NewOrchestrator(machine, store, client).Submit(ctx, job.UUID, config.Document{}))

	select {
	case <-cutter.started:
	case <-time.After(5 * time.Second):
		t.Fatal("cutter never started")
	}

	c := NewController(store, client, objects, &Options{Interval: 10 * time.Millisecond, Timeout: 5 * time.Second})
	require.NoError(t, c.Revoke(ctx, job.UUID))

	status, err := client.Status(ctx, job.UUID)
	require.NoError(t, err)
	assert.Equal(t, engine.TaskStatusRevoked, status)

	got, err := store.Get(ctx, job.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusStarted, got.Status)
	assert.Empty(t, got.ErrorInfo)
}
