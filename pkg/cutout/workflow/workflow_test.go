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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cutout.io/cutout/pkg/cutout/config"
	cutouterrors "cutout.io/cutout/pkg/cutout/errors"
	"cutout.io/cutout/pkg/cutout/jobstate"
	"cutout.io/cutout/pkg/jobstore"
	"cutout.io/cutout/pkg/models"
	"cutout.io/cutout/pkg/utils/objectstore"
	engine "cutout.io/cutout/pkg/utils/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	err   error
	tasks []engine.Task
}

func (f *fakeSubmitter) SubmitTask(ctx context.Context, task engine.Task) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return engine.TaskIDs(task), nil
}

type fakeCutter struct {
	err error

	mu   sync.Mutex
	cfgs []config.Document
}

func (f *fakeCutter) Cut(ctx context.Context, jobID string, cfg config.Document) error {
	f.mu.Lock()
	f.cfgs = append(f.cfgs, cfg)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(filepath.Join(cfg.String(config.KeyOutdir), "DES0001_g.fits"), []byte("fits"), 0o644)
}

func createJob(t *testing.T, store jobstore.JobStore) *models.Job {
	owner := uint(1)
	job := &models.Job{Name: "test", OwnerID: &owner}
	require.NoError(t, store.Create(context.Background(), job))
	return job
}

func TestNewJobTask(t *testing.T) {
	task := NewJobTask("job-1", config.Document{"input_csv": "RA,DEC\n1,2\n"})
	ids := engine.Freeze(&task)

	require.Len(t, ids, 3)
	assert.Equal(t, "job-1", ids[1])
	assert.NotContains(t, []string{ids[0], ids[2]}, "job-1")
	require.NotNil(t, task.OnError)
	assert.Equal(t, FunctionErrorHandler, task.OnError.Function)
	assert.NotEmpty(t, task.OnError.ID)
	assert.NotContains(t, ids, task.OnError.ID)
}

func TestOrchestrator_Submit(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	job := createJob(t, store)
	submitter := &fakeSubmitter{}
	o := NewOrchestrator(jobstate.NewMachine(store), store, submitter)

	require.NoError(t, o.Submit(ctx, job.UUID, config.Document{"input_csv": "RA,DEC\n1,2\n"}))

	got, err := store.Get(ctx, job.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusStarted, got.Status)

	ids := got.TaskIDList()
	require.Len(t, ids, 3)
	count := 0
	for _, id := range ids {
		if id == job.UUID {
			count++
		}
	}
	assert.Equal(t, 1, count)

	require.Len(t, submitter.tasks, 1)
	assert.Equal(t, ids, engine.TaskIDs(submitter.tasks[0]))
	assert.Equal(t, TaskGroup, submitter.tasks[0].Group)
}

func TestOrchestrator_SubmitFailure(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	job := createJob(t, store)
	o := NewOrchestrator(jobstate.NewMachine(store), store, &fakeSubmitter{err: errors.New("broker unreachable")})

	err := o.Submit(ctx, job.UUID, config.Document{})
	require.Error(t, err)
	assert.True(t, cutouterrors.IsClientError(err))
	assert.Equal(t, cutouterrors.ErrInvalidArgument, cutouterrors.TypeOf(err))

	got, err := store.Get(ctx, job.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailure, got.Status)
	assert.Equal(t, "Failed to launch workflow: broker unreachable", got.ErrorInfo)
	// the ids are stored before submission so the job can still be revoked
	assert.Len(t, got.TaskIDList(), 3)
}

func TestOrchestrator_SubmitMissingJob(t *testing.T) {
	store := jobstore.NewMemoryStore()
	submitter := &fakeSubmitter{}
	o := NewOrchestrator(jobstate.NewMachine(store), store, submitter)

	err := o.Submit(context.Background(), "missing", config.Document{})
	assert.ErrorIs(t, err, jobstore.ErrNotFound)
	assert.Empty(t, submitter.tasks)
}

type testEnv struct {
	store   *jobstore.MemoryStore
	objects *objectstore.MemoryStore
	cutter  *fakeCutter
	client  *engine.Client
	orch    *Orchestrator
	scratch string
}

func setupEnv(t *testing.T, cutter *fakeCutter) *testEnv {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := jobstore.NewMemoryStore()
	objects := objectstore.NewMemoryStore()
	machine := jobstate.NewMachine(store)
	options := &Options{ScratchDir: t.TempDir()}

	engineOptions := engine.NewDefaultOptions()
	engineOptions.RetryInterval = 10 * time.Millisecond
	server := engine.NewServerFromBackend(engine.NewInmemoryBackend(ctx), engineOptions)
	tasker := NewTasker(store, machine, objects, cutter, options)
	for name, fn := range tasker.ProvideFuntions() {
		require.NoError(t, server.Register(name, fn))
	}
	go server.Run(ctx)

	client := server.NewClient()
	return &testEnv{
		store:   store,
		objects: objects,
		cutter:  cutter,
		client:  client,
		orch:    NewOrchestrator(machine, store, client),
		scratch: options.ScratchDir,
	}
}

func (e *testEnv) waitJob(t *testing.T, id string, status models.JobStatus) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		got, err := e.store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = got
		return got.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestWorkflow_Success(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, &fakeCutter{})
	job := createJob(t, env.store)

	cfg := config.Document{"input_csv": "RA,DEC\n1,2\n", "xsize": 1, "ysize": 1}
	require.NoError(t, env.orch.Submit(ctx, job.UUID, cfg))

	got := env.waitJob(t, job.UUID, models.JobStatusSuccess)
	ids := got.TaskIDList()
	require.Len(t, ids, 3)
	require.Eventually(t, func() bool {
		status, err := env.client.Status(ctx, ids[2])
		return err == nil && status == engine.TaskStatusSuccess
	}, 5*time.Second, 10*time.Millisecond)

	got, err := env.store.Get(ctx, job.UUID)
	require.NoError(t, err)
	assert.Empty(t, got.ErrorInfo)
	paths := []string{}
	for _, f := range got.Files {
		paths = append(paths, f.Path)
	}
	assert.ElementsMatch(t, []string{"config.yaml", "meta.yaml", "DES0001_g.fits"}, paths)

	meta, err := env.objects.Stream(ctx, JobPrefix(job.UUID)+"meta.yaml")
	require.NoError(t, err)
	defer meta.Close()
	content := new(bytes.Buffer)
	_, err = content.ReadFrom(meta)
	require.NoError(t, err)
	assert.Contains(t, content.String(), "uuid: "+job.UUID)
	assert.Contains(t, content.String(), "cutout_service:")

	require.Len(t, env.cutter.cfgs, 1)
	outdir := filepath.Join(env.scratch, job.UUID)
	assert.Equal(t, outdir, env.cutter.cfgs[0].String(config.KeyOutdir))
	assert.Equal(t, filepath.Join(outdir, "cutout.log"), env.cutter.cfgs[0].String(config.KeyLogfile))

	jobEvents, err := env.store.ListJobEvents(ctx)
	require.NoError(t, err)
	require.Len(t, jobEvents, 1)
	assert.Equal(t, models.JobStatusSuccess, jobEvents[0].Status)
	assert.Equal(t, job.OwnerID, jobEvents[0].OwnerID)

	fileEvents, err := env.store.ListFileEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, fileEvents, 3)
}

func TestWorkflow_CutterFailure(t *testing.T) {
	ctx := context.Background()
	env := setupEnv(t, &fakeCutter{err: errors.New("no tiles matched")})
	job := createJob(t, env.store)

	require.NoError(t, env.orch.Submit(ctx, job.UUID, config.Document{"input_csv": "RA,DEC\n1,2\n"}))

	got := env.waitJob(t, job.UUID, models.JobStatusFailure)
	assert.Equal(t, "System Error: no tiles matched", got.ErrorInfo)

	status, err := env.client.Status(ctx, job.UUID)
	require.NoError(t, err)
	assert.Equal(t, engine.TaskStatusFailure, status)

	jobEvents, err := env.store.ListJobEvents(ctx)
	require.NoError(t, err)
	require.Len(t, jobEvents, 1)
	assert.Equal(t, models.JobStatusFailure, jobEvents[0].Status)
}

func TestTasker_HandleError(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name          string
		errorInfo     string
		wantStatus    models.JobStatus
		wantErrorInfo string
	}{
		{
			name:          "first error recorded",
			wantStatus:    models.JobStatusFailure,
			wantErrorInfo: "System Error: boom",
		},
		{
			name:          "earlier error kept",
			errorInfo:     "cutter crashed",
			wantStatus:    models.JobStatusStarted,
			wantErrorInfo: "cutter crashed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := jobstore.NewMemoryStore()
			job := createJob(t, store)
			if tt.errorInfo != "" {
				require.NoError(t, store.Transition(ctx, job.UUID, models.JobStatusStarted, tt.errorInfo))
			}
			tasker := NewTasker(store, jobstate.NewMachine(store), objectstore.NewMemoryStore(), &fakeCutter{}, nil)

			require.NoError(t, tasker.HandleError(ctx, engine.ErrorRequest{TaskID: "t1", Error: "boom"}, job.UUID))

			got, err := store.Get(ctx, job.UUID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantErrorInfo, got.ErrorInfo)

			events, err := store.ListJobEvents(ctx)
			require.NoError(t, err)
			assert.Len(t, events, 1)
		})
	}
}

// failingUpload rejects every folder upload.
type failingUpload struct {
	*objectstore.MemoryStore
	err error
}

func (f *failingUpload) StoreFolder(ctx context.Context, dir string, prefix string) error {
	return f.err
}

func TestTasker_CompleteUploadFailure(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	job := createJob(t, store)
	options := &Options{ScratchDir: t.TempDir()}
	require.NoError(t, os.MkdirAll(filepath.Join(options.ScratchDir, job.UUID), 0o755))
	require.NoError(t, store.Transition(ctx, job.UUID, models.JobStatusStarted, ""))

	objects := &failingUpload{MemoryStore: objectstore.NewMemoryStore(), err: errors.New("s3 down")}
	tasker := NewTasker(store, jobstate.NewMachine(store), objects, &fakeCutter{}, options)

	completeErr := tasker.Complete(ctx, job.UUID)
	require.EqualError(t, completeErr, "s3 down")

	got, err := store.Get(ctx, job.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusStarted, got.Status)

	require.NoError(t, tasker.HandleError(ctx, engine.ErrorRequest{TaskID: "t3", Error: completeErr.Error()}, job.UUID))
	got, err = store.Get(ctx, job.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailure, got.Status)
	assert.Equal(t, "System Error: s3 down", got.ErrorInfo)

	events, err := store.ListJobEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.JobStatusFailure, events[0].Status)
}

func TestTasker_HandleErrorAfterSuccess(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	job := createJob(t, store)
	require.NoError(t, store.Transition(ctx, job.UUID, models.JobStatusSuccess, ""))
	tasker := NewTasker(store, jobstate.NewMachine(store), objectstore.NewMemoryStore(), &fakeCutter{}, nil)

	require.NoError(t, tasker.HandleError(ctx, engine.ErrorRequest{Error: "late"}, job.UUID))

	got, err := store.Get(ctx, job.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, got.Status)
	events, err := store.ListJobEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTasker_HandleErrorDeletedJob(t *testing.T) {
	store := jobstore.NewMemoryStore()
	tasker := NewTasker(store, jobstate.NewMachine(store), objectstore.NewMemoryStore(), &fakeCutter{}, nil)
	assert.NoError(t, tasker.HandleError(context.Background(), engine.ErrorRequest{Error: "boom"}, "gone"))
}

func TestTasker_DiscoverFilesOnce(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	objects := objectstore.NewMemoryStore()
	job := createJob(t, store)
	tasker := NewTasker(store, jobstate.NewMachine(store), objects, &fakeCutter{}, nil)

	require.NoError(t, tasker.put(ctx, JobPrefix(job.UUID)+"a.fits", []byte("abc")))
	require.NoError(t, tasker.discoverFiles(ctx, job.UUID))
	require.NoError(t, tasker.put(ctx, JobPrefix(job.UUID)+"sub/b.png", []byte("de")))
	require.NoError(t, tasker.discoverFiles(ctx, job.UUID))

	files, err := store.ListFiles(ctx, job.UUID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.fits", files[0].Path)
	assert.Equal(t, int64(3), files[0].Size)
	assert.Equal(t, "sub/b.png", files[1].Path)

	events, err := store.ListFileEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestExecCutter(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no shell available")
	}
	outdir := t.TempDir()
	logfile := filepath.Join(outdir, "cutout.log")
	cutter := &ExecCutter{Command: "/bin/sh", Args: []string{"-c", `grep -q "xsize: 2" "$0" && echo cutting done`}}

	err := cutter.Cut(context.Background(), "job-1", config.Document{
		config.KeyOutdir:  outdir,
		config.KeyLogfile: logfile,
		config.KeyXSize:   2,
	})
	require.NoError(t, err)
	content, err := os.ReadFile(logfile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "cutting done")

	failing := &ExecCutter{Command: "/bin/sh", Args: []string{"-c", "exit 3"}}
	err = failing.Cut(context.Background(), "job-1", config.Document{
		config.KeyOutdir:  outdir,
		config.KeyLogfile: logfile,
	})
	assert.Error(t, err)
}
