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

package jobstore

import (
	"context"
	"testing"

	"cutout.io/cutout/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Transition(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	job := &models.Job{Name: "test"}
	require.NoError(t, store.Create(ctx, job))
	assert.NotEmpty(t, job.UUID)
	assert.Equal(t, models.JobStatusPending, job.Status)

	require.NoError(t, store.Transition(ctx, job.UUID, models.JobStatusStarted, ""))
	require.NoError(t, store.Transition(ctx, job.UUID, models.JobStatusRetry, "first"))
	require.NoError(t, store.Transition(ctx, job.UUID, models.JobStatusFailure, "second"))

	got, err := store.Get(ctx, job.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailure, got.Status)
	assert.Equal(t, "first", got.ErrorInfo)

	assert.ErrorIs(t, store.Transition(ctx, job.UUID, models.JobStatusSuccess, ""), ErrTerminalState)
	assert.ErrorIs(t, store.Transition(ctx, "missing", models.JobStatusStarted, ""), ErrNotFound)
}

func TestMemoryStore_Files(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	job := &models.Job{}
	require.NoError(t, store.Create(ctx, job))

	created, err := store.CreateFile(ctx, &models.JobFile{JobUUID: job.UUID, Path: "b.fits", Size: 2})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = store.CreateFile(ctx, &models.JobFile{JobUUID: job.UUID, Path: "b.fits", Size: 2})
	require.NoError(t, err)
	assert.False(t, created)
	_, err = store.CreateFile(ctx, &models.JobFile{JobUUID: job.UUID, Path: "a.fits", Size: 3})
	require.NoError(t, err)

	files, err := store.ListFiles(ctx, job.UUID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.fits", files[0].Path)

	count, size, _ := store.FileTotals(ctx)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, int64(5), size)

	require.NoError(t, store.Delete(ctx, job.UUID))
	count, _, _ = store.FileTotals(ctx)
	assert.Zero(t, count)
	assert.ErrorIs(t, store.Delete(ctx, job.UUID), ErrNotFound)
}

func TestMemoryStore_SaveSnapshotDeletesConsumedEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	first := &models.JobMetric{Status: models.JobStatusSuccess}
	require.NoError(t, store.RecordJobEvent(ctx, first))
	file := &models.FileMetric{Size: 4}
	require.NoError(t, store.RecordFileEvent(ctx, file))
	// recorded after the snapshot read its events
	late := &models.JobMetric{Status: models.JobStatusFailure}
	require.NoError(t, store.RecordJobEvent(ctx, late))

	require.NoError(t, store.SaveSnapshot(ctx, &models.Metric{JobsRun: 1}, []uint{first.ID}, []uint{file.ID}))

	events, _ := store.ListJobEvents(ctx)
	require.Len(t, events, 1)
	assert.Equal(t, late.ID, events[0].ID)
	fileEvents, _ := store.ListFileEvents(ctx)
	assert.Empty(t, fileEvents)

	latest, err := store.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest.JobsRun)
}

func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	owner := uint(7)
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &models.Job{Name: "mine", OwnerID: &owner}))
	require.NoError(t, store.Create(ctx, &models.Job{Name: "other"}))

	jobs, err := store.List(ctx, ListOptions{OwnerID: &owner})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "mine", jobs[0].Name)

	jobs, _ = store.List(ctx, ListOptions{Statuses: []models.JobStatus{models.JobStatusPending}})
	assert.Len(t, jobs, 2)
}
