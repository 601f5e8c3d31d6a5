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

package jobstate

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"cutout.io/cutout/pkg/jobstore"
	"cutout.io/cutout/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(t *testing.T, store *jobstore.MemoryStore) string {
	job := &models.Job{Name: "test"}
	require.NoError(t, store.Create(context.Background(), job))
	return job.UUID
}

func TestMachine_FirstErrorWins(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	m := NewMachine(store)
	id := newJob(t, store)

	require.NoError(t, m.Update(ctx, id, models.JobStatusStarted, ""))
	require.NoError(t, m.Update(ctx, id, models.JobStatusRetry, "first failure"))
	require.NoError(t, m.Update(ctx, id, models.JobStatusFailure, "second failure"))

	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailure, job.Status)
	assert.Equal(t, "first failure", job.ErrorInfo)
}

func TestMachine_ConcurrentFailures(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	m := NewMachine(store)
	id := newJob(t, store)
	require.NoError(t, m.Update(ctx, id, models.JobStatusStarted, ""))

	wg := sync.WaitGroup{}
	messages := map[string]bool{}
	for i := 0; i < 10; i++ {
		msg := fmt.Sprintf("failure %d", i)
		messages[msg] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Update(ctx, id, models.JobStatusRetry, msg)
		}()
	}
	wg.Wait()

	job, _ := store.Get(ctx, id)
	assert.True(t, messages[job.ErrorInfo], "error info %q is one of the reported failures", job.ErrorInfo)
}

func TestMachine_Terminal(t *testing.T) {
	tests := []struct {
		name     string
		terminal models.JobStatus
	}{
		{name: "success", terminal: models.JobStatusSuccess},
		{name: "failure", terminal: models.JobStatusFailure},
		{name: "revoked", terminal: models.JobStatusRevoked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := jobstore.NewMemoryStore()
			m := NewMachine(store)
			id := newJob(t, store)

			require.NoError(t, m.Update(ctx, id, tt.terminal, ""))
			err := m.Update(ctx, id, models.JobStatusStarted, "late")
			assert.ErrorIs(t, err, ErrTerminalState)

			job, _ := store.Get(ctx, id)
			assert.Equal(t, tt.terminal, job.Status)
			assert.Empty(t, job.ErrorInfo)
		})
	}
}

func TestMachine_Processing(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewMemoryStore()
	m := NewMachine(store)
	id := newJob(t, store)

	m.Begin(id, "execute")
	m.Begin(id, "init")
	assert.Equal(t, []string{"execute", "init"}, m.Processing(id))
	m.End(id, "init")
	assert.Equal(t, []string{"execute"}, m.Processing(id))

	require.NoError(t, m.Update(ctx, id, models.JobStatusStarted, ""))
	assert.Len(t, m.Processing(id), 1, "started keeps processing steps")

	require.NoError(t, m.Update(ctx, id, models.JobStatusSuccess, ""))
	assert.Empty(t, m.Processing(id))

	assert.ErrorIs(t, m.Update(ctx, "missing", models.JobStatusStarted, ""), jobstore.ErrNotFound)
}
