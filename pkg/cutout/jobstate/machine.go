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

// Package jobstate owns the status and error info of jobs.
package jobstate

import (
	"context"
	"errors"
	"sort"
	"sync"

	"cutout.io/cutout/pkg/jobstore"
	"cutout.io/cutout/pkg/log"
	"cutout.io/cutout/pkg/models"
)

var ErrTerminalState = jobstore.ErrTerminalState

type Machine struct {
	store jobstore.JobStore

	mu         sync.Mutex
	processing map[string]map[string]struct{}
}

func NewMachine(store jobstore.JobStore) *Machine {
	return &Machine{
		store:      store,
		processing: map[string]map[string]struct{}{},
	}
}

// Update moves the job to status. The status is last writer wins while the job
// is not terminal, errorInfo is kept only when the job has no error info yet.
func (m *Machine) Update(ctx context.Context, jobID string, status models.JobStatus, errorInfo string) error {
	log := log.FromContextOrDiscard(ctx).WithValues("job", jobID)
	log.V(1).Info("updating job state", "status", status)

	if status == models.JobStatusSuccess || status == models.JobStatusFailure {
		m.clear(jobID)
	}
	err := m.store.Transition(ctx, jobID, status, errorInfo)
	if errors.Is(err, jobstore.ErrTerminalState) {
		log.Info("job already finished, state not updated", "status", status)
	}
	return err
}

// Begin records that step is running in this process for the job.
func (m *Machine) Begin(jobID, step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps, ok := m.processing[jobID]
	if !ok {
		steps = map[string]struct{}{}
		m.processing[jobID] = steps
	}
	steps[step] = struct{}{}
}

func (m *Machine) End(jobID, step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if steps, ok := m.processing[jobID]; ok {
		delete(steps, step)
		if len(steps) == 0 {
			delete(m.processing, jobID)
		}
	}
}

// Processing returns the steps running in this process for the job.
func (m *Machine) Processing(jobID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps := make([]string, 0, len(m.processing[jobID]))
	for step := range m.processing[jobID] {
		steps = append(steps, step)
	}
	sort.Strings(steps)
	return steps
}

func (m *Machine) clear(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processing, jobID)
}
