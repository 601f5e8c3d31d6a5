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

import "github.com/google/uuid"

// Unit creates a step calling the registered function with args.
func Unit(name, function string, args ...interface{}) Step {
	return Step{Name: name, Function: function, Args: args}
}

// Sequence runs steps one after another, stopping at the first failure.
func Sequence(name string, steps ...Step) Step {
	return Step{Name: name, SubSteps: steps}
}

// Parallel runs steps concurrently and fails when any of them fails.
func Parallel(name string, steps ...Step) Step {
	return Step{Name: name, SubSteps: steps, Parallel: true}
}

func (s Step) WithID(id string) Step {
	s.ID = id
	return s
}

func (s Step) WithRetries(n int) Step {
	s.Retries = n
	return s
}

// Freeze assigns a task id to every unit of the task that has none and returns
// the ids of all units in depth first order without duplicates. The error
// handler gets an id too but it is not part of the returned list.
func Freeze(task *Task) []string {
	ids := []string{}
	seen := map[string]bool{}
	for i := range task.Steps {
		ids = freezeStep(&task.Steps[i], ids, seen)
	}
	if task.OnError != nil && task.OnError.ID == "" {
		task.OnError.ID = uuid.New().String()
	}
	return ids
}

func freezeStep(step *Step, ids []string, seen map[string]bool) []string {
	if step.IsUnit() {
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
		if !seen[step.ID] {
			seen[step.ID] = true
			ids = append(ids, step.ID)
		}
	}
	for i := range step.SubSteps {
		ids = freezeStep(&step.SubSteps[i], ids, seen)
	}
	return ids
}

// TaskIDs returns the ids of an already frozen task without assigning new ones.
func TaskIDs(task Task) []string {
	ids := []string{}
	seen := map[string]bool{}
	var walk func(steps []Step)
	walk = func(steps []Step) {
		for _, step := range steps {
			if step.IsUnit() && step.ID != "" && !seen[step.ID] {
				seen[step.ID] = true
				ids = append(ids, step.ID)
			}
			walk(step.SubSteps)
		}
	}
	walk(task.Steps)
	return ids
}

func cloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	cloned := make([]Step, len(steps))
	for i, step := range steps {
		cloned[i] = step
		cloned[i].SubSteps = cloneSteps(step.SubSteps)
	}
	return cloned
}
