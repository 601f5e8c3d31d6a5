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

// Package workflow is a small distributed task engine on top of redis streams.
//
// A Task is a tree of Steps. A step either calls a registered function (a unit),
// runs its sub steps one after another (a sequence) or runs them concurrently
// (a parallel group). Every unit carries a task id which is resolved before the
// task is published (see Freeze), so callers can record the ids and later ask
// for their state or terminate them.
//
// Clients publish tasks to the "submit" queue; servers consume the queue, run
// the step tree and keep per-id states in the kv store. Termination requests
// are broadcast on the "control" channel so the server running the step can
// cancel it.
package workflow

import (
	"encoding/json"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type Task struct {
	UID               string            `json:"uid,omitempty"`
	Name              string            `json:"name,omitempty"`  // task name, e.g. "cutout job"
	Group             string            `json:"group,omitempty"` // task group
	Steps             []Step            `json:"steps,omitempty"` // run in order
	OnError           *Step             `json:"onError,omitempty"`
	CreationTimestamp metav1.Time       `json:"creationTimestamp,omitempty"`
	Addtionals        map[string]string `json:"addtionals,omitempty"` // values passed to every step through the context
	Status            *TaskStatus       `json:"status,omitempty"`
}

type Step struct {
	ID       string        `json:"id,omitempty"` // task id of a unit, generated by Freeze when empty
	Name     string        `json:"name,omitempty"`
	Function string        `json:"function,omitempty"` // registered function to call
	Args     []interface{} `json:"args,omitempty"`
	SubSteps []Step        `json:"subSteps,omitempty"`
	Parallel bool          `json:"parallel,omitempty"` // run sub steps concurrently
	Retries  int           `json:"retries,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	Status   *TaskStatus   `json:"status,omitempty"`
}

func (s Step) IsUnit() bool {
	return s.Function != ""
}

type jsonArgsTask struct {
	UID               string            `json:"uid,omitempty"`
	Name              string            `json:"name,omitempty"`
	Group             string            `json:"group,omitempty"`
	Steps             []*jsonArgsStep   `json:"steps,omitempty"`
	OnError           *jsonArgsStep     `json:"onError,omitempty"`
	CreationTimestamp metav1.Time       `json:"creationTimestamp,omitempty"`
	Addtionals        map[string]string `json:"addtionals,omitempty"`
	Status            TaskStatus        `json:"status,omitempty"`
}

type jsonArgsStep struct {
	ID       string            `json:"id,omitempty"`
	Name     string            `json:"name,omitempty"`
	Function string            `json:"function,omitempty"`
	Args     []json.RawMessage `json:"args,omitempty"`
	SubSteps []*jsonArgsStep   `json:"subSteps,omitempty"`
	Parallel bool              `json:"parallel,omitempty"`
	Retries  int               `json:"retries,omitempty"`
	Timeout  time.Duration     `json:"timeout,omitempty"`
	Status   TaskStatus        `json:"status,omitempty"`
}

func ArgsOf(args ...interface{}) []interface{} {
	return args
}

type TaskStatusCode string

const (
	TaskStatusPending  TaskStatusCode = "PENDING"
	TaskStatusReceived TaskStatusCode = "RECEIVED"
	TaskStatusStarted  TaskStatusCode = "STARTED"
	TaskStatusRetry    TaskStatusCode = "RETRY"
	TaskStatusSuccess  TaskStatusCode = "SUCCESS"
	TaskStatusFailure  TaskStatusCode = "FAILURE"
	TaskStatusRevoked  TaskStatusCode = "REVOKED"
)

// IsActive reports whether a unit with this status is queued on, or running in, a server.
func (c TaskStatusCode) IsActive() bool {
	switch c {
	case TaskStatusReceived, TaskStatusStarted, TaskStatusRetry:
		return true
	}
	return false
}

func (c TaskStatusCode) IsReady() bool {
	switch c {
	case TaskStatusSuccess, TaskStatusFailure, TaskStatusRevoked:
		return true
	}
	return false
}

type TaskStatus struct {
	StartTimestamp  metav1.Time    `json:"startTimestamp,omitempty"`
	FinishTimestamp metav1.Time    `json:"finishTimestamp,omitempty"`
	Status          TaskStatusCode `json:"status,omitempty"`
	Result          []interface{}  `json:"result,omitempty"`
	Executer        string         `json:"executer,omitempty"`
	Message         string         `json:"message,omitempty"`
	Retries         int            `json:"retries,omitempty"`
}

// UnitState is the record kept for every unit under its task id.
type UnitState struct {
	ID       string     `json:"id"`
	TaskUID  string     `json:"taskUID,omitempty"`
	Name     string     `json:"name,omitempty"`
	Function string     `json:"function,omitempty"`
	Status   TaskStatus `json:"status"`
}

// ErrorRequest is passed as the first argument to a task's error handler.
type ErrorRequest struct {
	TaskUID  string            `json:"taskUID,omitempty"`
	TaskID   string            `json:"taskID"` // id of the failed unit
	Name     string            `json:"name,omitempty"`
	Function string            `json:"function,omitempty"`
	Args     []json.RawMessage `json:"args,omitempty"`
	Error    string            `json:"error"`
}

type Signal string

const (
	SignalTerm Signal = "SIGTERM"
	SignalKill Signal = "SIGKILL"
)

type controlMessage struct {
	ID     string `json:"id"`
	Signal Signal `json:"signal"`
}
