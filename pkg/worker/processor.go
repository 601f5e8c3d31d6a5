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

package worker

import (
	"context"

	"cutout.io/cutout/pkg/log"
	"cutout.io/cutout/pkg/utils/workflow"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

type Tasker interface {
	ProvideFuntions() map[string]interface{}
}

// CronTasker is implemented by taskers that also run on a schedule.
type CronTasker interface {
	Crontasks() map[string]workflow.Task // cron expression -> task
}

type CronTask struct {
	CronExp string
	Task    workflow.Task
}

// Locker elects the single process allowed to trigger the cron tasks.
type Locker interface {
	Hold(ctx context.Context, onAcquired func(ctx context.Context)) error
}

type ProcessorContext struct {
	Logger    logr.Logger
	server    *workflow.Server
	client    *workflow.Client
	lock      Locker
	crontasks []CronTask
}

func NewProcessorContext(ctx context.Context, server *workflow.Server, lock Locker) *ProcessorContext {
	return &ProcessorContext{
		server:    server,
		client:    server.NewClient(),
		lock:      lock,
		crontasks: []CronTask{},
		Logger:    log.FromContextOrDiscard(ctx),
	}
}

func (p *ProcessorContext) RegisterTasker(taskers ...Tasker) error {
	for _, t := range taskers {
		if cront, ok := t.(CronTasker); ok {
			for cronexp, task := range cront.Crontasks() {
				p.crontasks = append(p.crontasks, CronTask{CronExp: cronexp, Task: task})
			}
		}
		for k, v := range t.ProvideFuntions() {
			if err := p.server.Register(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *ProcessorContext) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return p.server.Run(ctx)
	})
	eg.Go(func() error {
		return p.RunCronTasksWithLock(ctx)
	})
	return eg.Wait()
}

// RunCronTasksWithLock triggers the cron tasks on one worker only. Workers
// without the lock wait until the holder goes away.
func (p *ProcessorContext) RunCronTasksWithLock(ctx context.Context) error {
	for {
		err := p.lock.Hold(ctx, func(ctx context.Context) {
			p.Logger.Info("acquired cron lock", "tasks", len(p.crontasks))
			cron := workflow.NewCronSubmiter(p.client)
			for _, crontask := range p.crontasks {
				if err := cron.SubmitCronTask(ctx, crontask.Task, crontask.CronExp); err != nil {
					p.Logger.Error(err, "submit crontask failed", "exp", crontask.CronExp)
				}
			}
			_ = cron.Run(ctx)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		p.Logger.Info("lost cron lock, waiting for it again")
	}
}
