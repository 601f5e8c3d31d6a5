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
	"fmt"
	"os"
	"reflect"
	"sync"
	"time"

	"cutout.io/cutout/pkg/log"
	"cutout.io/cutout/pkg/utils/retry"
	"github.com/go-logr/logr"
	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

var ErrRevoked = errors.New("task revoked")

// UnitError is returned when a unit failed after all of its attempts.
type UnitError struct {
	Step *jsonArgsStep
	Err  error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("step %s [%s]: %v", e.Step.Name, e.Step.ID, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

type Server struct {
	backend    Backend
	registered map[string]interface{}
	executerid string
	options    *Options

	runninglock sync.Mutex
	running     map[string]context.CancelCauseFunc
}

func NewServerFromRedisClient(cli *redis.Client, options *Options) *Server {
	return NewServerFromBackend(NewRedisBackendFromClient(cli), options)
}

func NewServerFromBackend(backend Backend, options *Options) *Server {
	if options == nil {
		options = NewDefaultOptions()
	}
	executerid, _ := os.Hostname()
	return &Server{
		backend:    backend,
		registered: map[string]interface{}{},
		executerid: executerid,
		options:    options,
		running:    map[string]context.CancelCauseFunc{},
	}
}

func (s *Server) NewClient() *Client {
	return NewClientFromBackend(s.backend, s.options)
}

// Run consumes tasks once the control channel is subscribed, so a terminate
// request never arrives before this server can act on it.
func (s *Server) Run(ctx context.Context) error {
	log := log.FromContextOrDiscard(ctx)
	eg, ctx := errgroup.WithContext(ctx)

	subscribed := make(chan struct{})
	once := sync.Once{}
	eg.Go(func() error {
		return retry.WithBackoff(ctx, retry.DefaultBackoff, retry.NotContextCancelError, func(ctx context.Context) error {
			log.Info("starting control listener...")
			onSubscribed := WithOnSubscribed(func() { once.Do(func() { close(subscribed) }) })
			if err := s.backend.Listen(ctx, controlChannel, s.control, onSubscribed); err != nil {
				log.Error(err, "listen failed, retry...")
				return err
			}
			return nil
		})
	})
	eg.Go(func() error {
		select {
		case <-subscribed:
		case <-ctx.Done():
			return nil
		}
		return retry.WithBackoff(ctx, retry.DefaultBackoff, retry.NotContextCancelError, func(ctx context.Context) error {
			log.Info("starting work consumer...")
			if err := s.backend.Sub(ctx, submitQueue, s.consume, WithConcurrency(s.options.Concurrency), WithAutoACK(true)); err != nil {
				log.Error(err, "subscribe failed, retry...")
				return err
			}
			return nil
		})
	})
	return eg.Wait()
}

func (s *Server) Register(name string, fun interface{}) error {
	t := reflect.ValueOf(fun).Type()
	if t.Kind() != reflect.Func {
		return fmt.Errorf("name [%s] fun [%v] not a function", name, fun)
	}
	if _, ok := s.registered[name]; ok {
		return fmt.Errorf("name [%s] fun [%v] already registered", name, fun)
	}
	s.registered[name] = fun
	return nil
}

func (s *Server) control(ctx context.Context, _ string, val []byte) error {
	msg := controlMessage{}
	if err := json.Unmarshal(val, &msg); err != nil {
		return err
	}
	s.runninglock.Lock()
	cancel, ok := s.running[msg.ID]
	s.runninglock.Unlock()
	if ok {
		log.FromContextOrDiscard(ctx).Info("terminating running step", "id", msg.ID, "signal", msg.Signal)
		cancel(ErrRevoked)
	}
	return nil
}

func (s *Server) track(id string, cancel context.CancelCauseFunc) func() {
	s.runninglock.Lock()
	s.running[id] = cancel
	s.runninglock.Unlock()
	return func() {
		s.runninglock.Lock()
		delete(s.running, id)
		s.runninglock.Unlock()
	}
}

// runningTask guards a task whose steps may be updated from parallel branches.
type runningTask struct {
	mu   sync.Mutex
	task *jsonArgsTask
}

func (s *Server) consume(ctx context.Context, _ string, val []byte) error {
	log := log.FromContextOrDiscard(ctx)

	task := &jsonArgsTask{}
	if err := json.Unmarshal(val, task); err != nil {
		log.Error(err, "decode task")
		return nil // ignore error
	}
	log = log.WithValues("name", task.Name, "uid", task.UID)
	log.Info("consume task")
	ctx = WithValues(ctx, task.Addtionals)
	ctx = logr.NewContext(ctx, log)

	rt := &runningTask{task: task}
	s.updateTask(ctx, rt, func() {
		task.Status = TaskStatus{Status: TaskStatusStarted, StartTimestamp: metav1.Now(), Executer: s.executerid}
	})

	err := s.runSteps(ctx, rt, task.Steps, false)
	switch {
	case err == nil:
		log.Info("finished task")
		s.updateTask(ctx, rt, func() { s.finish(&task.Status, TaskStatusSuccess, "") })
	case errors.Is(err, ErrRevoked):
		log.Info("task revoked")
		s.updateTask(ctx, rt, func() { s.finish(&task.Status, TaskStatusRevoked, err.Error()) })
	default:
		log.Error(err, "task failed")
		s.updateTask(ctx, rt, func() { s.finish(&task.Status, TaskStatusFailure, err.Error()) })
		s.handleError(ctx, rt, err)
	}
	return nil
}

func (s *Server) finish(status *TaskStatus, code TaskStatusCode, message string) {
	status.Status = code
	status.Message = message
	status.FinishTimestamp = metav1.Now()
}

// handleError runs the error handler of the task with an ErrorRequest describing
// the failure prepended to its own arguments.
func (s *Server) handleError(ctx context.Context, rt *runningTask, cause error) {
	onerror := rt.task.OnError
	if onerror == nil || onerror.Function == "" {
		return
	}
	req := ErrorRequest{TaskUID: rt.task.UID, Error: cause.Error()}
	var uniterr *UnitError
	if errors.As(cause, &uniterr) {
		req.TaskID = uniterr.Step.ID
		req.Name = uniterr.Step.Name
		req.Function = uniterr.Step.Function
		req.Args = uniterr.Step.Args
		req.Error = uniterr.Err.Error()
	}
	content, err := json.Marshal(req)
	if err != nil {
		log.FromContextOrDiscard(ctx).Error(err, "encode error request")
		return
	}
	onerror.Args = append([]json.RawMessage{content}, onerror.Args...)
	if err := s.runUnit(ctx, rt, onerror); err != nil {
		log.FromContextOrDiscard(ctx).Error(err, "error handler failed", "function", onerror.Function)
	}
}

func (s *Server) runSteps(ctx context.Context, rt *runningTask, steps []*jsonArgsStep, parallel bool) error {
	if parallel {
		eg, ctx := errgroup.WithContext(ctx)
		for _, step := range steps {
			step := step
			eg.Go(func() error { return s.runStep(ctx, rt, step) })
		}
		return eg.Wait()
	}
	for _, step := range steps {
		if err := s.runStep(ctx, rt, step); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) runStep(ctx context.Context, rt *runningTask, step *jsonArgsStep) error {
	if step.Function != "" {
		if err := s.runUnit(ctx, rt, step); err != nil {
			return err
		}
	}
	if len(step.SubSteps) == 0 {
		return nil
	}
	if step.Function == "" {
		s.updateTask(ctx, rt, func() {
			step.Status = TaskStatus{Status: TaskStatusStarted, StartTimestamp: metav1.Now(), Executer: s.executerid}
		})
	}
	err := s.runSteps(ctx, rt, step.SubSteps, step.Parallel)
	if step.Function == "" {
		s.updateTask(ctx, rt, func() {
			switch {
			case err == nil:
				s.finish(&step.Status, TaskStatusSuccess, "")
			case errors.Is(err, ErrRevoked):
				s.finish(&step.Status, TaskStatusRevoked, err.Error())
			default:
				s.finish(&step.Status, TaskStatusFailure, err.Error())
			}
		})
	}
	return err
}

func (s *Server) runUnit(ctx context.Context, rt *runningTask, step *jsonArgsStep) error {
	log := log.FromContextOrDiscard(ctx).WithValues("step", step.Name, "id", step.ID)

	unitctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	untrack := s.track(step.ID, cancel)
	defer untrack()

	if s.isRevoked(ctx, step.ID) {
		log.Info("skip revoked step")
		s.setUnitStatus(ctx, rt, step, func(st *TaskStatus) { s.finish(st, TaskStatusRevoked, ErrRevoked.Error()) })
		return ErrRevoked
	}
	go s.watchRevoked(unitctx, step.ID, cancel)
	s.setUnitStatus(ctx, rt, step, func(st *TaskStatus) {
		*st = TaskStatus{Status: TaskStatusReceived, Executer: s.executerid}
	})

	for attempt := 0; ; attempt++ {
		s.setUnitStatus(ctx, rt, step, func(st *TaskStatus) {
			st.Status = TaskStatusStarted
			st.StartTimestamp = metav1.Now()
			st.Retries = attempt
		})
		result, err := s.execute(unitctx, step)
		if err == nil {
			s.setUnitStatus(ctx, rt, step, func(st *TaskStatus) {
				st.Result = result
				s.finish(st, TaskStatusSuccess, "")
			})
			return nil
		}
		if errors.Is(context.Cause(unitctx), ErrRevoked) {
			log.Info("step terminated")
			s.setUnitStatus(ctx, rt, step, func(st *TaskStatus) { s.finish(st, TaskStatusRevoked, ErrRevoked.Error()) })
			return ErrRevoked
		}
		if attempt < step.Retries && unitctx.Err() == nil {
			log.Error(err, "step failed, retry", "attempt", attempt+1, "retries", step.Retries)
			s.setUnitStatus(ctx, rt, step, func(st *TaskStatus) {
				st.Status = TaskStatusRetry
				st.Message = err.Error()
			})
			select {
			case <-unitctx.Done():
			case <-time.After(s.options.RetryInterval):
			}
			continue
		}
		s.setUnitStatus(ctx, rt, step, func(st *TaskStatus) { s.finish(st, TaskStatusFailure, err.Error()) })
		return &UnitError{Step: step, Err: err}
	}
}

// watchRevoked stops a running unit once it is marked revoked. It catches
// terminate requests broadcast while the control listener was down.
func (s *Server) watchRevoked(ctx context.Context, id string, cancel context.CancelCauseFunc) {
	interval := s.options.RevokeCheckInterval
	if interval <= 0 {
		interval = DefaultRevokeCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.isRevoked(ctx, id) {
				log.FromContextOrDiscard(ctx).Info("terminating revoked step", "id", id)
				cancel(ErrRevoked)
				return
			}
		}
	}
}

func (s *Server) isRevoked(ctx context.Context, id string) bool {
	_, err := s.backend.Get(ctx, revokedKeyPrefix+id)
	return err == nil
}

func (s *Server) setUnitStatus(ctx context.Context, rt *runningTask, step *jsonArgsStep, update func(st *TaskStatus)) {
	var state UnitState
	s.updateTask(ctx, rt, func() {
		update(&step.Status)
		state = UnitState{ID: step.ID, TaskUID: rt.task.UID, Name: step.Name, Function: step.Function, Status: step.Status}
	})
	content, err := json.Marshal(state)
	if err != nil {
		log.FromContextOrDiscard(ctx).Error(err, "encode step state")
		return
	}
	if err := s.backend.Put(ctx, stateKeyPrefix+step.ID, content, s.options.ResultTTL); err != nil {
		log.FromContextOrDiscard(ctx).Error(err, "save step state", "id", step.ID)
	}
}

func (s *Server) updateTask(ctx context.Context, rt *runningTask, update func()) {
	rt.mu.Lock()
	update()
	content, err := json.Marshal(rt.task)
	rt.mu.Unlock()
	if err != nil {
		log.FromContextOrDiscard(ctx).Error(err, "encode task")
		return
	}
	if err := s.backend.Put(ctx, taskKey(rt.task.Group, rt.task.Name, rt.task.UID), content, s.options.ResultTTL); err != nil {
		log.FromContextOrDiscard(ctx).Error(err, "save task")
	}
}

func (s *Server) execute(ctx context.Context, step *jsonArgsStep) (results []interface{}, err error) {
	timeout := step.Timeout
	if timeout == 0 {
		timeout = s.options.StepTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := log.FromContextOrDiscard(ctx)
	log.Info("executing", "step", step.Name, "func", step.Function)

	fun, ok := s.registered[step.Function]
	if !ok {
		return nil, fmt.Errorf("func %s not registered", step.Function)
	}

	defer func() {
		if e := recover(); e != nil {
			log.Info("executed panic", "step", step.Name, "func", step.Function, "err", e)
			switch e := e.(type) {
			default:
				err = fmt.Errorf("failed to execute: %v", e)
			case error:
				err = e
			case string:
				err = errors.New(e)
			}
		}
	}()

	funv := reflect.ValueOf(fun)
	funt := funv.Type()

	argsv := []reflect.Value{}
	argsi := 0
	for i := 0; i < funt.NumIn(); i++ {
		argt := funt.In(i)

		// a leading context.Context parameter receives the step context
		if i == 0 && argt.Implements(reflect.TypeOf((*context.Context)(nil)).Elem()) {
			argsv = append(argsv, reflect.ValueOf(ctx))
			continue
		}

		argp := reflect.New(argt)
		// missing arguments are zero values
		if argsi < len(step.Args) {
			if err := json.Unmarshal(step.Args[argsi], argp.Interface()); err != nil {
				return nil, fmt.Errorf("decode argument %d of %s: %w", argsi, step.Function, err)
			}
		}
		argsv = append(argsv, argp.Elem())
		argsi++
	}

	var rvs []reflect.Value
	if funt.IsVariadic() {
		rvs = funv.CallSlice(argsv)
	} else {
		rvs = funv.Call(argsv)
	}
	errorType := reflect.TypeOf((*error)(nil)).Elem()
	for i, result := range rvs {
		// a trailing error is the step error, not a result
		if i == len(rvs)-1 && funt.Out(i) == errorType {
			if !result.IsNil() {
				err = result.Interface().(error)
			}
			continue
		}
		if result.Kind() == reflect.Ptr && result.IsNil() {
			results = append(results, nil)
			continue
		}
		results = append(results, reflect.Indirect(result).Interface())
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	log.Info("executed", "step", step.Name, "func", step.Function, "error", err)
	return results, err
}

func ValueFromContext(ctx context.Context, key string) string {
	if val, ok := ctx.Value(key).(string); ok {
		return val
	}
	return ""
}

func WithValues(ctx context.Context, kvs map[string]string) context.Context {
	if len(kvs) == 0 {
		return ctx
	}
	return &RuntimeValuesContext{Context: ctx, kvs: kvs}
}

// RuntimeValuesContext exposes the additionals of a task as string keyed context values.
type RuntimeValuesContext struct {
	context.Context
	kvs map[string]string
}

func (c *RuntimeValuesContext) Value(key interface{}) interface{} {
	if kk, ok := key.(string); ok {
		if v, ok := c.kvs[kk]; ok {
			return v
		}
	}
	return c.Context.Value(key)
}
