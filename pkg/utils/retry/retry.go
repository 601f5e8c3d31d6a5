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

package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

var DefaultBackoff = wait.Backoff{
	Steps:    math.MaxInt32,   // max attempts
	Duration: 5 * time.Second, // base interval
	Factor:   1.1,             // each wait is the previous one times factor
	Jitter:   0.1,
}

// ShortBackoff fits calls against the object store and the broker.
var ShortBackoff = wait.Backoff{
	Steps:    4,
	Duration: 200 * time.Millisecond,
	Factor:   2,
	Jitter:   0.1,
}

func AlwaysError(err error) bool { return true }

func Always(fn func() error) error {
	return OnError(NotContextCancelError, fn)
}

func OnError(isRetry func(error) bool, fn func() error) error {
	return WithBackoff(context.Background(), DefaultBackoff, isRetry, func(context.Context) error { return fn() })
}

// WithBackoff calls fn until it succeeds, isRetry rejects the error, the backoff
// runs out of steps or ctx is done. The last error from fn is returned.
func WithBackoff(ctx context.Context, backoff wait.Backoff, isRetry func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		switch err := fn(ctx); {
		case err == nil:
			return true, nil
		case isRetry(err):
			lastErr = err
			return false, nil
		default:
			return false, err
		}
	})
	if wait.Interrupted(err) && lastErr != nil {
		err = lastErr
	}
	return err
}

func NotContextCancelError(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
