// Copyright 2025
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package data

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy describes how a remote call is retried: exponential backoff
// with jitter, bounded by a fixed attempt count. Calls are synchronous; the
// last error is returned once attempts are exhausted.
type RetryPolicy struct {
	MaxAttempts uint64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterRatio float64
}

// DefaultRetryPolicy mirrors the fetch defaults: 3 attempts, 1s base delay
// doubling to at most 60s, 10% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		JitterRatio: 0.1,
	}
}

// Do invokes op until it succeeds, the attempt budget is spent, or ctx is
// cancelled.
func (policy RetryPolicy) Do(ctx context.Context, op func() error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.BaseDelay
	expo.MaxInterval = policy.MaxDelay
	expo.Multiplier = 2
	expo.RandomizationFactor = policy.JitterRatio
	expo.MaxElapsedTime = 0

	var schedule backoff.BackOff = expo
	if policy.MaxAttempts > 0 {
		schedule = backoff.WithMaxRetries(schedule, policy.MaxAttempts-1)
	}
	return backoff.Retry(op, backoff.WithContext(schedule, ctx))
}
