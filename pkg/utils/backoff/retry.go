/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package backoff

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry executes an operation with exponential backoff retry logic.
// It retries the operation with exponential backoff intervals until the
// operation succeeds or the maximum elapsed time is reached.
func Retry(op backoff.Operation, maxElapsedTime, maxInterval time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsedTime
	b.MaxInterval = maxInterval
	if err := backoff.Retry(op, b); err != nil {
		return err
	}
	return nil
}

// RetryOn executes an operation with fixed-interval retry logic gated by a
// predicate. It retries the operation a fixed number of times with a fixed
// interval between attempts, but only continues retrying while shouldRetry
// accepts the error. Non-matching errors or reaching the maximum retry count
// stop the loop.
func RetryOn(op backoff.Operation, shouldRetry func(error) bool, count int, interval time.Duration) error {
	for i := 0; i < count; i++ {
		err := op()
		if err == nil {
			break
		}
		if i == count-1 || !shouldRetry(err) {
			return err
		}
		time.Sleep(interval)
	}
	return nil
}
