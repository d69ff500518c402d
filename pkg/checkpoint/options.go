/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package checkpoint

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/numaproj/keyflow/pkg/shared/util"
	"github.com/numaproj/keyflow/pkg/shuffle"
)

type options struct {
	// workers is the number of storage goroutines
	workers int
	// queueSize bounds the pending saves of each worker
	queueSize int
	// saveTimeout bounds one save including its retries
	saveTimeout time.Duration
	saveBackoff wait.Backoff
	// recoveryTimeout bounds the fetch of one checkpoint
	recoveryTimeout time.Duration
	// maxConcurrentFetches bounds the fetches in flight, including the abandoned ones
	maxConcurrentFetches int64
	// maxConsecutiveFetchFailures disables fetching for fetchDisabledDuration, zero never disables
	maxConsecutiveFetchFailures int
	fetchDisabledDuration       time.Duration
	hashAlgorithm               shuffle.HashAlgorithm
	clock                       func() time.Time
}

// Option to apply to the checkpoint manager
type Option func(*options) error

// DefaultOptions returns the default options
func DefaultOptions() *options {
	return &options{
		workers:                     4,
		queueSize:                   1000,
		saveTimeout:                 5 * time.Second,
		saveBackoff:                 util.ShortRetryBackoff,
		recoveryTimeout:             time.Second,
		maxConcurrentFetches:        16,
		maxConsecutiveFetchFailures: 10,
		fetchDisabledDuration:       10 * time.Minute,
		hashAlgorithm:               shuffle.HashXXHash64,
		clock:                       time.Now,
	}
}

// WithWorkers sets the number of storage workers and the queue size of each
func WithWorkers(workers, queueSize int) Option {
	return func(o *options) error {
		if workers < 1 || queueSize < 1 {
			return fmt.Errorf("workers and queue size should be positive, got %d and %d", workers, queueSize)
		}
		o.workers = workers
		o.queueSize = queueSize
		return nil
	}
}

// WithSaveTimeout sets the deadline of one save
func WithSaveTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("save timeout should be positive")
		}
		o.saveTimeout = d
		return nil
	}
}

// WithSaveBackoff sets the retry policy of failed saves
func WithSaveBackoff(b wait.Backoff) Option {
	return func(o *options) error {
		o.saveBackoff = b
		return nil
	}
}

// WithRecoveryTimeout sets the bound of a checkpoint fetch
func WithRecoveryTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("recovery timeout should be positive")
		}
		o.recoveryTimeout = d
		return nil
	}
}

// WithMaxConcurrentFetches bounds the fetches in flight
func WithMaxConcurrentFetches(n int64) Option {
	return func(o *options) error {
		if n < 1 {
			return fmt.Errorf("max concurrent fetches should be positive, got %d", n)
		}
		o.maxConcurrentFetches = n
		return nil
	}
}

// WithFetchBreaker disables fetching for d after n consecutive failures, n = 0 never disables
func WithFetchBreaker(n int, d time.Duration) Option {
	return func(o *options) error {
		if n < 0 || d < 0 {
			return fmt.Errorf("fetch breaker settings can not be negative")
		}
		o.maxConsecutiveFetchFailures = n
		o.fetchDisabledDuration = d
		return nil
	}
}

// WithHashAlgorithm sets the hash assigning ids to storage workers
func WithHashAlgorithm(algo shuffle.HashAlgorithm) Option {
	return func(o *options) error {
		o.hashAlgorithm = algo
		return nil
	}
}

// WithClock overrides time.Now, for tests
func WithClock(clock func() time.Time) Option {
	return func(o *options) error {
		if clock == nil {
			return fmt.Errorf("clock can not be nil")
		}
		o.clock = clock
		return nil
	}
}
