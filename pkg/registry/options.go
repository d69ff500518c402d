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

package registry

import (
	"fmt"
	"time"

	"github.com/numaproj/keyflow/pkg/unit"
)

type options struct {
	recoverer    Recoverer
	checkpointer unit.Checkpointer
	clock        func() time.Time
}

// Option to configure a Manager
type Option func(*options) error

// DefaultOptions returns the default options
func DefaultOptions() *options {
	return &options{clock: time.Now}
}

// WithRecoverer sets the component restoring the state of new instances
func WithRecoverer(r Recoverer) Option {
	return func(o *options) error {
		o.recoverer = r
		return nil
	}
}

// WithCheckpointer sets the component saving dirty instances before eviction
func WithCheckpointer(c unit.Checkpointer) Option {
	return func(o *options) error {
		o.checkpointer = c
		return nil
	}
}

// WithClock overrides the time source, used by tests
func WithClock(clock func() time.Time) Option {
	return func(o *options) error {
		if clock == nil {
			return fmt.Errorf("clock can not be nil")
		}
		o.clock = clock
		return nil
	}
}
