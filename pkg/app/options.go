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

package app

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/numaproj/keyflow/pkg/checkpoint"
	"github.com/numaproj/keyflow/pkg/checkpoint/store"
	"github.com/numaproj/keyflow/pkg/membership"
	"github.com/numaproj/keyflow/pkg/shuffle"
	"github.com/numaproj/keyflow/pkg/stream"
	"github.com/numaproj/keyflow/pkg/transport"
	"github.com/numaproj/keyflow/pkg/unit"
)

// DefaultEvictionSchedule is the cron schedule of the TTL sweeps.
const DefaultEvictionSchedule = "@every 10s"

type options struct {
	store            store.StateStore
	transport        transport.Transport
	membership       membership.Provider
	hash             shuffle.HashAlgorithm
	evictionSchedule string
	checkpointOpts   []checkpoint.Option
	streamOpts       []stream.Option
	unitOverrides    func(name string) ([]unit.Option, error)
	onStop           []func() error
	clock            func() time.Time
}

// Option to configure an application
type Option func(*options) error

// DefaultOptions returns the default options
func DefaultOptions() *options {
	return &options{
		hash:             shuffle.HashXXHash64,
		evictionSchedule: DefaultEvictionSchedule,
		clock:            time.Now,
	}
}

// WithStateStore sets the store of the checkpoints, an in memory store by default. The application
// closes it on Stop, or when Build fails.
func WithStateStore(s store.StateStore) Option {
	return func(o *options) error {
		o.store = s
		return nil
	}
}

// WithTransport connects the application to its other partitions. The application closes it
// on Stop, or when Build fails.
func WithTransport(t transport.Transport) Option {
	return func(o *options) error {
		o.transport = t
		return nil
	}
}

// WithMembership sets the topology used to place keys, the static topology of the transport by default.
func WithMembership(p membership.Provider) Option {
	return func(o *options) error {
		o.membership = p
		return nil
	}
}

// WithHashAlgorithm sets the hash placing keys on partitions and checkpoints on storage workers
func WithHashAlgorithm(algo shuffle.HashAlgorithm) Option {
	return func(o *options) error {
		o.hash = algo
		return nil
	}
}

// WithEvictionSchedule sets the cron schedule of the TTL sweeps
func WithEvictionSchedule(schedule string) Option {
	return func(o *options) error {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("invalid eviction schedule %q, %w", schedule, err)
		}
		o.evictionSchedule = schedule
		return nil
	}
}

// WithCheckpointOptions configures the checkpoint manager
func WithCheckpointOptions(opts ...checkpoint.Option) Option {
	return func(o *options) error {
		o.checkpointOpts = append(o.checkpointOpts, opts...)
		return nil
	}
}

// WithStreamOptions configures every stream router
func WithStreamOptions(opts ...stream.Option) Option {
	return func(o *options) error {
		o.streamOpts = append(o.streamOpts, opts...)
		return nil
	}
}

// WithUnitOverrides sets a lookup of option overrides per unit type name, applied after the declared ones
func WithUnitOverrides(f func(name string) ([]unit.Option, error)) Option {
	return func(o *options) error {
		o.unitOverrides = f
		return nil
	}
}

// WithOnStop registers a function called at the end of Stop, in registration order
func WithOnStop(f func() error) Option {
	return func(o *options) error {
		o.onStop = append(o.onStop, f)
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
