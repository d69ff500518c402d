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

package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/numaproj/keyflow/pkg/event"
	"github.com/numaproj/keyflow/pkg/unit"
)

// Partitioner maps keys to the partitions of the cluster.
type Partitioner interface {
	PartitionFor(key string) int
	PartitionCount() int
	LocalPartition() int
}

// Sender hands serialized events to the partition owning them. It returns false when the event
// can not be sent, the router then processes it locally.
type Sender interface {
	Send(ctx context.Context, partition int, data []byte) bool
}

type options struct {
	// capacity of the inbound queue
	capacity int
	// sendTimeout bounds the wait of a producer on a full queue
	sendTimeout time.Duration
	// drain processes the queued events on Stop instead of discarding them
	drain        bool
	partitioner  Partitioner
	sender       Sender
	codec        *event.Codec
	emitter      unit.Emitter
	checkpointer unit.Checkpointer
	clock        func() time.Time
}

// Option to apply to the router
type Option func(*options) error

// DefaultOptions returns the default options
func DefaultOptions() *options {
	return &options{
		capacity:    1000,
		sendTimeout: time.Second,
		drain:       true,
		clock:       time.Now,
	}
}

// WithCapacity sets the size of the inbound queue
func WithCapacity(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return fmt.Errorf("queue capacity should be positive, got %d", n)
		}
		o.capacity = n
		return nil
	}
}

// WithSendTimeout sets how long a producer waits on a full queue before the event is dropped
func WithSendTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("send timeout should be positive")
		}
		o.sendTimeout = d
		return nil
	}
}

// WithDrainOnStop sets whether Stop processes or discards the queued events
func WithDrainOnStop(drain bool) Option {
	return func(o *options) error {
		o.drain = drain
		return nil
	}
}

// WithRemote enables the delivery of events owned by other partitions
func WithRemote(p Partitioner, s Sender, codec *event.Codec) Option {
	return func(o *options) error {
		if p == nil || s == nil || codec == nil {
			return fmt.Errorf("remote delivery needs a partitioner, a sender and a codec")
		}
		o.partitioner = p
		o.sender = s
		o.codec = codec
		return nil
	}
}

// WithEmitter sets the emitter given to the handlers
func WithEmitter(e unit.Emitter) Option {
	return func(o *options) error {
		o.emitter = e
		return nil
	}
}

// WithCheckpointer sets the checkpointer used by the checkpoint policies and the handlers
func WithCheckpointer(c unit.Checkpointer) Option {
	return func(o *options) error {
		o.checkpointer = c
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
