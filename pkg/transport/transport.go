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

// Package transport defines how serialized events travel between the partitions of an application.
package transport

import (
	"context"
)

// Sender delivers serialized events to other partitions.
type Sender interface {
	// Send hands data to partition and returns false if it could not, the caller then keeps the event.
	Send(ctx context.Context, partition int, data []byte) bool
}

// Receiver reads the events sent to the local partition.
type Receiver interface {
	// Receive blocks until an event arrives. It returns nil, nil when ctx is done.
	Receive(ctx context.Context) ([]byte, error)
}

// Transport connects one partition to the others.
type Transport interface {
	Sender
	Receiver
	PartitionCount() int
	LocalPartition() int
	Close() error
}
