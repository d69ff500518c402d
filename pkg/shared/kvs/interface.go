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

// Package kvs defines the key-value store shared by the checkpoint kv store and the membership provider.
package kvs

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by GetValue and DeleteKey when the key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// Store is a bucket of byte values. Implementations are safe for concurrent use.
type Store interface {
	GetAllKeys(context.Context) ([]string, error)
	// DeleteKey returns ErrKeyNotFound for a missing key.
	DeleteKey(context.Context, string) error
	PutKV(context.Context, string, []byte) error
	// GetValue returns ErrKeyNotFound for a missing key.
	GetValue(context.Context, string) ([]byte, error)
	// GetStoreName returns the bucket name.
	GetStoreName() string
	// Watch streams the current entries as puts, followed by every later change. The channel is closed
	// when ctx is done or the store is closed.
	Watch(context.Context) <-chan Entry
	Close()
}

// Op is the kind of change seen by a watcher.
type Op int64

const (
	OpPut Op = iota
	OpDelete
	// OpPurge is only reported by JetStream buckets.
	OpPurge
)

func (op Op) String() string {
	switch op {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpPurge:
		return "purge"
	default:
		return "unknown"
	}
}

// Entry is one change read from a watch channel.
type Entry interface {
	Key() string
	Value() []byte
	Operation() Op
}

// WatchUntilDone calls f for every entry of w until the channel is closed or ctx is done.
func WatchUntilDone(ctx context.Context, w <-chan Entry, f func(Entry)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-w:
			if !ok {
				return
			}
			f(e)
		}
	}
}
